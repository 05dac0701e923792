package db

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"affiliate-controlplane/pkg/config"
)

func TestObservabilityPlugins(t *testing.T) {
	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Database.DBNAME = "affiliate_test"

	require.NoError(t, Otel(gdb))
	require.NoError(t, Metric(gdb, cfg))
	require.Len(t, gdb.Config.Plugins, 2)
}
