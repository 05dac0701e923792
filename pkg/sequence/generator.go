package sequence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"affiliate-controlplane/pkg/hashing"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

// Generator hands out human-readable reference codes for payouts and
// postback transactions. Codes are unique per UTC day.
type Generator interface {
	NextPayoutCode(ctx context.Context, partnerID string) (string, error)
	NextPostbackRef(ctx context.Context, partnerID string) (string, error)
}

type RedisGenerator struct {
	rdb *redis.Client
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb: p.Redis,
	}
}

func (g *RedisGenerator) NextPayoutCode(ctx context.Context, partnerID string) (string, error) {
	return g.nextDailyCode(ctx, "PAY", partnerID)
}

func (g *RedisGenerator) NextPostbackRef(ctx context.Context, partnerID string) (string, error) {
	return g.nextDailyCode(ctx, "PB", partnerID)
}

func (g *RedisGenerator) nextDailyCode(ctx context.Context, prefix, partnerID string) (string, error) {
	today := time.Now().UTC().Format("060102")
	key := fmt.Sprintf("seq:%s:%s:%s", prefix, partnerID, today)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}

	if seq == 1 {
		expire := time.Until(time.Now().Truncate(24 * time.Hour).Add(24*time.Hour - time.Second))
		_ = g.rdb.Expire(ctx, key, expire).Err()
	}

	encodedSeq := strings.ToUpper(fmt.Sprintf("%03s", strconv.FormatInt(seq, 36)))

	suffix, err := hashing.ShortCode(2)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s-%s-%s%s", prefix, today, encodedSeq, strings.ToUpper(suffix)), nil
}
