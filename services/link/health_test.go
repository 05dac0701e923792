package link

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"affiliate-controlplane/pkg/config"
	"affiliate-controlplane/pkg/taskname"
	"affiliate-controlplane/services/notification"
	"affiliate-controlplane/services/partner"
	"affiliate-controlplane/services/testutil"
)

type captureEnqueuer struct {
	tasks []*asynq.Task
}

func (e *captureEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func newProberService(t *testing.T, timeout time.Duration) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &partner.Partner{}, &partner.Product{}, &Link{})
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	partnerSvc := partner.NewService(partner.ServiceParams{DB: db, Node: node})
	prober := &Prober{
		client:      &http.Client{Timeout: timeout},
		concurrency: 4,
	}

	return NewService(ServiceParams{DB: db, Node: node, Partner: partnerSvc, Prober: prober}), db
}

func TestProberCheck(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()

	missing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer missing.Close()

	svc, _ := newProberService(t, 2*time.Second)
	ctx := context.Background()

	status, healthy := svc.prober.Check(ctx, ok.URL)
	require.Equal(t, http.StatusOK, status)
	require.True(t, healthy)

	status, healthy = svc.prober.Check(ctx, missing.URL)
	require.Equal(t, http.StatusNotFound, status)
	require.False(t, healthy)

	// network failure yields status 0
	status, healthy = svc.prober.Check(ctx, "http://127.0.0.1:1")
	require.Zero(t, status)
	require.False(t, healthy)
}

func TestProberFollowsRedirects(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	redirecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusMovedPermanently)
	}))
	defer redirecting.Close()

	svc, _ := newProberService(t, 2*time.Second)

	status, healthy := svc.prober.Check(context.Background(), redirecting.URL)
	require.Equal(t, http.StatusOK, status)
	require.True(t, healthy)
}

func TestCheckAllLinksHealthReturnsUnhealthySubset(t *testing.T) {
	healthyTarget := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthyTarget.Close()

	brokenTarget := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer brokenTarget.Close()

	svc, db := newProberService(t, 2*time.Second)
	ctx := context.Background()

	require.NoError(t, db.Create(&Link{
		ID: "link-healthy", ShortCode: "h", PartnerID: "p", OriginalURL: healthyTarget.URL,
		TrackingURL: healthyTarget.URL, Status: LinkStatusActive,
	}).Error)
	require.NoError(t, db.Create(&Link{
		ID: "link-broken", ShortCode: "b", PartnerID: "p", OriginalURL: brokenTarget.URL,
		TrackingURL: brokenTarget.URL, Status: LinkStatusActive,
	}).Error)
	require.NoError(t, db.Create(&Link{
		ID: "link-paused", ShortCode: "x", PartnerID: "p", OriginalURL: "http://127.0.0.1:1",
		TrackingURL: "http://127.0.0.1:1", Status: LinkStatusPaused,
	}).Error)

	unhealthy, err := svc.CheckAllLinksHealth(ctx)
	require.NoError(t, err)
	require.Len(t, unhealthy, 1)
	require.Equal(t, "link-broken", unhealthy[0].LinkID)
	require.Equal(t, http.StatusInternalServerError, unhealthy[0].StatusCode)
}

func TestHealthSweepNotifiesUnhealthy(t *testing.T) {
	healthyTarget := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthyTarget.Close()

	brokenTarget := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer brokenTarget.Close()

	db := testutil.NewTestDB(t, &partner.Partner{}, &partner.Product{}, &Link{}, &notification.Notification{})
	node, err := snowflake.NewNode(9)
	require.NoError(t, err)

	enq := &captureEnqueuer{}
	notifier := notification.NewService(notification.ServiceParams{DB: db, Node: node, Enqueuer: enq})
	partnerSvc := partner.NewService(partner.ServiceParams{DB: db, Node: node})

	cfg := &config.Config{}
	cfg.Affiliate.AlertRecipient = "ops@example.com"

	svc := NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Partner:  partnerSvc,
		Prober:   &Prober{client: &http.Client{Timeout: 2 * time.Second}, concurrency: 4},
		Notifier: notifier,
		Config:   cfg,
	})
	ctx := context.Background()

	require.NoError(t, db.Create(&Link{
		ID: "link-ok", ShortCode: "ok", PartnerID: "p", OriginalURL: healthyTarget.URL,
		TrackingURL: healthyTarget.URL, Status: LinkStatusActive,
	}).Error)

	// an all-healthy sweep stays quiet
	require.NoError(t, svc.HandleHealthSweep(ctx, asynq.NewTask(taskname.LinkHealthSweep, nil)))
	require.Empty(t, enq.tasks)

	require.NoError(t, db.Create(&Link{
		ID: "link-broken", ShortCode: "bk", PartnerID: "p", OriginalURL: brokenTarget.URL,
		TrackingURL: brokenTarget.URL, Status: LinkStatusActive,
	}).Error)

	require.NoError(t, svc.HandleHealthSweep(ctx, asynq.NewTask(taskname.LinkHealthSweep, nil)))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, taskname.NotifySend, enq.tasks[0].Type())

	var payload notification.SendPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, "ops@example.com", payload.Recipient)
	require.Contains(t, payload.Subject, "1 affiliate links failing")
	require.Contains(t, payload.Body, "link-broken")
}
