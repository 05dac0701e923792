package link

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"affiliate-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// CounterPayload carries the link id for a counter-increment task.
type CounterPayload struct {
	LinkID string `json:"link_id"`
}

func (s *Service) HandleIncrementClicks(ctx context.Context, t *asynq.Task) error {
	var payload CounterPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	return s.IncrementClicks(ctx, payload.LinkID)
}

func (s *Service) HandleIncrementConversions(ctx context.Context, t *asynq.Task) error {
	var payload CounterPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	return s.IncrementConversions(ctx, payload.LinkID)
}

func (s *Service) HandleHealthSweep(ctx context.Context, t *asynq.Task) error {
	unhealthy, err := s.CheckAllLinksHealth(ctx)
	if err != nil {
		return err
	}

	for _, result := range unhealthy {
		zap.L().Warn("link target unhealthy",
			zap.String("link_id", result.LinkID),
			zap.String("url", result.URL),
			zap.Int("status_code", result.StatusCode),
		)
	}

	if len(unhealthy) > 0 {
		s.alertUnhealthy(ctx, unhealthy)
	}

	return nil
}

// alertUnhealthy sends one digest per sweep rather than a message per link.
func (s *Service) alertUnhealthy(ctx context.Context, results []HealthResult) {
	if s.notifier == nil || s.alertRecipient == "" {
		return
	}

	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "%s (%s) returned status %d\n", r.LinkID, r.URL, r.StatusCode)
	}

	s.notifier.Notify(ctx, s.alertRecipient,
		fmt.Sprintf("%d affiliate links failing health checks", len(results)),
		b.String(),
	)
}

// RegisterHandlers wires the link task handlers onto the worker mux.
func RegisterHandlers(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.LinkIncrementClicks, s.HandleIncrementClicks)
	mux.HandleFunc(taskname.LinkIncrementConversions, s.HandleIncrementConversions)
	mux.HandleFunc(taskname.LinkHealthSweep, s.HandleHealthSweep)
}
