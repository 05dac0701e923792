package notification

import (
	"context"
	"encoding/json"

	"affiliate-controlplane/pkg/repository"
	"affiliate-controlplane/pkg/task"
	"affiliate-controlplane/pkg/taskname"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	node     *snowflake.Node
	enqueuer task.Enqueuer

	notification repository.Repository[Notification]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node:     p.Node,
		enqueuer: p.Enqueuer,

		notification: repository.ProvideStore[Notification](p.DB),
	}
}

type SendPayload struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// Notify enqueues a delivery task. Failures are logged and swallowed so a
// notification never aborts the business operation that triggered it.
func (s *Service) Notify(ctx context.Context, recipient, subject, body string) {
	if s.enqueuer == nil || recipient == "" {
		return
	}

	payload, err := json.Marshal(SendPayload{Recipient: recipient, Subject: subject, Body: body})
	if err != nil {
		return
	}

	if _, err := s.enqueuer.Enqueue(asynq.NewTask(taskname.NotifySend, payload), asynq.Queue("low")); err != nil {
		zap.L().Warn("failed to enqueue notification", zap.String("recipient", recipient), zap.Error(err))
	}
}

// HandleSend is the worker-side handler. Delivery transport is out of scope;
// the row plus the log line are the audit trail.
func (s *Service) HandleSend(ctx context.Context, t *asynq.Task) error {
	var payload SendPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}

	row := &Notification{
		ID:        s.node.Generate().String(),
		Recipient: payload.Recipient,
		Subject:   payload.Subject,
		Body:      payload.Body,
		Status:    NotificationStatusSent,
	}

	if err := s.notification.Create(ctx, row); err != nil {
		zap.L().Error("failed to record notification", zap.Error(err))
		return err
	}

	zap.L().Info("notification delivered",
		zap.String("recipient", payload.Recipient),
		zap.String("subject", payload.Subject),
	)

	return nil
}

// RegisterHandlers wires the notification handler onto the worker mux.
func RegisterHandlers(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.NotifySend, s.HandleSend)
}

var Module = fx.Module("notification.service",
	fx.Provide(NewService),
)

var Worker = fx.Module("notification.worker",
	fx.Invoke(RegisterHandlers),
)
