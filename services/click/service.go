package click

import (
	"context"
	"encoding/json"
	"time"

	"affiliate-controlplane/pkg/db/option"
	"affiliate-controlplane/pkg/errutil"
	"affiliate-controlplane/pkg/repository"
	"affiliate-controlplane/pkg/task"
	"affiliate-controlplane/pkg/taskname"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var clicksTracked = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "affiliate_clicks_tracked_total",
	Help: "Clicks recorded, labelled by bot classification.",
}, []string{"is_bot"})

func init() {
	prometheus.MustRegister(clicksTracked)
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	enqueuer task.Enqueuer

	click repository.Repository[Click]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		enqueuer: p.Enqueuer,

		click: repository.ProvideStore[Click](p.DB),
	}
}

type TrackRequest struct {
	LinkID      string
	PartnerID   string
	ProductID   string
	SessionID   string
	IPAddress   string
	UserAgent   string
	Referrer    string
	CountryCode string
}

// Track classifies and anonymizes the click, persists it, then enqueues a
// best-effort counter increment. A failed enqueue never fails the track.
func (s *Service) Track(ctx context.Context, req TrackRequest) (*Click, error) {
	if req.LinkID == "" || req.SessionID == "" {
		return nil, errutil.BadRequest("link_id and session_id are required")
	}

	isBot, signature := DetectBot(req.UserAgent)

	ua := req.UserAgent
	if len(ua) > maxUserAgentLength {
		ua = ua[:maxUserAgentLength]
	}
	referrer := req.Referrer
	if len(referrer) > maxReferrerLength {
		referrer = referrer[:maxReferrerLength]
	}

	c := &Click{
		ID:           s.node.Generate().String(),
		LinkID:       req.LinkID,
		PartnerID:    req.PartnerID,
		ProductID:    req.ProductID,
		SessionID:    req.SessionID,
		IPAddress:    AnonymizeIP(req.IPAddress),
		UserAgent:    ua,
		Referrer:     referrer,
		DeviceType:   DetectDeviceType(req.UserAgent),
		Browser:      DetectBrowser(req.UserAgent),
		OS:           DetectOS(req.UserAgent),
		CountryCode:  req.CountryCode,
		IsBot:        isBot,
		BotSignature: signature,
		ClickedAt:    time.Now(),
	}

	if err := s.click.Create(ctx, c); err != nil {
		zap.L().Error("failed to persist click", zap.String("link_id", req.LinkID), zap.Error(err))
		return nil, err
	}

	clicksTracked.WithLabelValues(boolLabel(isBot)).Inc()

	s.enqueueIncrement(c.LinkID)

	return c, nil
}

func (s *Service) enqueueIncrement(linkID string) {
	if s.enqueuer == nil {
		return
	}

	payload, err := json.Marshal(map[string]string{"link_id": linkID})
	if err != nil {
		return
	}

	if _, err := s.enqueuer.Enqueue(asynq.NewTask(taskname.LinkIncrementClicks, payload), asynq.Queue("low")); err != nil {
		zap.L().Warn("failed to enqueue click counter increment", zap.String("link_id", linkID), zap.Error(err))
	}
}

// HasRecentClick reports whether the session already clicked the link within
// the dedup window.
func (s *Service) HasRecentClick(ctx context.Context, sessionID, linkID string, window time.Duration) (bool, error) {
	if window <= 0 {
		window = DedupWindow
	}

	count, err := s.click.Count(ctx, &Click{SessionID: sessionID, LinkID: linkID},
		option.ApplyOperator(option.Condition{Field: "clicked_at", Operator: option.GTE, Value: time.Now().Add(-window)}),
	)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// GetLastClick implements last-click attribution, bounded to the attribution
// window so stale sessions never earn credit.
func (s *Service) GetLastClick(ctx context.Context, sessionID, partnerID string) (*Click, error) {
	if sessionID == "" {
		return nil, errutil.BadRequest("session_id is required")
	}

	query := &Click{SessionID: sessionID}
	if partnerID != "" {
		query.PartnerID = partnerID
	}

	return s.click.FindOne(ctx, query,
		option.ApplyOperator(option.Condition{Field: "clicked_at", Operator: option.GTE, Value: time.Now().Add(-AttributionWindow)}),
		option.WithSortBy(option.QuerySortBy{SortBy: "clicked_at", OrderBy: "DESC", Allow: map[string]bool{"clicked_at": true}}),
	)
}

func (s *Service) GetSessionClicks(ctx context.Context, sessionID string) ([]*Click, error) {
	if sessionID == "" {
		return nil, errutil.BadRequest("session_id is required")
	}

	return s.click.Find(ctx, &Click{SessionID: sessionID},
		option.ApplyOperator(option.Condition{Field: "clicked_at", Operator: option.GTE, Value: time.Now().Add(-AttributionWindow)}),
		option.WithSortBy(option.QuerySortBy{SortBy: "clicked_at", OrderBy: "DESC", Allow: map[string]bool{"clicked_at": true}}),
	)
}

func (s *Service) GetClick(ctx context.Context, clickID string) (*Click, error) {
	if clickID == "" {
		return nil, errutil.BadRequest("click_id is required")
	}

	exist, err := s.click.FindOne(ctx, &Click{ID: clickID})
	if err != nil {
		return nil, err
	}
	if exist == nil {
		return nil, errutil.NotFound("click not found")
	}
	return exist, nil
}

// AttachConversion sets the conversion back-reference on the click.
func (s *Service) AttachConversion(ctx context.Context, clickID, conversionID string) error {
	if clickID == "" || conversionID == "" {
		return errutil.BadRequest("click_id and conversion_id are required")
	}
	return s.click.Update(ctx, clickID, map[string]any{"conversion_id": conversionID})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
