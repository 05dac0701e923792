package fraud

import (
	"context"
	"errors"
	"strings"
	"time"

	"affiliate-controlplane/pkg/errutil"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Rate limits per trailing hour and score weights. Policy constants, not
// partner-configurable.
const (
	ipClickLimit      = 10
	sessionClickLimit = 20
	linkClickLimit    = 100

	rateWindow = time.Hour

	blockThreshold  = 50
	reviewThreshold = 25

	highValueAmount   = 1000.0
	clickGapLimit     = 30 * 24 * time.Hour
	minDecidedSample  = 10
	rejectionRateMax  = 0.20
	reversalRateMax   = 0.10
	shortUserAgentLen = 20
)

// Automation tool fingerprints, matched case-insensitively, first match wins.
var automationSignatures = []string{
	"selenium",
	"puppeteer",
	"playwright",
	"headless",
	"phantomjs",
	"curl",
	"wget",
	"python-requests",
	"python-urllib",
	"go-http-client",
	"okhttp",
	"java/",
	"scrapy",
	"httpclient",
	"postmanruntime",
}

var (
	clicksBlocked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "affiliate_fraud_clicks_blocked_total",
		Help: "Clicks denied by the fraud scorer.",
	})
	conversionsFlagged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "affiliate_fraud_conversions_flagged_total",
		Help: "Conversion fraud recommendations by outcome.",
	}, []string{"recommendation"})
)

func init() {
	prometheus.MustRegister(clicksBlocked, conversionsFlagged)
}

type Recommendation string

const (
	RecommendationAllow  Recommendation = "allow"
	RecommendationReview Recommendation = "review"
	RecommendationBlock  Recommendation = "block"
)

type ClickCheck struct {
	Allowed bool   `json:"allowed"`
	Score   int    `json:"score"`
	Reason  string `json:"reason,omitempty"`
}

type ConversionScore struct {
	Score          int            `json:"score"`
	Reasons        []string       `json:"reasons"`
	Recommendation Recommendation `json:"recommendation"`
}

// Service scores clicks and conversions. It reads the click and conversion
// tables directly so scoring stays decoupled from the recording services.
type Service struct {
	db *gorm.DB
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB}
}

type ClickInput struct {
	IPAddress string
	SessionID string
	LinkID    string
	UserAgent string
}

// CheckClick computes the additive suspicion score for an incoming click.
// A suspicious click is not an error: the score and reasons always come back,
// and only a score at or above the block threshold denies the click.
func (s *Service) CheckClick(ctx context.Context, in ClickInput) (*ClickCheck, error) {
	if in.SessionID == "" || in.LinkID == "" {
		return nil, errutil.BadRequest("session_id and link_id are required")
	}

	score := 0
	reasons := make([]string, 0, 4)
	since := time.Now().Add(-rateWindow)

	ipCount, err := s.countClicks(ctx, "ip_address", in.IPAddress, since)
	if err != nil {
		return nil, err
	}
	if ipCount >= ipClickLimit {
		score += 40
		reasons = append(reasons, "ip click rate exceeded")
	} else if ipCount >= ipClickLimit/2 {
		score += 20
		reasons = append(reasons, "elevated ip click rate")
	}

	sessionCount, err := s.countClicks(ctx, "session_id", in.SessionID, since)
	if err != nil {
		return nil, err
	}
	if sessionCount >= sessionClickLimit {
		score += 30
		reasons = append(reasons, "session click rate exceeded")
	}

	linkCount, err := s.countClicks(ctx, "link_id", in.LinkID, since)
	if err != nil {
		return nil, err
	}
	if linkCount >= linkClickLimit {
		score += 25
		reasons = append(reasons, "link click rate exceeded")
	}

	if in.UserAgent == "" {
		score += 25
		reasons = append(reasons, "missing user agent")
	} else {
		if len(in.UserAgent) < shortUserAgentLen {
			score += 15
			reasons = append(reasons, "suspiciously short user agent")
		}
		ua := strings.ToLower(in.UserAgent)
		for _, sig := range automationSignatures {
			if strings.Contains(ua, sig) {
				score += 50
				reasons = append(reasons, "automation signature: "+sig)
				break
			}
		}
	}

	check := &ClickCheck{
		Allowed: score < blockThreshold,
		Score:   score,
		Reason:  strings.Join(reasons, "; "),
	}

	if !check.Allowed {
		clicksBlocked.Inc()
		zap.L().Info("click blocked",
			zap.String("session_id", in.SessionID),
			zap.String("link_id", in.LinkID),
			zap.Int("score", score),
			zap.String("reason", check.Reason),
		)
	}

	return check, nil
}

func (s *Service) countClicks(ctx context.Context, column, value string, since time.Time) (int64, error) {
	if value == "" {
		return 0, nil
	}
	var count int64
	err := s.db.WithContext(ctx).
		Table("clicks").
		Where(column+" = ?", value).
		Where("clicked_at >= ?", since).
		Count(&count).Error
	return count, err
}

type ConversionInput struct {
	ClickID     string
	PartnerID   string
	OrderID     string
	Amount      float64
	ConvertedAt time.Time
}

type clickRow struct {
	ID        string    `gorm:"column:id"`
	IsBot     bool      `gorm:"column:is_bot"`
	ClickedAt time.Time `gorm:"column:clicked_at"`
}

// ScoreConversion evaluates a conversion before it is recorded. The caller
// passes the candidate's fields; an existing row with the same order id is a
// hard signal.
func (s *Service) ScoreConversion(ctx context.Context, in ConversionInput) (*ConversionScore, error) {
	if in.PartnerID == "" {
		return nil, errutil.BadRequest("partner_id is required")
	}

	convertedAt := in.ConvertedAt
	if convertedAt.IsZero() {
		convertedAt = time.Now()
	}

	score := 0
	reasons := make([]string, 0, 4)

	var origin *clickRow
	if in.ClickID != "" {
		var row clickRow
		err := s.db.WithContext(ctx).
			Table("clicks").
			Where("id = ?", in.ClickID).
			Take(&row).Error
		switch {
		case err == nil:
			origin = &row
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, err
		}
	}

	if origin == nil {
		score += 30
		reasons = append(reasons, "no associated click")
	} else {
		if convertedAt.Sub(origin.ClickedAt) > clickGapLimit {
			score += 20
			reasons = append(reasons, "click older than attribution window")
		}
		if origin.IsBot {
			score += 40
			reasons = append(reasons, "originating click flagged as bot")
		}
	}

	if in.Amount > highValueAmount {
		score += 10
		reasons = append(reasons, "high value conversion")
	}

	rejectionRate, decided, err := s.partnerRejectionRate(ctx, in.PartnerID)
	if err != nil {
		return nil, err
	}
	if decided >= minDecidedSample && rejectionRate > rejectionRateMax {
		score += 25
		reasons = append(reasons, "partner rejection history")
	}

	if in.OrderID != "" {
		var dupes int64
		err := s.db.WithContext(ctx).
			Table("conversions").
			Where("order_id = ?", in.OrderID).
			Count(&dupes).Error
		if err != nil {
			return nil, err
		}
		if dupes > 0 {
			score += 50
			reasons = append(reasons, "duplicate order id")
		}
	}

	result := &ConversionScore{
		Score:          score,
		Reasons:        reasons,
		Recommendation: RecommendationAllow,
	}
	switch {
	case score >= blockThreshold:
		result.Recommendation = RecommendationBlock
	case score >= reviewThreshold:
		result.Recommendation = RecommendationReview
	}

	conversionsFlagged.WithLabelValues(string(result.Recommendation)).Inc()

	return result, nil
}

func (s *Service) partnerRejectionRate(ctx context.Context, partnerID string) (float64, int64, error) {
	var approved, rejected int64

	if err := s.db.WithContext(ctx).
		Table("conversions").
		Where("partner_id = ? AND status = ?", partnerID, "approved").
		Count(&approved).Error; err != nil {
		return 0, 0, err
	}

	if err := s.db.WithContext(ctx).
		Table("conversions").
		Where("partner_id = ? AND status = ?", partnerID, "rejected").
		Count(&rejected).Error; err != nil {
		return 0, 0, err
	}

	decided := approved + rejected
	if decided == 0 {
		return 0, 0, nil
	}
	return float64(rejected) / float64(decided), decided, nil
}

// PartnerReputation returns a 0-100 trust score derived from the partner's
// conversion history. New partners start at 100.
func (s *Service) PartnerReputation(ctx context.Context, partnerID string) (int, error) {
	if partnerID == "" {
		return 0, errutil.BadRequest("partner_id is required")
	}

	var approved, rejected, reversed, total int64

	counts := []struct {
		status string
		dest   *int64
	}{
		{"approved", &approved},
		{"rejected", &rejected},
		{"reversed", &reversed},
	}
	for _, c := range counts {
		if err := s.db.WithContext(ctx).
			Table("conversions").
			Where("partner_id = ? AND status = ?", partnerID, c.status).
			Count(c.dest).Error; err != nil {
			return 0, err
		}
	}

	if err := s.db.WithContext(ctx).
		Table("conversions").
		Where("partner_id = ?", partnerID).
		Count(&total).Error; err != nil {
		return 0, err
	}

	score := 100

	decided := approved + rejected
	if decided > minDecidedSample {
		approvalRate := float64(approved) / float64(decided)
		if approvalRate < 0.80 {
			score -= 30
		} else if approvalRate < 0.90 {
			score -= 15
		}
	}

	if total > 0 && float64(reversed)/float64(total) > reversalRateMax {
		score -= 25
	}

	if score < 0 {
		score = 0
	}
	return score, nil
}
