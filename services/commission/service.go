package commission

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"affiliate-controlplane/pkg/db/option"
	"affiliate-controlplane/pkg/errutil"
	"affiliate-controlplane/pkg/repository"
	"affiliate-controlplane/pkg/sequence"
	"affiliate-controlplane/pkg/task"
	"affiliate-controlplane/pkg/taskname"
	"affiliate-controlplane/services/click"
	"affiliate-controlplane/services/fraud"
	"affiliate-controlplane/services/partner"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Tier bonuses keyed by the partner's approved conversion count in the
// current calendar month. Boundaries are strict greater-than.
const (
	tierOneMin   = 10
	tierTwoMin   = 50
	tierThreeMin = 100

	tierOneBonus   = 2.0
	tierTwoBonus   = 5.0
	tierThreeBonus = 8.0
)

var postbacksDeduped = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "affiliate_postbacks_deduped_total",
	Help: "Postbacks answered with an existing conversion id.",
})

func init() {
	prometheus.MustRegister(postbacksDeduped)
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	seq      sequence.Generator
	partner  *partner.Service
	click    *click.Service
	fraud    *fraud.Service
	enqueuer task.Enqueuer

	conversion repository.Repository[Conversion]
	payout     repository.Repository[Payout]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Sequence sequence.Generator `optional:"true"`
	Partner  *partner.Service
	Click    *click.Service
	Fraud    *fraud.Service
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		seq:      p.Sequence,
		partner:  p.Partner,
		click:    p.Click,
		fraud:    p.Fraud,
		enqueuer: p.Enqueuer,

		conversion: repository.ProvideStore[Conversion](p.DB),
		payout:     repository.ProvideStore[Payout](p.DB),
	}
}

type Calculation struct {
	Rate   float64 `json:"rate"`
	Amount float64 `json:"amount"`
	Tier   float64 `json:"tier_bonus"`
}

// Calculate resolves the effective commission for a sale. A product override
// replaces the base rate, an active campaign bonus adds to it, and tiered
// partners earn a volume bonus from this month's approved conversions.
func (s *Service) Calculate(ctx context.Context, partnerID string, saleAmount float64, productID, campaignID string) (*Calculation, error) {
	p, err := s.partner.GetPartner(ctx, partnerID)
	if err != nil {
		return nil, err
	}

	rate := p.CommissionRate

	if productID != "" {
		product, err := s.partner.GetProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		if product.CommissionOverride != nil {
			rate = *product.CommissionOverride
		}
	}

	if campaignID != "" {
		campaign, err := s.partner.ActiveCampaignFor(ctx, campaignID, partnerID)
		if err != nil {
			return nil, err
		}
		if campaign != nil && campaign.BonusRate != nil {
			rate += *campaign.BonusRate
		}
	}

	var tierBonus float64
	if p.CommissionType == partner.CommissionTypeTiered {
		bonus, err := s.tierBonus(ctx, partnerID)
		if err != nil {
			return nil, err
		}
		tierBonus = bonus
		rate += bonus
	}

	var amount float64
	if p.CommissionType == partner.CommissionTypeFixed {
		// flat currency amount per conversion, not a percentage
		amount = p.CommissionRate
	} else {
		amount = saleAmount * rate / 100
	}

	return &Calculation{
		Rate:   rate,
		Amount: roundAmount(amount),
		Tier:   tierBonus,
	}, nil
}

func (s *Service) tierBonus(ctx context.Context, partnerID string) (float64, error) {
	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	count, err := s.conversion.Count(ctx, &Conversion{PartnerID: partnerID, Status: ConversionStatusApproved},
		option.ApplyOperator(option.Condition{Field: "converted_at", Operator: option.GTE, Value: monthStart}),
	)
	if err != nil {
		return 0, err
	}

	switch {
	case count > tierThreeMin:
		return tierThreeBonus, nil
	case count > tierTwoMin:
		return tierTwoBonus, nil
	case count > tierOneMin:
		return tierOneBonus, nil
	default:
		return 0, nil
	}
}

type RecordRequest struct {
	ClickID       string         `json:"click_id"`
	PartnerID     string         `json:"partner_id"`
	ProductID     string         `json:"product_id"`
	CampaignID    string         `json:"campaign_id"`
	OrderID       string         `json:"order_id"`
	TransactionID string         `json:"transaction_id"`
	Type          ConversionType `json:"type"`
	SaleAmount    float64        `json:"sale_amount"`
	Currency      string         `json:"currency"`
}

// Record creates a pending conversion. A fraud recommendation of block does
// not error; the conversion lands rejected with the reasons in its notes so
// the trail is auditable.
func (s *Service) Record(ctx context.Context, req RecordRequest) (*Conversion, error) {
	span := trace.SpanFromContext(ctx)
	fields := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("partner_id", req.PartnerID),
		zap.String("order_id", req.OrderID),
	}

	if req.PartnerID == "" {
		return nil, errutil.BadRequest("partner_id is required")
	}
	if req.SaleAmount < 0 {
		return nil, errutil.ValidationFailed("sale_amount must be non-negative")
	}

	if req.Type == "" {
		req.Type = ConversionTypeSale
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	calc, err := s.Calculate(ctx, req.PartnerID, req.SaleAmount, req.ProductID, req.CampaignID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	score, err := s.fraud.ScoreConversion(ctx, fraud.ConversionInput{
		ClickID:     req.ClickID,
		PartnerID:   req.PartnerID,
		OrderID:     req.OrderID,
		Amount:      req.SaleAmount,
		ConvertedAt: now,
	})
	if err != nil {
		return nil, err
	}

	validation := ValidationManual
	if req.ClickID != "" {
		validation = ValidationPostback
	}

	c := &Conversion{
		ID:               s.node.Generate().String(),
		ClickID:          req.ClickID,
		PartnerID:        req.PartnerID,
		ProductID:        req.ProductID,
		OrderID:          req.OrderID,
		TransactionID:    req.TransactionID,
		Type:             req.Type,
		SaleAmount:       req.SaleAmount,
		Currency:         req.Currency,
		CommissionAmount: calc.Amount,
		Status:           ConversionStatusPending,
		PayoutStatus:     PayoutStatusUnpaid,
		ValidationMethod: validation,
		FraudScore:       score.Score,
		ConvertedAt:      now,
	}

	if score.Recommendation == fraud.RecommendationBlock {
		c.Status = ConversionStatusRejected
		c.Notes = "fraud check: " + strings.Join(score.Reasons, "; ")
	} else if score.Recommendation == fraud.RecommendationReview {
		c.Notes = "flagged for review: " + strings.Join(score.Reasons, "; ")
	}

	if err := s.conversion.Create(ctx, c); err != nil {
		zap.L().With(fields...).Error("failed to create conversion", zap.Error(err))
		return nil, err
	}

	if c.ClickID != "" && c.Status != ConversionStatusRejected {
		if err := s.click.AttachConversion(ctx, c.ClickID, c.ID); err != nil {
			zap.L().With(fields...).Warn("failed to attach conversion to click", zap.Error(err))
		}
		s.enqueueConversionIncrement(ctx, c.ClickID)
	}

	return c, nil
}

func (s *Service) enqueueConversionIncrement(ctx context.Context, clickID string) {
	if s.enqueuer == nil {
		return
	}

	origin, err := s.click.GetClick(ctx, clickID)
	if err != nil {
		return
	}

	payload, _ := json.Marshal(map[string]string{"link_id": origin.LinkID})
	if _, err := s.enqueuer.Enqueue(asynq.NewTask(taskname.LinkIncrementConversions, payload), asynq.Queue("low")); err != nil {
		zap.L().Warn("failed to enqueue conversion counter increment", zap.String("click_id", clickID), zap.Error(err))
	}
}

func (s *Service) GetConversion(ctx context.Context, conversionID string) (*Conversion, error) {
	if conversionID == "" {
		return nil, errutil.BadRequest("conversion_id is required")
	}

	exist, err := s.conversion.FindOne(ctx, &Conversion{ID: conversionID})
	if err != nil {
		return nil, err
	}
	if exist == nil {
		return nil, errutil.NotFound("conversion not found")
	}
	return exist, nil
}

func (s *Service) Approve(ctx context.Context, conversionID, notes string) error {
	c, err := s.GetConversion(ctx, conversionID)
	if err != nil {
		return err
	}

	if c.Status != ConversionStatusPending {
		return errutil.UnprocessableEntity(fmt.Sprintf("cannot approve conversion in status %s", c.Status))
	}

	now := time.Now()
	updates := map[string]any{
		"status":      ConversionStatusApproved,
		"approved_at": &now,
	}
	if notes != "" {
		updates["notes"] = notes
	}

	return s.conversion.Update(ctx, conversionID, updates)
}

func (s *Service) Reject(ctx context.Context, conversionID, notes string) error {
	c, err := s.GetConversion(ctx, conversionID)
	if err != nil {
		return err
	}

	if c.Status != ConversionStatusPending {
		return errutil.UnprocessableEntity(fmt.Sprintf("cannot reject conversion in status %s", c.Status))
	}

	updates := map[string]any{"status": ConversionStatusRejected}
	if notes != "" {
		updates["notes"] = notes
	}

	return s.conversion.Update(ctx, conversionID, updates)
}

// Reverse takes back an approved conversion. Paid conversions are immutable.
func (s *Service) Reverse(ctx context.Context, conversionID, notes string) error {
	c, err := s.GetConversion(ctx, conversionID)
	if err != nil {
		return err
	}

	if c.PayoutStatus == PayoutStatusPaid {
		return errutil.UnprocessableEntity("cannot reverse a paid conversion")
	}
	if c.Status != ConversionStatusApproved {
		return errutil.UnprocessableEntity(fmt.Sprintf("cannot reverse conversion in status %s", c.Status))
	}

	updates := map[string]any{"status": ConversionStatusReversed}
	if notes != "" {
		updates["notes"] = notes
	}

	return s.conversion.Update(ctx, conversionID, updates)
}

type PostbackRequest struct {
	OrderID       string         `json:"order_id"`
	TransactionID string         `json:"transaction_id"`
	Amount        float64        `json:"amount"`
	Currency      string         `json:"currency"`
	Type          ConversionType `json:"type"`
	ClickID       string         `json:"click_id"`
	SessionID     string         `json:"session_id"`
	PartnerID     string         `json:"partner_id"`
	ProductID     string         `json:"product_id"`
	CampaignID    string         `json:"campaign_id"`
}

type PostbackResult struct {
	Success      bool   `json:"success"`
	ConversionID string `json:"conversion_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ProcessPostback is idempotent on order id: a repeat delivery answers with
// the original conversion id instead of creating a duplicate. When no click
// id is supplied, attribution falls back to the session's last click.
func (s *Service) ProcessPostback(ctx context.Context, req PostbackRequest) (*PostbackResult, error) {
	if req.OrderID == "" {
		return nil, errutil.BadRequest("order_id is required")
	}

	exist, err := s.conversion.FindOne(ctx, &Conversion{OrderID: req.OrderID})
	if err != nil {
		return nil, err
	}
	if exist != nil {
		postbacksDeduped.Inc()
		return &PostbackResult{
			Success:      false,
			ConversionID: exist.ID,
			Error:        "order already processed",
		}, nil
	}

	clickID := req.ClickID
	partnerID := req.PartnerID

	if clickID == "" && req.SessionID != "" {
		last, err := s.click.GetLastClick(ctx, req.SessionID, req.PartnerID)
		if err != nil {
			return nil, err
		}
		if last != nil {
			clickID = last.ID
			if partnerID == "" {
				partnerID = last.PartnerID
			}
		}
	} else if clickID != "" && partnerID == "" {
		origin, err := s.click.GetClick(ctx, clickID)
		if err != nil {
			return nil, err
		}
		partnerID = origin.PartnerID
	}

	if partnerID == "" {
		return nil, errutil.BadRequest("partner could not be resolved from postback")
	}

	if req.TransactionID == "" && s.seq != nil {
		ref, err := s.seq.NextPostbackRef(ctx, partnerID)
		if err != nil {
			zap.L().Warn("failed to generate postback ref", zap.String("order_id", req.OrderID), zap.Error(err))
		} else {
			req.TransactionID = ref
		}
	}

	c, err := s.Record(ctx, RecordRequest{
		ClickID:       clickID,
		PartnerID:     partnerID,
		ProductID:     req.ProductID,
		CampaignID:    req.CampaignID,
		OrderID:       req.OrderID,
		TransactionID: req.TransactionID,
		Type:          req.Type,
		SaleAmount:    req.Amount,
		Currency:      req.Currency,
	})
	if err != nil {
		return nil, err
	}

	return &PostbackResult{Success: true, ConversionID: c.ID}, nil
}
