package partner

import (
	"context"
	"encoding/json"
	"time"

	"affiliate-controlplane/pkg/errutil"
	"affiliate-controlplane/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	partner  repository.Repository[Partner]
	product  repository.Repository[Product]
	campaign repository.Repository[Campaign]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		partner:  repository.ProvideStore[Partner](p.DB),
		product:  repository.ProvideStore[Product](p.DB),
		campaign: repository.ProvideStore[Campaign](p.DB),
	}
}

func (s *Service) GetPartner(ctx context.Context, partnerID string) (*Partner, error) {
	if partnerID == "" {
		return nil, errutil.BadRequest("partner_id is required")
	}

	exist, err := s.partner.FindOne(ctx, &Partner{ID: partnerID})
	if err != nil {
		zap.L().Error("failed to query partner", zap.String("partner_id", partnerID), zap.Error(err))
		return nil, err
	}

	if exist == nil {
		return nil, errutil.NotFound("partner not found")
	}

	return exist, nil
}

func (s *Service) GetProduct(ctx context.Context, productID string) (*Product, error) {
	if productID == "" {
		return nil, errutil.BadRequest("product_id is required")
	}

	exist, err := s.product.FindOne(ctx, &Product{ID: productID})
	if err != nil {
		zap.L().Error("failed to query product", zap.String("product_id", productID), zap.Error(err))
		return nil, err
	}

	if exist == nil {
		return nil, errutil.NotFound("product not found")
	}

	return exist, nil
}

func (s *Service) GetCampaign(ctx context.Context, campaignID string) (*Campaign, error) {
	if campaignID == "" {
		return nil, errutil.BadRequest("campaign_id is required")
	}

	exist, err := s.campaign.FindOne(ctx, &Campaign{ID: campaignID})
	if err != nil {
		zap.L().Error("failed to query campaign", zap.String("campaign_id", campaignID), zap.Error(err))
		return nil, err
	}

	if exist == nil {
		return nil, errutil.NotFound("campaign not found")
	}

	return exist, nil
}

type CreatePartnerRequest struct {
	CompanyName        string         `json:"company_name"`
	CommissionType     CommissionType `json:"commission_type"`
	CommissionRate     float64        `json:"commission_rate"`
	PaymentMethod      string         `json:"payment_method"`
	MinPayoutThreshold float64        `json:"min_payout_threshold"`
}

func (s *Service) CreatePartner(ctx context.Context, req CreatePartnerRequest) (*Partner, error) {
	if req.CompanyName == "" {
		return nil, errutil.ValidationFailed("company_name is required")
	}

	if req.CommissionType == "" {
		req.CommissionType = CommissionTypePercentage
	}

	switch req.CommissionType {
	case CommissionTypePercentage, CommissionTypeFixed, CommissionTypeTiered, CommissionTypeHybrid:
	default:
		return nil, errutil.ValidationFailed("invalid commission_type")
	}

	if req.CommissionRate < 0 {
		return nil, errutil.ValidationFailed("commission_rate must be non-negative")
	}

	p := &Partner{
		ID:                 s.node.Generate().String(),
		CompanyName:        req.CompanyName,
		CommissionType:     req.CommissionType,
		CommissionRate:     req.CommissionRate,
		PaymentMethod:      req.PaymentMethod,
		Status:             PartnerStatusPending,
		MinPayoutThreshold: req.MinPayoutThreshold,
	}

	if err := s.partner.Create(ctx, p); err != nil {
		zap.L().Error("failed to create partner", zap.Error(err))
		return nil, err
	}

	return p, nil
}

type CreateProductRequest struct {
	PartnerID          string   `json:"partner_id"`
	Name               string   `json:"name"`
	AffiliateURL       string   `json:"affiliate_url"`
	Tags               []string `json:"tags"`
	CommissionOverride *float64 `json:"commission_override"`
}

func (s *Service) CreateProduct(ctx context.Context, req CreateProductRequest) (*Product, error) {
	if req.Name == "" {
		return nil, errutil.ValidationFailed("name is required")
	}

	if req.CommissionOverride != nil && *req.CommissionOverride < 0 {
		return nil, errutil.ValidationFailed("commission_override must be non-negative")
	}

	if _, err := s.GetPartner(ctx, req.PartnerID); err != nil {
		return nil, err
	}

	tags, err := json.Marshal(req.Tags)
	if err != nil {
		return nil, err
	}

	p := &Product{
		ID:                 s.node.Generate().String(),
		PartnerID:          req.PartnerID,
		Name:               req.Name,
		Slug:               slug.Make(req.Name),
		Tags:               datatypes.JSON(tags),
		AffiliateURL:       req.AffiliateURL,
		CommissionOverride: req.CommissionOverride,
		Status:             ProductStatusActive,
	}

	if err := s.product.Create(ctx, p); err != nil {
		zap.L().Error("failed to create product", zap.Error(err))
		return nil, err
	}

	return p, nil
}

type CreateCampaignRequest struct {
	PartnerID    string       `json:"partner_id"`
	Name         string       `json:"name"`
	Type         CampaignType `json:"type"`
	StartDate    *time.Time   `json:"start_date"`
	EndDate      *time.Time   `json:"end_date"`
	BonusRate    *float64     `json:"bonus_rate"`
	DiscountCode string       `json:"discount_code"`
	Budget       float64      `json:"budget"`
}

func (s *Service) CreateCampaign(ctx context.Context, req CreateCampaignRequest) (*Campaign, error) {
	if req.Name == "" {
		return nil, errutil.ValidationFailed("name is required")
	}

	if req.Type == "" {
		req.Type = CampaignTypePromotion
	}

	switch req.Type {
	case CampaignTypeSeasonal, CampaignTypeProductLaunch, CampaignTypePromotion, CampaignTypeEvergreen:
	default:
		return nil, errutil.ValidationFailed("invalid campaign type")
	}

	if req.StartDate != nil && req.EndDate != nil && req.EndDate.Before(*req.StartDate) {
		return nil, errutil.ValidationFailed("end_date must not precede start_date")
	}

	if req.PartnerID != "" {
		if _, err := s.GetPartner(ctx, req.PartnerID); err != nil {
			return nil, err
		}
	}

	c := &Campaign{
		ID:           s.node.Generate().String(),
		PartnerID:    req.PartnerID,
		Name:         req.Name,
		Type:         req.Type,
		Status:       CampaignStatusDraft,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		BonusRate:    req.BonusRate,
		DiscountCode: req.DiscountCode,
		Budget:       req.Budget,
	}

	if err := s.campaign.Create(ctx, c); err != nil {
		zap.L().Error("failed to create campaign", zap.Error(err))
		return nil, err
	}

	return c, nil
}

func (s *Service) UpdateCampaignStatus(ctx context.Context, campaignID string, status CampaignStatus) error {
	switch status {
	case CampaignStatusDraft, CampaignStatusActive, CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusCancelled:
	default:
		return errutil.ValidationFailed("invalid campaign status")
	}

	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return err
	}

	return s.campaign.Update(ctx, campaignID, map[string]any{"status": status})
}

func (s *Service) UpdatePartnerStatus(ctx context.Context, partnerID string, status PartnerStatus) error {
	switch status {
	case PartnerStatusActive, PartnerStatusPending, PartnerStatusPaused, PartnerStatusTerminated:
	default:
		return errutil.ValidationFailed("invalid partner status")
	}

	if _, err := s.GetPartner(ctx, partnerID); err != nil {
		return err
	}

	return s.partner.Update(ctx, partnerID, map[string]any{"status": status})
}

// ActiveCampaignFor returns the campaign when it currently applies to the
// partner, or nil when it is inactive, out of window, or scoped to another
// partner.
func (s *Service) ActiveCampaignFor(ctx context.Context, campaignID, partnerID string) (*Campaign, error) {
	c, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	if c.PartnerID != "" && c.PartnerID != partnerID {
		return nil, nil
	}

	if !c.IsActive(time.Now()) {
		return nil, nil
	}

	return c, nil
}
