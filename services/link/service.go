package link

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"affiliate-controlplane/pkg/config"
	"affiliate-controlplane/pkg/db/option"
	"affiliate-controlplane/pkg/errutil"
	"affiliate-controlplane/pkg/hashing"
	"affiliate-controlplane/pkg/repository"
	"affiliate-controlplane/services/notification"
	"affiliate-controlplane/services/partner"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const shortCodeSuffixLength = 6

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	partner  *partner.Service
	prober   *Prober
	notifier *notification.Service

	alertRecipient string

	link repository.Repository[Link]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Partner  *partner.Service
	Prober   *Prober
	Notifier *notification.Service `optional:"true"`
	Config   *config.Config        `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	s := &Service{
		db:       p.DB,
		node:     p.Node,
		partner:  p.Partner,
		prober:   p.Prober,
		notifier: p.Notifier,

		link: repository.ProvideStore[Link](p.DB),
	}
	if p.Config != nil {
		s.alertRecipient = p.Config.Affiliate.AlertRecipient
	}
	return s
}

type CreateLinkRequest struct {
	PartnerID     string            `json:"partner_id"`
	ProductID     string            `json:"product_id"`
	OriginalURL   string            `json:"original_url"`
	PlacementType PlacementType     `json:"placement_type"`
	UTMParams     map[string]string `json:"utm_params"`
	ExpiresAt     *time.Time        `json:"expires_at"`
}

// Create builds a short code from a partner slug prefix, an optional product
// fragment and a random suffix, then derives the tracking URL by appending
// UTM parameters and ref=<code> to the original URL.
func (s *Service) Create(ctx context.Context, req CreateLinkRequest) (*Link, error) {
	p, err := s.partner.GetPartner(ctx, req.PartnerID)
	if err != nil {
		return nil, err
	}

	code := slug.Make(p.CompanyName)

	if req.ProductID != "" {
		product, err := s.partner.GetProduct(ctx, req.ProductID)
		if err != nil {
			return nil, err
		}
		if product.PartnerID != p.ID {
			return nil, errutil.ValidationFailed("product does not belong to partner")
		}
		fragment := product.Slug
		if fragment == "" {
			fragment = slug.Make(product.Name)
		}
		code += "-" + fragment
	}

	suffix, err := hashing.ShortCode(shortCodeSuffixLength)
	if err != nil {
		return nil, errutil.Internal("failed to generate short code", errutil.WithErr(err))
	}
	code += "-" + suffix

	trackingURL, err := buildTrackingURL(req.OriginalURL, code, req.UTMParams)
	if err != nil {
		return nil, err
	}

	var utmJSON datatypes.JSON
	if len(req.UTMParams) > 0 {
		raw, err := json.Marshal(req.UTMParams)
		if err != nil {
			return nil, errutil.Internal("failed to encode utm params", errutil.WithErr(err))
		}
		utmJSON = datatypes.JSON(raw)
	}

	placement := req.PlacementType
	if placement == "" {
		placement = PlacementUnknown
	}

	l := &Link{
		ID:            s.node.Generate().String(),
		ShortCode:     code,
		PartnerID:     req.PartnerID,
		ProductID:     req.ProductID,
		OriginalURL:   req.OriginalURL,
		TrackingURL:   trackingURL,
		PlacementType: placement,
		Status:        LinkStatusActive,
		UTMParams:     utmJSON,
		ExpiresAt:     req.ExpiresAt,
	}

	if err := s.link.Create(ctx, l); err != nil {
		zap.L().Error("failed to create link", zap.String("partner_id", req.PartnerID), zap.Error(err))
		return nil, err
	}

	return l, nil
}

func buildTrackingURL(original, code string, utm map[string]string) (string, error) {
	u, err := url.Parse(original)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", errutil.ValidationFailed("original_url must be an absolute URL")
	}

	q := u.Query()
	for k, v := range utm {
		q.Set(k, v)
	}
	q.Set("ref", code)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// ResolveShortCode returns the link for a code, or NotFound.
func (s *Service) ResolveShortCode(ctx context.Context, code string) (*Link, error) {
	if code == "" {
		return nil, errutil.BadRequest("short code is required")
	}

	exist, err := s.link.FindOne(ctx, &Link{ShortCode: code})
	if err != nil {
		zap.L().Error("failed to resolve short code", zap.String("short_code", code), zap.Error(err))
		return nil, err
	}

	if exist == nil {
		return nil, errutil.NotFound("link not found")
	}

	return exist, nil
}

// ResolveByID returns the link by primary id, or NotFound.
func (s *Service) ResolveByID(ctx context.Context, linkID string) (*Link, error) {
	if linkID == "" {
		return nil, errutil.BadRequest("link_id is required")
	}

	exist, err := s.link.FindOne(ctx, &Link{ID: linkID})
	if err != nil {
		return nil, err
	}
	if exist == nil {
		return nil, errutil.NotFound("link not found")
	}
	return exist, nil
}

// Validate re-checks link and partner state on every call; redirect gating
// must never serve a stale verdict. Returns Gone for expired or paused links.
func (s *Service) Validate(ctx context.Context, code string) (*Link, error) {
	l, err := s.ResolveShortCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if l.Status != LinkStatusActive || l.IsExpired(time.Now()) {
		return nil, errutil.Gone("link is no longer active")
	}

	p, err := s.partner.GetPartner(ctx, l.PartnerID)
	if err != nil {
		return nil, err
	}

	if p.Status != partner.PartnerStatusActive {
		return nil, errutil.Gone("partner is not active")
	}

	return l, nil
}

// IncrementClicks bumps the click counter with a single UPDATE so concurrent
// increments never lose updates.
func (s *Service) IncrementClicks(ctx context.Context, linkID string) error {
	return s.increment(ctx, linkID, "total_clicks")
}

func (s *Service) IncrementConversions(ctx context.Context, linkID string) error {
	return s.increment(ctx, linkID, "total_conversions")
}

func (s *Service) increment(ctx context.Context, linkID, column string) error {
	if linkID == "" {
		return errutil.BadRequest("link_id is required")
	}

	result := s.db.WithContext(ctx).
		Model(&Link{}).
		Where("id = ?", linkID).
		UpdateColumn(column, gorm.Expr(column+" + ?", 1))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errutil.NotFound("link not found")
	}
	return nil
}

func (s *Service) List(ctx context.Context, partnerID string, limit int) ([]*Link, error) {
	query := &Link{}
	if partnerID != "" {
		query.PartnerID = partnerID
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.link.Find(ctx, query,
		option.WithLimit(limit),
		option.WithSortBy(option.QuerySortBy{OrderBy: "DESC"}),
	)
}

func (s *Service) Pause(ctx context.Context, linkID string) error {
	return s.setStatus(ctx, linkID, LinkStatusPaused)
}

func (s *Service) Expire(ctx context.Context, linkID string) error {
	return s.setStatus(ctx, linkID, LinkStatusExpired)
}

func (s *Service) setStatus(ctx context.Context, linkID string, status LinkStatus) error {
	exist, err := s.link.FindOne(ctx, &Link{ID: linkID})
	if err != nil {
		return err
	}
	if exist == nil {
		return errutil.NotFound("link not found")
	}
	return s.link.Update(ctx, linkID, map[string]any{"status": status})
}
