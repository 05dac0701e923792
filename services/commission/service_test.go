package commission

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"affiliate-controlplane/services/click"
	"affiliate-controlplane/services/fraud"
	"affiliate-controlplane/services/partner"
	"affiliate-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fixture struct {
	svc     *Service
	partner *partner.Service
	click   *click.Service
	db      *gorm.DB
}

// countingSequence hands out deterministic reference codes without redis.
type countingSequence struct {
	n int
}

func (s *countingSequence) NextPayoutCode(ctx context.Context, partnerID string) (string, error) {
	s.n++
	return fmt.Sprintf("PAY-TEST-%04d", s.n), nil
}

func (s *countingSequence) NextPostbackRef(ctx context.Context, partnerID string) (string, error) {
	s.n++
	return fmt.Sprintf("PB-TEST-%04d", s.n), nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&partner.Partner{}, &partner.Product{}, &partner.Campaign{},
		&click.Click{}, &Conversion{}, &Payout{},
	)

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	partnerSvc := partner.NewService(partner.ServiceParams{DB: db, Node: node})
	clickSvc := click.NewService(click.ServiceParams{DB: db, Node: node})
	fraudSvc := fraud.NewService(fraud.ServiceParams{DB: db})

	svc := NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Sequence: &countingSequence{},
		Partner:  partnerSvc,
		Click:    clickSvc,
		Fraud:    fraudSvc,
	})

	return &fixture{svc: svc, partner: partnerSvc, click: clickSvc, db: db}
}

func (f *fixture) seedPartner(t *testing.T, commissionType partner.CommissionType, rate, threshold float64) *partner.Partner {
	t.Helper()

	p := &partner.Partner{
		ID:                 fmt.Sprintf("partner-%s-%d", commissionType, time.Now().UnixNano()),
		CompanyName:        "Acme Media",
		CommissionType:     commissionType,
		CommissionRate:     rate,
		Status:             partner.PartnerStatusActive,
		MinPayoutThreshold: threshold,
	}
	require.NoError(t, f.db.Create(p).Error)
	return p
}

func (f *fixture) seedApprovedConversions(t *testing.T, partnerID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, f.db.Create(&Conversion{
			ID:          fmt.Sprintf("seed-%s-%d", partnerID, i),
			PartnerID:   partnerID,
			Status:      ConversionStatusApproved,
			ConvertedAt: time.Now(),
		}).Error)
	}
}

func TestCalculateRounding(t *testing.T) {
	f := newFixture(t)
	p := f.seedPartner(t, partner.CommissionTypePercentage, 10, 0)

	calc, err := f.svc.Calculate(context.Background(), p.ID, 99.999, "", "")
	require.NoError(t, err)
	require.Equal(t, 10.00, calc.Amount)
}

func TestCalculateNeverNegative(t *testing.T) {
	require.Equal(t, 0.0, roundAmount(-5))
	require.Equal(t, 12.35, roundAmount(12.345))
}

func TestCalculateFixedType(t *testing.T) {
	f := newFixture(t)
	p := f.seedPartner(t, partner.CommissionTypeFixed, 25, 0)

	// flat amount regardless of sale value
	calc, err := f.svc.Calculate(context.Background(), p.ID, 9999, "", "")
	require.NoError(t, err)
	require.Equal(t, 25.0, calc.Amount)
}

func TestCalculateProductOverrideReplacesBase(t *testing.T) {
	f := newFixture(t)
	p := f.seedPartner(t, partner.CommissionTypePercentage, 10, 0)

	override := 20.0
	product := &partner.Product{
		ID:                 "product-1",
		PartnerID:          p.ID,
		Name:               "Sequencing Kit",
		CommissionOverride: &override,
		Status:             partner.ProductStatusActive,
	}
	require.NoError(t, f.db.Create(product).Error)

	calc, err := f.svc.Calculate(context.Background(), p.ID, 100, product.ID, "")
	require.NoError(t, err)
	require.Equal(t, 20.0, calc.Rate)
	require.Equal(t, 20.0, calc.Amount)
}

func TestCalculateCampaignBonusAdds(t *testing.T) {
	f := newFixture(t)
	p := f.seedPartner(t, partner.CommissionTypePercentage, 10, 0)

	bonus := 5.0
	start := time.Now().Add(-time.Hour)
	end := time.Now().Add(time.Hour)
	campaign := &partner.Campaign{
		ID:        "campaign-1",
		Name:      "Summer Launch",
		Status:    partner.CampaignStatusActive,
		StartDate: &start,
		EndDate:   &end,
		BonusRate: &bonus,
	}
	require.NoError(t, f.db.Create(campaign).Error)

	calc, err := f.svc.Calculate(context.Background(), p.ID, 100, "", campaign.ID)
	require.NoError(t, err)
	require.Equal(t, 15.0, calc.Rate)
	require.Equal(t, 15.0, calc.Amount)
}

func TestCalculateExpiredCampaignIgnored(t *testing.T) {
	f := newFixture(t)
	p := f.seedPartner(t, partner.CommissionTypePercentage, 10, 0)

	bonus := 5.0
	start := time.Now().Add(-48 * time.Hour)
	end := time.Now().Add(-24 * time.Hour)
	campaign := &partner.Campaign{
		ID:        "campaign-expired",
		Name:      "Last Season",
		Status:    partner.CampaignStatusActive,
		StartDate: &start,
		EndDate:   &end,
		BonusRate: &bonus,
	}
	require.NoError(t, f.db.Create(campaign).Error)

	calc, err := f.svc.Calculate(context.Background(), p.ID, 100, "", campaign.ID)
	require.NoError(t, err)
	require.Equal(t, 10.0, calc.Rate)
}

func TestTierBonusBoundaries(t *testing.T) {
	cases := []struct {
		approved int
		bonus    float64
	}{
		{10, 0},
		{11, 2},
		{50, 2},
		{51, 5},
		{100, 5},
		{101, 8},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(fmt.Sprintf("approved_%d", tc.approved), func(t *testing.T) {
			f := newFixture(t)
			p := f.seedPartner(t, partner.CommissionTypeTiered, 10, 0)
			f.seedApprovedConversions(t, p.ID, tc.approved)

			calc, err := f.svc.Calculate(context.Background(), p.ID, 100, "", "")
			require.NoError(t, err)
			require.Equal(t, tc.bonus, calc.Tier)
			require.Equal(t, 10.0+tc.bonus, calc.Rate)
		})
	}
}

func TestRecordStartsPending(t *testing.T) {
	f := newFixture(t)
	p := f.seedPartner(t, partner.CommissionTypePercentage, 10, 0)

	c, err := f.svc.Record(context.Background(), RecordRequest{
		PartnerID:  p.ID,
		OrderID:    "order-1",
		SaleAmount: 100,
	})
	require.NoError(t, err)
	require.Equal(t, ConversionStatusPending, c.Status)
	require.Equal(t, PayoutStatusUnpaid, c.PayoutStatus)
	require.Equal(t, ValidationManual, c.ValidationMethod)
	require.Equal(t, 10.0, c.CommissionAmount)
}

func TestRecordPostbackValidationMethod(t *testing.T) {
	f := newFixture(t)
	p := f.seedPartner(t, partner.CommissionTypePercentage, 10, 0)

	tracked, err := f.click.Track(context.Background(), click.TrackRequest{
		LinkID:    "link-1",
		PartnerID: p.ID,
		SessionID: "sess-1",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	})
	require.NoError(t, err)

	c, err := f.svc.Record(context.Background(), RecordRequest{
		ClickID:    tracked.ID,
		PartnerID:  p.ID,
		OrderID:    "order-2",
		SaleAmount: 100,
	})
	require.NoError(t, err)
	require.Equal(t, ValidationPostback, c.ValidationMethod)

	// back-reference set on the click
	got, err := f.click.GetClick(context.Background(), tracked.ID)
	require.NoError(t, err)
	require.Equal(t, c.ID, got.ConversionID)
}

func TestRecordBlockedByFraud(t *testing.T) {
	f := newFixture(t)
	p := f.seedPartner(t, partner.CommissionTypePercentage, 10, 0)

	// existing conversion makes the order id a duplicate: +50, plus no click +30
	require.NoError(t, f.db.Create(&Conversion{
		ID:        "conv-existing",
		PartnerID: p.ID,
		OrderID:   "order-dup",
		Status:    ConversionStatusPending,
	}).Error)

	c, err := f.svc.Record(context.Background(), RecordRequest{
		PartnerID:  p.ID,
		OrderID:    "order-dup",
		SaleAmount: 100,
	})
	require.NoError(t, err)
	require.Equal(t, ConversionStatusRejected, c.Status)
	require.Contains(t, c.Notes, "duplicate order id")
	require.GreaterOrEqual(t, c.FraudScore, 50)
}

func TestApproveRejectLifecycle(t *testing.T) {
	f := newFixture(t)
	p := f.seedPartner(t, partner.CommissionTypePercentage, 10, 0)
	ctx := context.Background()

	c, err := f.svc.Record(ctx, RecordRequest{PartnerID: p.ID, OrderID: "order-3", SaleAmount: 100})
	require.NoError(t, err)

	require.NoError(t, f.svc.Approve(ctx, c.ID, "looks good"))

	got, err := f.svc.GetConversion(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, ConversionStatusApproved, got.Status)
	require.NotNil(t, got.ApprovedAt)

	// approving twice is a state error
	require.Error(t, f.svc.Approve(ctx, c.ID, ""))
	// rejecting an approved conversion is a state error
	require.Error(t, f.svc.Reject(ctx, c.ID, ""))
}

func TestReversePaidConversionFails(t *testing.T) {
	f := newFixture(t)
	p := f.seedPartner(t, partner.CommissionTypePercentage, 10, 0)
	ctx := context.Background()

	require.NoError(t, f.db.Create(&Conversion{
		ID:           "conv-paid",
		PartnerID:    p.ID,
		Status:       ConversionStatusApproved,
		PayoutStatus: PayoutStatusPaid,
		ConvertedAt:  time.Now(),
	}).Error)

	err := f.svc.Reverse(ctx, "conv-paid", "chargeback")
	require.Error(t, err)

	got, err := f.svc.GetConversion(ctx, "conv-paid")
	require.NoError(t, err)
	require.Equal(t, ConversionStatusApproved, got.Status)
}

func TestProcessPostbackIdempotent(t *testing.T) {
	f := newFixture(t)
	p := f.seedPartner(t, partner.CommissionTypePercentage, 10, 0)
	ctx := context.Background()

	first, err := f.svc.ProcessPostback(ctx, PostbackRequest{
		OrderID:   "order-pb",
		Amount:    100,
		PartnerID: p.ID,
	})
	require.NoError(t, err)
	require.True(t, first.Success)
	require.NotEmpty(t, first.ConversionID)

	second, err := f.svc.ProcessPostback(ctx, PostbackRequest{
		OrderID:   "order-pb",
		Amount:    100,
		PartnerID: p.ID,
	})
	require.NoError(t, err)
	require.False(t, second.Success)
	require.Equal(t, first.ConversionID, second.ConversionID)

	var count int64
	require.NoError(t, f.db.Model(&Conversion{}).Where("order_id = ?", "order-pb").Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestProcessPostbackStampsTransactionRef(t *testing.T) {
	f := newFixture(t)
	p := f.seedPartner(t, partner.CommissionTypePercentage, 10, 0)
	ctx := context.Background()

	result, err := f.svc.ProcessPostback(ctx, PostbackRequest{
		OrderID:   "order-no-ref",
		Amount:    100,
		PartnerID: p.ID,
	})
	require.NoError(t, err)

	c, err := f.svc.GetConversion(ctx, result.ConversionID)
	require.NoError(t, err)
	require.Contains(t, c.TransactionID, "PB-TEST-")

	// a partner-supplied reference is kept as-is
	supplied, err := f.svc.ProcessPostback(ctx, PostbackRequest{
		OrderID:       "order-with-ref",
		TransactionID: "txn-partner-77",
		Amount:        100,
		PartnerID:     p.ID,
	})
	require.NoError(t, err)

	c, err = f.svc.GetConversion(ctx, supplied.ConversionID)
	require.NoError(t, err)
	require.Equal(t, "txn-partner-77", c.TransactionID)
}

func TestProcessPostbackLastClickAttribution(t *testing.T) {
	f := newFixture(t)
	p := f.seedPartner(t, partner.CommissionTypePercentage, 10, 0)
	ctx := context.Background()

	tracked, err := f.click.Track(ctx, click.TrackRequest{
		LinkID:    "link-1",
		PartnerID: p.ID,
		SessionID: "sess-attr",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	})
	require.NoError(t, err)

	result, err := f.svc.ProcessPostback(ctx, PostbackRequest{
		OrderID:   "order-attr",
		Amount:    100,
		SessionID: "sess-attr",
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	c, err := f.svc.GetConversion(ctx, result.ConversionID)
	require.NoError(t, err)
	require.Equal(t, tracked.ID, c.ClickID)
	require.Equal(t, p.ID, c.PartnerID)
	require.Equal(t, ValidationPostback, c.ValidationMethod)
}
