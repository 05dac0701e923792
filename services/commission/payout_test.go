package commission

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"affiliate-controlplane/services/partner"
)

func TestCreatePayoutNoEligibleConversions(t *testing.T) {
	f := newFixture(t)
	p := f.seedPartner(t, partner.CommissionTypePercentage, 10, 50)

	_, err := f.svc.CreatePayout(context.Background(), p.ID,
		time.Now().Add(-24*time.Hour), time.Now())
	require.Error(t, err)
}

func TestCreatePayoutBelowThresholdLeavesNoPartialState(t *testing.T) {
	f := newFixture(t)
	p := f.seedPartner(t, partner.CommissionTypePercentage, 10, 50)
	ctx := context.Background()

	require.NoError(t, f.db.Create(&Conversion{
		ID:               "conv-small",
		PartnerID:        p.ID,
		Status:           ConversionStatusApproved,
		PayoutStatus:     PayoutStatusUnpaid,
		CommissionAmount: 20,
		ConvertedAt:      time.Now(),
	}).Error)

	_, err := f.svc.CreatePayout(ctx, p.ID, time.Now().Add(-24*time.Hour), time.Now())
	require.Error(t, err)

	// no payout row and the conversion is untouched
	var payouts int64
	require.NoError(t, f.db.Model(&Payout{}).Count(&payouts).Error)
	require.Zero(t, payouts)

	got, err := f.svc.GetConversion(ctx, "conv-small")
	require.NoError(t, err)
	require.Equal(t, PayoutStatusUnpaid, got.PayoutStatus)
	require.Empty(t, got.PayoutID)
}

func TestPayoutEndToEnd(t *testing.T) {
	f := newFixture(t)
	p := f.seedPartner(t, partner.CommissionTypePercentage, 10, 50)
	ctx := context.Background()

	// two sales of 300 and 400 at 10 percent
	for _, amount := range []float64{300, 400} {
		c, err := f.svc.Record(ctx, RecordRequest{
			PartnerID:  p.ID,
			OrderID:    fmt.Sprintf("order-e2e-%.0f", amount),
			SaleAmount: amount,
		})
		require.NoError(t, err)
		require.NoError(t, f.svc.Approve(ctx, c.ID, ""))
	}

	payout, err := f.svc.CreatePayout(ctx, p.ID, time.Now().Add(-24*time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(2), payout.TotalConversions)
	require.Equal(t, 70.0, payout.TotalCommission)
	require.Equal(t, PayoutStatePending, payout.Status)

	var processing int64
	require.NoError(t, f.db.Model(&Conversion{}).
		Where("payout_id = ? AND payout_status = ?", payout.ID, PayoutStatusProcessing).
		Count(&processing).Error)
	require.Equal(t, int64(2), processing)

	require.NoError(t, f.svc.MarkPayoutProcessing(ctx, payout.ID))

	inFlight, err := f.svc.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	require.Equal(t, PayoutStateProcessing, inFlight.Status)

	// transitions only move forward
	require.Error(t, f.svc.MarkPayoutProcessing(ctx, payout.ID))

	require.NoError(t, f.svc.CompletePayout(ctx, payout.ID, "txn-123"))

	got, err := f.svc.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	require.Equal(t, PayoutStateCompleted, got.Status)
	require.Equal(t, "txn-123", got.TransactionRef)
	require.NotNil(t, got.PaidAt)

	var paid int64
	require.NoError(t, f.db.Model(&Conversion{}).
		Where("payout_id = ? AND payout_status = ?", payout.ID, PayoutStatusPaid).
		Count(&paid).Error)
	require.Equal(t, int64(2), paid)

	// completed payouts are immutable
	require.Error(t, f.svc.CompletePayout(ctx, payout.ID, "txn-456"))
	require.Error(t, f.svc.FailPayout(ctx, payout.ID, "too late"))
	require.Error(t, f.svc.MarkPayoutProcessing(ctx, payout.ID))
}

func TestFailPayoutReleasesConversions(t *testing.T) {
	f := newFixture(t)
	p := f.seedPartner(t, partner.CommissionTypePercentage, 10, 0)
	ctx := context.Background()

	require.NoError(t, f.db.Create(&Conversion{
		ID:               "conv-fail",
		PartnerID:        p.ID,
		Status:           ConversionStatusApproved,
		PayoutStatus:     PayoutStatusUnpaid,
		CommissionAmount: 30,
		ConvertedAt:      time.Now(),
	}).Error)

	payout, err := f.svc.CreatePayout(ctx, p.ID, time.Now().Add(-24*time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, f.svc.FailPayout(ctx, payout.ID, "provider rejected"))

	got, err := f.svc.GetConversion(ctx, "conv-fail")
	require.NoError(t, err)
	require.Equal(t, PayoutStatusUnpaid, got.PayoutStatus)
	require.Empty(t, got.PayoutID)

	// released conversions can be picked up by a later payout
	again, err := f.svc.CreatePayout(ctx, p.ID, time.Now().Add(-24*time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), again.TotalConversions)
}
