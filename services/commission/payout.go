package commission

import (
	"context"
	"fmt"
	"time"

	"affiliate-controlplane/pkg/db/option"
	"affiliate-controlplane/pkg/errutil"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreatePayout aggregates the partner's approved unpaid conversions inside
// the period into a single payout. The payout row and the conversion
// re-linking commit together or not at all.
func (s *Service) CreatePayout(ctx context.Context, partnerID string, periodStart, periodEnd time.Time) (*Payout, error) {
	if partnerID == "" {
		return nil, errutil.BadRequest("partner_id is required")
	}
	if !periodEnd.After(periodStart) {
		return nil, errutil.ValidationFailed("period_end must be after period_start")
	}

	p, err := s.partner.GetPartner(ctx, partnerID)
	if err != nil {
		return nil, err
	}

	payout := &Payout{
		ID:           s.node.Generate().String(),
		PartnerID:    partnerID,
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		PayoutMethod: p.PaymentMethod,
		Status:       PayoutStatePending,
	}

	if s.seq != nil {
		code, err := s.seq.NextPayoutCode(ctx, partnerID)
		if err != nil {
			zap.L().Warn("failed to generate payout code", zap.String("partner_id", partnerID), zap.Error(err))
		} else {
			payout.Code = code
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		eligible, err := s.conversion.WithTrx(tx).Find(ctx,
			&Conversion{PartnerID: partnerID, Status: ConversionStatusApproved, PayoutStatus: PayoutStatusUnpaid},
			option.ApplyOperator(
				option.Condition{Field: "converted_at", Operator: option.GTE, Value: periodStart},
				option.Condition{Field: "converted_at", Operator: option.LTE, Value: periodEnd},
			),
			option.WithLockingUpdate(),
		)
		if err != nil {
			return err
		}

		if len(eligible) == 0 {
			return errutil.UnprocessableEntity("no eligible conversions in period")
		}

		var total float64
		for _, c := range eligible {
			total += c.CommissionAmount
		}
		total = roundAmount(total)

		if total < p.MinPayoutThreshold {
			return errutil.UnprocessableEntity(fmt.Sprintf(
				"total commission %.2f is below minimum payout threshold %.2f", total, p.MinPayoutThreshold))
		}

		payout.TotalConversions = int64(len(eligible))
		payout.TotalCommission = total

		if err := tx.Create(payout).Error; err != nil {
			return err
		}

		return tx.Model(&Conversion{}).
			Where("partner_id = ? AND status = ? AND payout_status = ?", partnerID, ConversionStatusApproved, PayoutStatusUnpaid).
			Where("converted_at >= ? AND converted_at <= ?", periodStart, periodEnd).
			Updates(map[string]any{
				"payout_id":     payout.ID,
				"payout_status": PayoutStatusProcessing,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("payout created",
		zap.String("payout_id", payout.ID),
		zap.String("partner_id", partnerID),
		zap.Int64("conversions", payout.TotalConversions),
		zap.Float64("total", payout.TotalCommission),
	)

	return payout, nil
}

func (s *Service) GetPayout(ctx context.Context, payoutID string) (*Payout, error) {
	if payoutID == "" {
		return nil, errutil.BadRequest("payout_id is required")
	}

	exist, err := s.payout.FindOne(ctx, &Payout{ID: payoutID})
	if err != nil {
		return nil, err
	}
	if exist == nil {
		return nil, errutil.NotFound("payout not found")
	}
	return exist, nil
}

// MarkPayoutProcessing records that payment dispatch has started for a
// pending payout.
func (s *Service) MarkPayoutProcessing(ctx context.Context, payoutID string) error {
	p, err := s.GetPayout(ctx, payoutID)
	if err != nil {
		return err
	}

	if p.Status != PayoutStatePending {
		return errutil.UnprocessableEntity(fmt.Sprintf("cannot start processing payout in status %s", p.Status))
	}

	return s.payout.Update(ctx, payoutID, map[string]any{"status": PayoutStateProcessing})
}

// CompletePayout marks the payout completed and flips every linked
// conversion to paid in the same transaction. Manual payout methods may
// complete straight from pending without a processing step.
func (s *Service) CompletePayout(ctx context.Context, payoutID, transactionRef string) error {
	if transactionRef == "" {
		return errutil.BadRequest("transaction_ref is required")
	}

	p, err := s.GetPayout(ctx, payoutID)
	if err != nil {
		return err
	}

	switch p.Status {
	case PayoutStateCompleted:
		return errutil.UnprocessableEntity("payout already completed")
	case PayoutStateFailed:
		return errutil.UnprocessableEntity("cannot complete a failed payout")
	}

	now := time.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Payout{}).
			Where("id = ?", payoutID).
			Updates(map[string]any{
				"status":          PayoutStateCompleted,
				"transaction_ref": transactionRef,
				"paid_at":         &now,
			}).Error; err != nil {
			return err
		}

		return tx.Model(&Conversion{}).
			Where("payout_id = ?", payoutID).
			Update("payout_status", PayoutStatusPaid).Error
	})
}

// FailPayout marks the payout failed and releases its conversions back to
// unpaid so a later payout can pick them up.
func (s *Service) FailPayout(ctx context.Context, payoutID, reason string) error {
	p, err := s.GetPayout(ctx, payoutID)
	if err != nil {
		return err
	}

	if p.Status == PayoutStateCompleted {
		return errutil.UnprocessableEntity("cannot fail a completed payout")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Payout{}).
			Where("id = ?", payoutID).
			Updates(map[string]any{
				"status":          PayoutStateFailed,
				"transaction_ref": reason,
			}).Error; err != nil {
			return err
		}

		return tx.Model(&Conversion{}).
			Where("payout_id = ?", payoutID).
			Updates(map[string]any{
				"payout_id":     "",
				"payout_status": PayoutStatusUnpaid,
			}).Error
	})
}
