package dao

import (
	"context"
	"time"

	mxm "github.com/Daneel-Li/clubpay/internal/models"
)

func (d *MysqlRepository) GetSettlementByActivity(ctx context.Context, activityID uint) (*mxm.Settlement, error) {
	var s mxm.Settlement
	if err := d.conn(ctx).Where("activity_id = ?", activityID).First(&s).Error; err != nil {
		return nil, translateErr(err)
	}
	return &s, nil
}

func (d *MysqlRepository) SaveSettlement(ctx context.Context, s *mxm.Settlement) error {
	if s.ID == 0 {
		return translateErr(d.conn(ctx).Omit("id").Create(s).Error)
	}
	res := d.conn(ctx).Model(&mxm.Settlement{}).
		Where("id = ? AND status = ?", s.ID, mxm.SettlementStatusPending).
		Updates(map[string]interface{}{
			"total_amount":  s.TotalAmount,
			"refund_amount": s.RefundAmount,
			"fee_rate":      s.FeeRate,
			"platform_fee":  s.PlatformFee,
			"settle_amount": s.SettleAmount,
			"order_count":   s.OrderCount,
		})
	if res.Error != nil {
		return translateErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *MysqlRepository) TransitionSettlement(ctx context.Context, id uint, from, to mxm.SettlementStatus, at time.Time) (bool, error) {
	updates := map[string]interface{}{"status": to}
	if to == mxm.SettlementStatusCompleted {
		updates["settled_at"] = at
	}
	res := d.conn(ctx).Model(&mxm.Settlement{}).Where("id = ? AND status = ?", id, from).Updates(updates)
	if res.Error != nil {
		return false, translateErr(res.Error)
	}
	return res.RowsAffected == 1, nil
}
