package dao

import (
	"context"

	mxm "github.com/Daneel-Li/clubpay/internal/models"

	"github.com/shopspring/decimal"
)

func (d *MysqlRepository) CreateRefund(ctx context.Context, r *mxm.Refund) error {
	return translateErr(d.conn(ctx).Omit("id").Create(r).Error)
}

func (d *MysqlRepository) GetRefund(ctx context.Context, id uint) (*mxm.Refund, error) {
	var r mxm.Refund
	if err := d.conn(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, translateErr(err)
	}
	return &r, nil
}

func (d *MysqlRepository) GetRefundByOrder(ctx context.Context, orderID uint) (*mxm.Refund, error) {
	var r mxm.Refund
	if err := d.conn(ctx).Where("order_id = ?", orderID).First(&r).Error; err != nil {
		return nil, translateErr(err)
	}
	return &r, nil
}

func (d *MysqlRepository) TransitionRefund(ctx context.Context, id uint, from []mxm.RefundStatus, to mxm.RefundStatus, patch RefundPatch) (bool, error) {
	updates := map[string]interface{}{"status": to}
	if patch.ReviewerID != nil {
		updates["reviewer_id"] = *patch.ReviewerID
	}
	if patch.RejectReason != "" {
		updates["reject_reason"] = patch.RejectReason
	}
	if patch.GatewayRefundID != "" {
		updates["gateway_refund_id"] = patch.GatewayRefundID
	}
	if patch.FailReason != "" {
		updates["fail_reason"] = patch.FailReason
	}
	if patch.CompletedAt != nil {
		updates["completed_at"] = *patch.CompletedAt
	}
	res := d.conn(ctx).Model(&mxm.Refund{}).Where("id = ? AND status IN ?", id, from).Updates(updates)
	if res.Error != nil {
		return false, translateErr(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (d *MysqlRepository) SumCompletedRefunds(ctx context.Context, activityID uint) (decimal.Decimal, error) {
	var row struct{ Total decimal.Decimal }
	err := d.conn(ctx).Model(&mxm.Refund{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("activity_id = ? AND status = ?", activityID, mxm.RefundStatusCompleted).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, translateErr(err)
	}
	return row.Total, nil
}

func (d *MysqlRepository) CountOpenRefunds(ctx context.Context, activityID uint) (int64, error) {
	var n int64
	err := d.conn(ctx).Model(&mxm.Refund{}).
		Where("activity_id = ? AND status IN ?", activityID, mxm.OpenRefundStatuses).
		Count(&n).Error
	return n, translateErr(err)
}

func (d *MysqlRepository) GetRefundPolicy(ctx context.Context, activityID, clubID uint) (*mxm.RefundPolicy, error) {
	var p mxm.RefundPolicy
	err := d.conn(ctx).Where("activity_id = ?", activityID).First(&p).Error
	if err == nil {
		return &p, nil
	}
	if translateErr(err) != ErrNotFound {
		return nil, translateErr(err)
	}
	err = d.conn(ctx).Where("club_id = ? AND activity_id IS NULL", clubID).First(&p).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &p, nil
}
