package dao

import (
	"context"
	"time"

	mxm "github.com/Daneel-Li/clubpay/internal/models"

	"gorm.io/gorm/clause"
)

func (d *MysqlRepository) GetPaymentByOrder(ctx context.Context, orderID uint) (*mxm.Payment, error) {
	var p mxm.Payment
	if err := d.conn(ctx).Where("order_id = ?", orderID).First(&p).Error; err != nil {
		return nil, translateErr(err)
	}
	return &p, nil
}

func (d *MysqlRepository) UpsertPendingPayment(ctx context.Context, p *mxm.Payment) error {
	p.Status = mxm.PaymentStatusPending
	err := d.conn(ctx).Omit("id").Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"prepay_id", "amount", "status", "fail_reason", "updated_at"}),
	}).Create(p).Error
	return translateErr(err)
}

func (d *MysqlRepository) MarkPaymentSuccess(ctx context.Context, orderID uint, transactionID string, at time.Time) (bool, error) {
	res := d.conn(ctx).Model(&mxm.Payment{}).
		Where("order_id = ? AND status <> ?", orderID, mxm.PaymentStatusSuccess).
		Updates(map[string]interface{}{
			"status":         mxm.PaymentStatusSuccess,
			"transaction_id": transactionID,
			"paid_at":        at,
			"fail_reason":    "",
		})
	if res.Error != nil {
		return false, translateErr(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (d *MysqlRepository) MarkPaymentFailed(ctx context.Context, orderID uint, reason string) (bool, error) {
	res := d.conn(ctx).Model(&mxm.Payment{}).
		Where("order_id = ? AND status = ?", orderID, mxm.PaymentStatusPending).
		Updates(map[string]interface{}{"status": mxm.PaymentStatusFailed, "fail_reason": reason})
	if res.Error != nil {
		return false, translateErr(res.Error)
	}
	return res.RowsAffected == 1, nil
}
