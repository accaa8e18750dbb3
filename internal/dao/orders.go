package dao

import (
	"context"
	"time"

	mxm "github.com/Daneel-Li/clubpay/internal/models"

	"github.com/shopspring/decimal"
)

func (d *MysqlRepository) CreateOrder(ctx context.Context, o *mxm.Order) error {
	return translateErr(d.conn(ctx).Omit("id").Create(o).Error)
}

func (d *MysqlRepository) CreateOrderAddon(ctx context.Context, a *mxm.OrderAddon) error {
	return translateErr(d.conn(ctx).Omit("id").Create(a).Error)
}

// GetOrder 根据ID获取订单
func (d *MysqlRepository) GetOrder(ctx context.Context, id uint) (*mxm.Order, error) {
	var order mxm.Order
	if err := d.conn(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, translateErr(err)
	}
	return &order, nil
}

// GetOrderByNo 根据商户订单号获取订单
func (d *MysqlRepository) GetOrderByNo(ctx context.Context, orderNo string) (*mxm.Order, error) {
	var order mxm.Order
	if err := d.conn(ctx).Where("order_no = ?", orderNo).First(&order).Error; err != nil {
		return nil, translateErr(err)
	}
	return &order, nil
}

func (d *MysqlRepository) ListOrderAddons(ctx context.Context, orderID uint) ([]*mxm.OrderAddon, error) {
	var addons []*mxm.OrderAddon
	err := d.conn(ctx).Where("order_id = ?", orderID).Find(&addons).Error
	return addons, translateErr(err)
}

func (d *MysqlRepository) FindLiveOrder(ctx context.Context, enrollmentID uint, now time.Time) (*mxm.Order, error) {
	var order mxm.Order
	err := d.conn(ctx).
		Where("enrollment_id = ? AND status = ? AND expires_at > ?", enrollmentID, mxm.OrderStatusPending, now).
		Order("id DESC").
		First(&order).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &order, nil
}

func (d *MysqlRepository) ListOrdersByEnrollment(ctx context.Context, enrollmentID uint, statuses []mxm.OrderStatus) ([]*mxm.Order, error) {
	var orders []*mxm.Order
	err := d.conn(ctx).Where("enrollment_id = ? AND status IN ?", enrollmentID, statuses).Find(&orders).Error
	return orders, translateErr(err)
}

// TransitionOrder 更新订单状态(带前置状态条件)
func (d *MysqlRepository) TransitionOrder(ctx context.Context, id uint, from []mxm.OrderStatus, to mxm.OrderStatus, at time.Time) (bool, error) {
	if err := mxm.CheckOrderTransition(from, to); err != nil {
		return false, err
	}
	updates := map[string]interface{}{"status": to}
	switch to {
	case mxm.OrderStatusPaid:
		updates["paid_at"] = at
	case mxm.OrderStatusCancelled:
		updates["cancelled_at"] = at
	case mxm.OrderStatusCompleted:
		updates["completed_at"] = at
	}
	res := d.conn(ctx).Model(&mxm.Order{}).Where("id = ? AND status IN ?", id, from).Updates(updates)
	if res.Error != nil {
		return false, translateErr(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (d *MysqlRepository) SetOrderVerificationCode(ctx context.Context, id uint, code string) error {
	return translateErr(d.conn(ctx).Model(&mxm.Order{}).Where("id = ?", id).Update("verification_code", code).Error)
}

func (d *MysqlRepository) ListOverdueOrders(ctx context.Context, status mxm.OrderStatus, now time.Time, limit int) ([]*mxm.Order, error) {
	var orders []*mxm.Order
	err := d.conn(ctx).
		Where("status = ? AND expires_at < ?", status, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, translateErr(err)
}

func (d *MysqlRepository) ListOrdersByUser(ctx context.Context, userID uint) ([]*mxm.Order, error) {
	var orders []*mxm.Order
	err := d.conn(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&orders).Error
	return orders, translateErr(err)
}

func (d *MysqlRepository) SumOrderAmounts(ctx context.Context, activityID uint, statuses []mxm.OrderStatus) (decimal.Decimal, int, error) {
	var row struct {
		Total decimal.Decimal
		Cnt   int
	}
	err := d.conn(ctx).Model(&mxm.Order{}).
		Select("COALESCE(SUM(amount), 0) AS total, COUNT(*) AS cnt").
		Where("activity_id = ? AND status IN ?", activityID, statuses).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, 0, translateErr(err)
	}
	return row.Total, row.Cnt, nil
}

func (d *MysqlRepository) CompletePaidOrders(ctx context.Context, activityID uint, at time.Time) (int64, error) {
	res := d.conn(ctx).Model(&mxm.Order{}).
		Where("activity_id = ? AND status = ?", activityID, mxm.OrderStatusPaid).
		Updates(map[string]interface{}{"status": mxm.OrderStatusCompleted, "completed_at": at})
	return res.RowsAffected, translateErr(res.Error)
}
