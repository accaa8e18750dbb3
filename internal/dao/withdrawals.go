package dao

import (
	"context"

	mxm "github.com/Daneel-Li/clubpay/internal/models"
)

func (d *MysqlRepository) CreateWithdrawal(ctx context.Context, w *mxm.Withdrawal) error {
	return translateErr(d.conn(ctx).Omit("id").Create(w).Error)
}

func (d *MysqlRepository) GetWithdrawal(ctx context.Context, id uint) (*mxm.Withdrawal, error) {
	var w mxm.Withdrawal
	if err := d.conn(ctx).Where("id = ?", id).First(&w).Error; err != nil {
		return nil, translateErr(err)
	}
	return &w, nil
}

func (d *MysqlRepository) ListWithdrawalsByClub(ctx context.Context, clubID uint) ([]*mxm.Withdrawal, error) {
	var list []*mxm.Withdrawal
	err := d.conn(ctx).Where("club_id = ?", clubID).Order("id DESC").Find(&list).Error
	return list, translateErr(err)
}

func (d *MysqlRepository) TransitionWithdrawal(ctx context.Context, id uint, from, to mxm.WithdrawalStatus, patch WithdrawalPatch) (bool, error) {
	updates := map[string]interface{}{"status": to}
	if patch.ReviewerID != nil {
		updates["reviewer_id"] = *patch.ReviewerID
	}
	if patch.RejectReason != "" {
		updates["reject_reason"] = patch.RejectReason
	}
	if patch.ApprovedAt != nil {
		updates["approved_at"] = *patch.ApprovedAt
	}
	if patch.CompletedAt != nil {
		updates["completed_at"] = *patch.CompletedAt
	}
	res := d.conn(ctx).Model(&mxm.Withdrawal{}).Where("id = ? AND status = ?", id, from).Updates(updates)
	if res.Error != nil {
		return false, translateErr(res.Error)
	}
	return res.RowsAffected == 1, nil
}
