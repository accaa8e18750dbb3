package dao

import (
	"context"

	mxm "github.com/Daneel-Li/clubpay/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"
)

func (d *MysqlRepository) LockAccount(ctx context.Context, clubID uint) (*mxm.ClubAccount, error) {
	// make sure the row exists so FOR UPDATE has something to lock
	empty := mxm.ClubAccount{
		ClubID:        clubID,
		Balance:       decimal.Zero,
		FrozenBalance: decimal.Zero,
		TotalIncome:   decimal.Zero,
		TotalWithdraw: decimal.Zero,
	}
	err := d.conn(ctx).Omit("id").Clauses(clause.OnConflict{DoNothing: true}).Create(&empty).Error
	if err != nil {
		return nil, translateErr(err)
	}

	var a mxm.ClubAccount
	err = d.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("club_id = ?", clubID).First(&a).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &a, nil
}

func (d *MysqlRepository) GetAccount(ctx context.Context, clubID uint) (*mxm.ClubAccount, error) {
	var a mxm.ClubAccount
	if err := d.conn(ctx).Where("club_id = ?", clubID).First(&a).Error; err != nil {
		return nil, translateErr(err)
	}
	return &a, nil
}

func (d *MysqlRepository) SaveAccount(ctx context.Context, a *mxm.ClubAccount) error {
	err := d.conn(ctx).Model(&mxm.ClubAccount{}).Where("id = ?", a.ID).
		Updates(map[string]interface{}{
			"balance":        a.Balance,
			"frozen_balance": a.FrozenBalance,
			"total_income":   a.TotalIncome,
			"total_withdraw": a.TotalWithdraw,
		}).Error
	return translateErr(err)
}

func (d *MysqlRepository) AppendTransaction(ctx context.Context, t *mxm.Transaction) error {
	return translateErr(d.conn(ctx).Omit("id").Create(t).Error)
}

func (d *MysqlRepository) ListTransactions(ctx context.Context, accountID uint, limit, offset int) ([]*mxm.Transaction, error) {
	var list []*mxm.Transaction
	err := d.conn(ctx).Where("account_id = ?", accountID).
		Order("id DESC").Limit(limit).Offset(offset).Find(&list).Error
	return list, translateErr(err)
}

func (d *MysqlRepository) ListAllTransactions(ctx context.Context, accountID uint) ([]*mxm.Transaction, error) {
	var list []*mxm.Transaction
	err := d.conn(ctx).Where("account_id = ?", accountID).Order("id ASC").Find(&list).Error
	return list, translateErr(err)
}
