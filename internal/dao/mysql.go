package dao

import (
	"context"
	"fmt"

	mxm "github.com/Daneel-Li/clubpay/internal/models"

	"gorm.io/gorm"
)

// MysqlRepository MySQL数据库实现
type MysqlRepository struct {
	db *gorm.DB
}

// NewMysqlRepository 创建MySQL数据访问对象
func NewMysqlRepository(db *gorm.DB) *MysqlRepository {
	return &MysqlRepository{db: db}
}

// 确保MysqlRepository实现了所有接口
var _ Repository = (*MysqlRepository)(nil)

type contextTxKey struct{}

// Exec 执行事务
func (d *MysqlRepository) Exec(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(contextTxKey{}).(*gorm.DB); ok {
		// already inside a unit of work, join it
		return fn(ctx)
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, contextTxKey{}, tx))
	})
}

// conn returns the transaction bound to ctx, or the pool.
func (d *MysqlRepository) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(contextTxKey{}).(*gorm.DB); ok {
		return tx
	}
	return d.db.WithContext(ctx)
}

// AutoMigrate creates the tables owned by this service.
func (d *MysqlRepository) AutoMigrate() error {
	err := d.db.AutoMigrate(
		&mxm.Enrollment{},
		&mxm.Order{},
		&mxm.OrderAddon{},
		&mxm.Payment{},
		&mxm.Refund{},
		&mxm.RefundPolicy{},
		&mxm.Settlement{},
		&mxm.Withdrawal{},
		&mxm.ClubAccount{},
		&mxm.Transaction{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	return nil
}
