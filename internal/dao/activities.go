package dao

import (
	"context"
	"time"

	mxm "github.com/Daneel-Li/clubpay/internal/models"

	"gorm.io/gorm/clause"
)

func (d *MysqlRepository) GetActivity(ctx context.Context, id uint) (*mxm.Activity, error) {
	var a mxm.Activity
	if err := d.conn(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, translateErr(err)
	}
	return &a, nil
}

func (d *MysqlRepository) LockActivity(ctx context.Context, id uint) (*mxm.Activity, error) {
	var a mxm.Activity
	err := d.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&a).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &a, nil
}

func (d *MysqlRepository) ListSettleableActivities(ctx context.Context, endedBefore time.Time, limit int) ([]*mxm.Activity, error) {
	var activities []*mxm.Activity
	err := d.conn(ctx).
		Table("activities a").
		Select("a.*").
		Joins("LEFT JOIN settlements s ON s.activity_id = a.id").
		Where("a.status = ? AND a.end_time < ?", mxm.ActivityStatusCompleted, endedBefore).
		Where("s.id IS NULL OR s.status <> ?", mxm.SettlementStatusCompleted).
		Order("a.end_time ASC").
		Limit(limit).
		Find(&activities).Error
	return activities, translateErr(err)
}

func (d *MysqlRepository) GetClub(ctx context.Context, id uint) (*mxm.Club, error) {
	var c mxm.Club
	if err := d.conn(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, translateErr(err)
	}
	return &c, nil
}

func (d *MysqlRepository) GetClubMember(ctx context.Context, clubID, userID uint) (*mxm.ClubMember, error) {
	var m mxm.ClubMember
	err := d.conn(ctx).Where("club_id = ? AND user_id = ?", clubID, userID).First(&m).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &m, nil
}
