package dao

import (
	"context"

	mxm "github.com/Daneel-Li/clubpay/internal/models"
)

func (d *MysqlRepository) CreateEnrollment(ctx context.Context, e *mxm.Enrollment) error {
	return translateErr(d.conn(ctx).Omit("id").Create(e).Error)
}

func (d *MysqlRepository) GetEnrollment(ctx context.Context, id uint) (*mxm.Enrollment, error) {
	var e mxm.Enrollment
	if err := d.conn(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, translateErr(err)
	}
	return &e, nil
}

func (d *MysqlRepository) FindLiveEnrollment(ctx context.Context, activityID, userID uint) (*mxm.Enrollment, error) {
	var e mxm.Enrollment
	err := d.conn(ctx).
		Where("activity_id = ? AND user_id = ? AND status IN ?", activityID, userID, mxm.LiveEnrollmentStatuses).
		First(&e).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &e, nil
}

func (d *MysqlRepository) CountLiveEnrollments(ctx context.Context, activityID uint) (int64, error) {
	var n int64
	err := d.conn(ctx).Model(&mxm.Enrollment{}).
		Where("activity_id = ? AND status IN ?", activityID, mxm.LiveEnrollmentStatuses).
		Count(&n).Error
	return n, translateErr(err)
}

func (d *MysqlRepository) TransitionEnrollment(ctx context.Context, id uint, from []mxm.EnrollmentStatus, to mxm.EnrollmentStatus) (bool, error) {
	res := d.conn(ctx).Model(&mxm.Enrollment{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, translateErr(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (d *MysqlRepository) ListEnrollmentsByUser(ctx context.Context, userID uint) ([]*mxm.Enrollment, error) {
	var list []*mxm.Enrollment
	err := d.conn(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&list).Error
	return list, translateErr(err)
}
