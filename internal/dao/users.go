package dao

import (
	"context"

	mxm "github.com/Daneel-Li/clubpay/internal/models"
)

func (d *MysqlRepository) GetUserByID(ctx context.Context, id uint) (*mxm.User, error) {
	var user mxm.User
	if err := d.conn(ctx).Table("users").Select("*").Where("id=?", id).First(&user).Error; err != nil {
		return nil, translateErr(err)
	}
	return &user, nil
}
