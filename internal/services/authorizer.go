package services

import (
	"context"
	"errors"

	"github.com/Daneel-Li/clubpay/internal/dao"
	mxm "github.com/Daneel-Li/clubpay/internal/models"
)

// Authorizer answers the two questions the ledger asks about a caller.
type Authorizer interface {
	// IsClubOperator is true for the club owner and its admins.
	IsClubOperator(ctx context.Context, userID, clubID uint) (bool, error)
	IsPlatformAdmin(ctx context.Context, userID uint) (bool, error)
}

type repoAuthorizer struct {
	repo dao.Repository
}

func NewAuthorizer(repo dao.Repository) Authorizer {
	return &repoAuthorizer{repo: repo}
}

func (a *repoAuthorizer) IsClubOperator(ctx context.Context, userID, clubID uint) (bool, error) {
	club, err := a.repo.GetClub(ctx, clubID)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if club.OwnerID == userID {
		return true, nil
	}
	member, err := a.repo.GetClubMember(ctx, clubID, userID)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return member.Role == mxm.ClubRoleOwner || member.Role == mxm.ClubRoleAdmin, nil
}

func (a *repoAuthorizer) IsPlatformAdmin(ctx context.Context, userID uint) (bool, error) {
	user, err := a.repo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.PlatformAdmin, nil
}

func requireOperator(ctx context.Context, auth Authorizer, userID, clubID uint) error {
	ok, err := auth.IsClubOperator(ctx, userID, clubID)
	if err != nil {
		return err
	}
	if !ok {
		return forbidden("user %d does not operate club %d", userID, clubID)
	}
	return nil
}

func requireAdmin(ctx context.Context, auth Authorizer, userID uint) error {
	ok, err := auth.IsPlatformAdmin(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return forbidden("user %d is not a platform admin", userID)
	}
	return nil
}
