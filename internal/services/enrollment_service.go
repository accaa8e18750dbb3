package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Daneel-Li/clubpay/internal/dao"
	"github.com/Daneel-Li/clubpay/internal/events"
	mxm "github.com/Daneel-Li/clubpay/internal/models"
)

// EnrollmentService reserves slots on activities.
type EnrollmentService struct {
	repo   dao.Repository
	events events.Publisher
	now    func() time.Time
}

func NewEnrollmentService(repo dao.Repository, pub events.Publisher) *EnrollmentService {
	return &EnrollmentService{repo: repo, events: pub, now: time.Now}
}

// CreateEnrollment reserves a slot for userID. The activity row is locked
// while the duplicate and capacity checks run, so two concurrent callers
// cannot both take the last slot. Free activities are enrolled as PAID.
func (s *EnrollmentService) CreateEnrollment(ctx context.Context, userID, activityID uint) (*mxm.Enrollment, error) {
	var enrollment *mxm.Enrollment
	err := s.repo.Exec(ctx, func(ctx context.Context) error {
		activity, err := s.repo.LockActivity(ctx, activityID)
		if err != nil {
			return loadErr(err, "activity", activityID)
		}
		if activity.Status != mxm.ActivityStatusPublished {
			return stateErr("activity", activity.ID, activity.Status, "enroll")
		}
		if activity.HasStarted(s.now()) {
			return stateErr("activity", activity.ID, "STARTED", "enroll")
		}

		if _, err := s.repo.FindLiveEnrollment(ctx, activityID, userID); err == nil {
			return fmt.Errorf("%w: user %d already enrolled in activity %d", ErrConflict, userID, activityID)
		} else if !errors.Is(err, dao.ErrNotFound) {
			return err
		}

		if activity.Capacity > 0 {
			n, err := s.repo.CountLiveEnrollments(ctx, activityID)
			if err != nil {
				return err
			}
			if n >= int64(activity.Capacity) {
				return fmt.Errorf("%w: activity %d is full", ErrConflict, activityID)
			}
		}

		enrollment = &mxm.Enrollment{
			ActivityID: activityID,
			UserID:     userID,
			Amount:     activity.Price,
			Status:     mxm.EnrollmentStatusPending,
		}
		if activity.Price.IsZero() && activity.InsuranceDailyFee.IsZero() {
			enrollment.Status = mxm.EnrollmentStatusPaid
		}
		return s.repo.CreateEnrollment(ctx, enrollment)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("enrollment created", "enrollmentID", enrollment.ID, "activityID", activityID, "userID", userID, "status", enrollment.Status)
	s.publish(ctx, events.New(events.EnrollmentCreated, userID, 0, map[string]any{
		"enrollment_id": enrollment.ID,
		"activity_id":   activityID,
		"status":        enrollment.Status,
	}))
	return enrollment, nil
}

// CancelEnrollment releases the slot before the activity starts. A PENDING
// enrollment cancels its unpaid order in the same unit; a PAID enrollment can
// only be cancelled here when nothing was paid for it, paid ones go through
// the refund flow.
func (s *EnrollmentService) CancelEnrollment(ctx context.Context, userID, enrollmentID uint) (*mxm.Enrollment, error) {
	enrollment, err := s.repo.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, loadErr(err, "enrollment", enrollmentID)
	}
	if enrollment.UserID != userID {
		return nil, forbidden("enrollment %d does not belong to user %d", enrollmentID, userID)
	}
	activity, err := s.repo.GetActivity(ctx, enrollment.ActivityID)
	if err != nil {
		return nil, loadErr(err, "activity", enrollment.ActivityID)
	}
	now := s.now()
	if activity.HasStarted(now) {
		return nil, stateErr("activity", activity.ID, "STARTED", "cancel enrollment")
	}

	err = s.repo.Exec(ctx, func(ctx context.Context) error {
		switch enrollment.Status {
		case mxm.EnrollmentStatusPending:
			paying, err := s.repo.ListOrdersByEnrollment(ctx, enrollmentID, []mxm.OrderStatus{mxm.OrderStatusPaying})
			if err != nil {
				return err
			}
			if len(paying) > 0 {
				return stateErr("order", paying[0].ID, paying[0].Status, "cancel enrollment while paying")
			}
			pending, err := s.repo.ListOrdersByEnrollment(ctx, enrollmentID, []mxm.OrderStatus{mxm.OrderStatusPending})
			if err != nil {
				return err
			}
			for _, o := range pending {
				if _, err := s.repo.TransitionOrder(ctx, o.ID, []mxm.OrderStatus{mxm.OrderStatusPending}, mxm.OrderStatusCancelled, now); err != nil {
					return err
				}
			}
		case mxm.EnrollmentStatusPaid:
			paid, err := s.repo.ListOrdersByEnrollment(ctx, enrollmentID, mxm.PaidOrderStatuses)
			if err != nil {
				return err
			}
			if len(paid) > 0 || !enrollment.Amount.IsZero() {
				return stateErr("enrollment", enrollment.ID, enrollment.Status, "cancel without refund")
			}
		default:
			return stateErr("enrollment", enrollment.ID, enrollment.Status, "cancel")
		}

		changed, err := s.repo.TransitionEnrollment(ctx, enrollmentID,
			[]mxm.EnrollmentStatus{enrollment.Status}, mxm.EnrollmentStatusCancelled)
		if err != nil {
			return err
		}
		if !changed {
			return s.currentEnrollmentErr(ctx, enrollmentID, "cancel")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	enrollment.Status = mxm.EnrollmentStatusCancelled
	return enrollment, nil
}

func (s *EnrollmentService) currentEnrollmentErr(ctx context.Context, id uint, action string) error {
	current, err := s.repo.GetEnrollment(ctx, id)
	if err != nil {
		return loadErr(err, "enrollment", id)
	}
	return stateErr("enrollment", id, current.Status, action)
}

func (s *EnrollmentService) GetEnrollment(ctx context.Context, userID, enrollmentID uint) (*mxm.Enrollment, error) {
	enrollment, err := s.repo.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, loadErr(err, "enrollment", enrollmentID)
	}
	if enrollment.UserID != userID {
		return nil, forbidden("enrollment %d does not belong to user %d", enrollmentID, userID)
	}
	return enrollment, nil
}

func (s *EnrollmentService) ListMyEnrollments(ctx context.Context, userID uint) ([]*mxm.Enrollment, error) {
	return s.repo.ListEnrollmentsByUser(ctx, userID)
}

func (s *EnrollmentService) publish(ctx context.Context, ev events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		slog.Warn("publish event failed", "type", ev.Type, "error", err)
	}
}
