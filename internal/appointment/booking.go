package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	bookingPathUser   = "user"
	bookingPathWalkIn = "walk_in"
)

// BookForUser reserves a slot on date for userID. A zero userID books for the
// principal; only staff may book on behalf of another user.
func (s *Service) BookForUser(ctx context.Context, p Principal, userID uuid.UUID, date string) (*Appointment, error) {
	if p.Anonymous() {
		return nil, fmt.Errorf("%w: sign in to book", ErrForbidden)
	}
	if userID == uuid.Nil {
		userID = p.UserID
	}
	if userID != p.UserID && !p.IsAdmin() {
		return nil, fmt.Errorf("%w: cannot book for another user", ErrForbidden)
	}

	day, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	owner := userID
	return s.book(ctx, bookingPathUser, day, Appointment{UserID: &owner})
}

// BookWalkIn reserves a slot on date for a guest without an account. Superuser only.
func (s *Service) BookWalkIn(ctx context.Context, p Principal, date string, guest WalkIn) (*Appointment, error) {
	if !p.IsSuperuser {
		s.metrics.Booking(bookingPathWalkIn, "forbidden")
		return nil, fmt.Errorf("%w: walk-in bookings require superuser", ErrForbidden)
	}

	day, err := ParseDate(date)
	if err != nil {
		return nil, err
	}

	guest.FirstName = strings.TrimSpace(guest.FirstName)
	guest.LastName = strings.TrimSpace(guest.LastName)
	guest.Email = strings.TrimSpace(guest.Email)
	guest.Phone = strings.TrimSpace(guest.Phone)
	if err := s.validate.Struct(guest); err != nil {
		return nil, fmt.Errorf("%w: walk-in: %v", ErrValidation, err)
	}

	return s.book(ctx, bookingPathWalkIn, day, Appointment{WalkIn: &guest})
}

// book is the single check-then-insert path shared by both booking kinds. The
// count, the insert and the spots_left broadcast run under the date lock.
func (s *Service) book(ctx context.Context, path string, date time.Time, draft Appointment) (*Appointment, error) {
	var created *Appointment

	err := s.withDate(ctx, date, func(tx Repository) error {
		day, err := tx.GetAvailableDay(ctx, date)
		if err != nil {
			if errors.Is(err, ErrAvailableDayNotFound) {
				return fmt.Errorf("%w: %s", ErrDayNotAvailable, date.Format(DateLayout))
			}
			return fmt.Errorf("load available day: %w", err)
		}

		count, err := admit(ctx, tx, date)
		if err != nil {
			return err
		}

		draft.Date = date
		draft.DayType = day.DayType
		draft.Status = StatusPending
		draft.SpotsLeft = spotsAfter(count + 1)

		appt, err := tx.CreateAppointment(ctx, &draft)
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		left, err := RecomputeAndPersist(ctx, tx, date)
		if err != nil {
			return err
		}
		appt.SpotsLeft = left
		created = appt
		return nil
	})
	s.metrics.Booking(path, result(err))
	if err != nil {
		return nil, err
	}

	s.log.Info("appointment booked",
		zap.Stringer("appointment_id", created.ID),
		zap.String("date", date.Format(DateLayout)),
		zap.String("path", path),
		zap.Int("spots_left", created.SpotsLeft),
	)

	payload := map[string]any{
		"date":       date.Format(DateLayout),
		"day_type":   created.DayType,
		"spots_left": created.SpotsLeft,
		"path":       path,
	}
	if created.UserID != nil {
		payload["user_id"] = created.UserID.String()
	}
	s.logEvent(ctx, &created.ID, EventAppointmentCreated, payload)
	s.notifyOwner(ctx, created, requestedMessage(created))

	return created, nil
}
