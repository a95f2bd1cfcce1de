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

// allowedFrom lists the source states of each status-changing transition.
// Deny is absent: it applies to any stored appointment.
var allowedFrom = map[Status][]Status{
	StatusConfirmed:    {StatusPending, StatusConfirmed, StatusFlagged},
	StatusFlagged:      {StatusPending, StatusConfirmed},
	StatusToCompletion: {StatusPending, StatusConfirmed, StatusFlagged},
}

func canTransition(from, to Status) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Confirm approves an appointment and clears any flag reason.
func (s *Service) Confirm(ctx context.Context, p Principal, id uuid.UUID) (appt *Appointment, err error) {
	defer func() { s.metrics.Transition("confirm", result(err)) }()

	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, from, err := s.transition(ctx, current.Date, id, StatusConfirmed, nil)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, &updated.ID, EventAppointmentConfirmed, map[string]any{
		"from":  from,
		"actor": p.UserID.String(),
	})
	s.notifyOwner(ctx, updated, confirmedMessage(updated))

	return updated, nil
}

// transition re-reads the appointment under its date lock and moves it to the
// target status only when the stored status allows it. Complete takes the same
// lock, so a completed appointment can not be moved back.
func (s *Service) transition(ctx context.Context, date time.Time, id uuid.UUID, to Status, reason *string) (*Appointment, Status, error) {
	var (
		updated *Appointment
		from    Status
	)
	err := s.repo.WithinDate(ctx, date, func(tx Repository) error {
		fresh, err := tx.GetAppointmentByID(ctx, id)
		if err != nil {
			return err
		}
		if !canTransition(fresh.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, fresh.Status, to)
		}
		from = fresh.Status
		updated, err = tx.UpdateAppointmentStatus(ctx, id, to, reason)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidStatusTransition) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("%s appointment: %w", to, err)
	}
	return updated, from, nil
}

// Deny deletes an appointment and republishes spots_left for the rest of its date
// in the same transaction.
func (s *Service) Deny(ctx context.Context, p Principal, id uuid.UUID) (err error) {
	defer func() { s.metrics.Transition("deny", result(err)) }()

	if err := requireAdmin(p); err != nil {
		return err
	}
	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return err
	}

	var left int
	err = s.withDate(ctx, current.Date, func(tx Repository) error {
		if err := tx.DeleteAppointment(ctx, id); err != nil {
			return err
		}
		n, rerr := RecomputeAndPersist(ctx, tx, current.Date)
		left = n
		return rerr
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDateBusy) {
			return err
		}
		return fmt.Errorf("deny appointment: %w", err)
	}

	s.log.Info("appointment denied",
		zap.Stringer("appointment_id", id),
		zap.String("date", current.Date.Format(DateLayout)),
		zap.Int("spots_left", left),
	)
	s.logEvent(ctx, &id, EventAppointmentDenied, map[string]any{
		"date":       current.Date.Format(DateLayout),
		"from":       current.Status,
		"spots_left": left,
		"actor":      p.UserID.String(),
	})
	s.notifyOwner(ctx, current, deniedMessage(current))

	return nil
}

// Flag puts an appointment on hold with a reason. Staff may flag any appointment;
// users may flag their own. The other party is notified.
func (s *Service) Flag(ctx context.Context, p Principal, id uuid.UUID, reason string) (appt *Appointment, err error) {
	defer func() { s.metrics.Transition("flag", result(err)) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	if p.Anonymous() {
		return nil, fmt.Errorf("%w: sign in to flag", ErrForbidden)
	}

	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && !current.OwnedBy(p.UserID) {
		return nil, fmt.Errorf("%w: not the owner of this appointment", ErrForbidden)
	}

	updated, from, err := s.transition(ctx, current.Date, id, StatusFlagged, &reason)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, &updated.ID, EventAppointmentFlagged, map[string]any{
		"from":     from,
		"reason":   reason,
		"actor":    p.UserID.String(),
		"by_staff": p.IsAdmin(),
	})

	if p.IsAdmin() {
		s.notifyOwner(ctx, updated, flaggedMessage(updated))
	} else {
		owner, err := s.repo.GetUserByID(ctx, p.UserID)
		if err != nil {
			s.log.Warn("resolve flagging user", zap.Stringer("user_id", p.UserID), zap.Error(err))
		}
		s.notifyAdmins(ctx, flaggedByOwnerMessage(updated, owner))
	}

	return updated, nil
}

// Complete marks an appointment as completed and credits the owner one token.
// Completing an already completed appointment changes nothing.
func (s *Service) Complete(ctx context.Context, p Principal, id uuid.UUID) (appt *Appointment, err error) {
	defer func() { s.metrics.Transition("complete", result(err)) }()

	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == StatusToCompletion {
		return current, nil
	}

	var updated *Appointment
	changed := false
	err = s.repo.WithinDate(ctx, current.Date, func(tx Repository) error {
		fresh, err := tx.GetAppointmentByID(ctx, id)
		if err != nil {
			return err
		}
		if fresh.Status == StatusToCompletion {
			updated = fresh
			return nil
		}
		if !canTransition(fresh.Status, StatusToCompletion) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, fresh.Status, StatusToCompletion)
		}

		updated, err = tx.UpdateAppointmentStatus(ctx, id, StatusToCompletion, nil)
		if err != nil {
			return err
		}
		if updated.UserID != nil {
			if err := tx.IncrementTokens(ctx, *updated.UserID, 1); err != nil {
				return fmt.Errorf("credit token: %w", err)
			}
		}
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidStatusTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("complete appointment: %w", err)
	}
	if !changed {
		return updated, nil
	}

	s.logEvent(ctx, &updated.ID, EventAppointmentCompleted, map[string]any{
		"from":     current.Status,
		"rewarded": updated.UserID != nil,
		"actor":    p.UserID.String(),
	})
	s.notifyOwner(ctx, updated, completedMessage(updated))

	return updated, nil
}
