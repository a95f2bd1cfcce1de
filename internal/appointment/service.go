package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/tea-session-scheduling/internal/config"
	"github.com/hackgods/tea-session-scheduling/internal/metrics"
	"github.com/hackgods/tea-session-scheduling/internal/notify"
	redisclient "github.com/hackgods/tea-session-scheduling/internal/redis"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentDenied    = "APPOINTMENT_DENIED"
	EventAppointmentFlagged   = "APPOINTMENT_FLAGGED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAvailabilitySet      = "AVAILABILITY_SET"
	EventAvailabilityRemoved  = "AVAILABILITY_REMOVED"
	EventCapacityReconciled   = "CAPACITY_RECONCILED"
)

// Notifier delivers a message best-effort. notify.LogNotifier and notify.RedisQueue implement it.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) error
}

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	notifier Notifier
	validate *validator.Validate
	metrics  *metrics.Metrics
	log      *zap.Logger
	cfg      config.Config
}

func NewService(
	repo Repository,
	locker redisclient.Locker,
	notifier Notifier,
	cfg config.Config,
	log *zap.Logger,
	m *metrics.Metrics,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		validate: validator.New(),
		metrics:  m,
		log:      log,
		cfg:      cfg,
	}
}

// withDate runs fn inside the distributed date lock and a date-locked transaction.
func (s *Service) withDate(ctx context.Context, date time.Time, fn func(tx Repository) error) error {
	err := s.locker.WithDateLock(ctx, date, func(lockCtx context.Context) error {
		return s.repo.WithinDate(lockCtx, date, fn)
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) || errors.Is(err, redisclient.ErrLockUnavailable) {
		return ErrDateBusy
	}
	return err
}

// GetAppointment returns an appointment the principal may see.
func (s *Service) GetAppointment(ctx context.Context, p Principal, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && !appt.OwnedBy(p.UserID) {
		// hide existence from other users
		return nil, ErrAppointmentNotFound
	}
	return appt, nil
}

// ListAppointments returns every appointment for staff, optionally on one date,
// and the caller's own appointments newest first for everyone else.
func (s *Service) ListAppointments(ctx context.Context, p Principal, date *time.Time) ([]Appointment, error) {
	if p.Anonymous() {
		return nil, fmt.Errorf("%w: sign in to list appointments", ErrForbidden)
	}
	if p.IsAdmin() {
		appts, err := s.repo.ListAppointments(ctx, AppointmentFilter{Date: date})
		if err != nil {
			return nil, fmt.Errorf("list appointments: %w", err)
		}
		return appts, nil
	}

	appts, err := s.repo.ListAppointmentsByOwner(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by owner: %w", err)
	}
	if date == nil {
		return appts, nil
	}
	out := appts[:0]
	for _, a := range appts {
		if a.Date.Equal(Day(*date)) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Reconcile recomputes spots_left for every date that has bookings and reports
// how many dates were rewritten and how many bookings sit on closed days.
func (s *Service) Reconcile(ctx context.Context) (rewritten, orphaned int, err error) {
	dates, err := s.repo.ListBookedDates(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list booked dates: %w", err)
	}

	for _, date := range dates {
		var changed int64
		var open bool
		var count int

		err := s.withDate(ctx, date, func(tx Repository) error {
			n, err := tx.CountAppointments(ctx, date)
			if err != nil {
				return err
			}
			count = n
			changed, err = tx.SetSpotsLeft(ctx, date, spotsAfter(n))
			if err != nil {
				return err
			}
			_, err = tx.GetAvailableDay(ctx, date)
			switch {
			case err == nil:
				open = true
			case errors.Is(err, ErrAvailableDayNotFound):
			default:
				return err
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrDateBusy) {
				s.log.Debug("reconcile skipped busy date", zap.String("date", date.Format(DateLayout)))
				continue
			}
			return rewritten, orphaned, fmt.Errorf("reconcile %s: %w", date.Format(DateLayout), err)
		}

		if changed > 0 {
			rewritten++
			s.logEvent(ctx, nil, EventCapacityReconciled, map[string]any{
				"date":       date.Format(DateLayout),
				"count":      count,
				"spots_left": spotsAfter(count),
				"rows":       changed,
			})
		}
		if !open {
			orphaned += count
			s.log.Warn("appointments on closed day",
				zap.String("date", date.Format(DateLayout)),
				zap.Int("count", count),
			)
		}
	}

	s.metrics.Reconciled(rewritten)
	return rewritten, orphaned, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("insert event log", zap.String("event", eventType), zap.Error(err))
	}
}

// dispatch sends msg after the state change has committed. Failures are logged only.
func (s *Service) dispatch(ctx context.Context, msg notify.Message) {
	if s.notifier == nil || len(msg.To) == 0 {
		return
	}

	timeout := s.cfg.NotifyTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := s.notifier.Notify(nctx, msg); err != nil {
		s.metrics.Notification("failed")
		s.log.Warn("notification failed",
			zap.String("subject", msg.Subject),
			zap.Strings("to", msg.To),
			zap.Error(err),
		)
		return
	}
	s.metrics.Notification("ok")
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoSlotsLeft):
		return "no_slots_left"
	case errors.Is(err, ErrDayNotAvailable):
		return "day_not_available"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrInvalidStatusTransition):
		return "invalid_transition"
	case errors.Is(err, ErrDateBusy):
		return "busy"
	}
	return "error"
}
