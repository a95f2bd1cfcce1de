package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence boundary for users, the calendar and the
// appointment ledger. It never validates capacity or status transitions.
type Repository interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	ListAdminEmails(ctx context.Context) ([]string, error)
	IncrementTokens(ctx context.Context, userID uuid.UUID, amount int) error

	UpsertAvailableDay(ctx context.Context, date time.Time, dayType DayType) error
	DeleteAvailableDays(ctx context.Context, from, to time.Time) (int64, error)
	GetAvailableDay(ctx context.Context, date time.Time) (*AvailableDay, error)
	ListAvailableDays(ctx context.Context, from, to *time.Time) ([]AvailableDay, error)

	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByDate(ctx context.Context, date time.Time) ([]Appointment, error)
	ListAppointmentsByOwner(ctx context.Context, userID uuid.UUID) ([]Appointment, error)
	ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status Status, reason *string) (*Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	CountAppointments(ctx context.Context, date time.Time) (int, error)
	SetSpotsLeft(ctx context.Context, date time.Time, spotsLeft int) (int64, error)
	ListBookedDates(ctx context.Context) ([]time.Time, error)

	InsertEvent(ctx context.Context, ev EventLog) error

	// WithinTx runs fn against a transactional Repository.
	WithinTx(ctx context.Context, fn func(tx Repository) error) error
	// WithinDate is WithinTx holding an exclusive per-date lock for the whole transaction.
	WithinDate(ctx context.Context, date time.Time, fn func(tx Repository) error) error
}
