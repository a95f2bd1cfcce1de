package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var appointmentColumns = []string{
	"id",
	"date",
	"day_type",
	"status",
	"spots_left",
	"reason",
	"user_id",
	"walk_in_first_name",
	"walk_in_last_name",
	"walk_in_email",
	"walk_in_phone",
	"created_at",
	"updated_at",
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool // nil inside a transaction
	q    querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

// Helpers

func scanUser(row pgx.Row) (*User, error) {
	var u User

	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.PhoneNumber,
		&u.IsStaff,
		&u.IsSuperuser,
		&u.Tokens,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func scanAvailableDay(row pgx.Row) (*AvailableDay, error) {
	var d AvailableDay

	err := row.Scan(&d.Date, &d.DayType, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailableDayNotFound
		}
		return nil, err
	}
	d.Date = Day(d.Date)
	return &d, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var first, last, email, phone *string

	err := row.Scan(
		&a.ID,
		&a.Date,
		&a.DayType,
		&a.Status,
		&a.SpotsLeft,
		&a.Reason,
		&a.UserID,
		&first,
		&last,
		&email,
		&phone,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = Day(a.Date)
	if a.UserID == nil {
		a.WalkIn = &WalkIn{
			FirstName: deref(first),
			LastName:  deref(last),
			Email:     deref(email),
			Phone:     deref(phone),
		}
	}
	return &a, nil
}

func (r *PgRepository) collectAppointments(ctx context.Context, b sq.SelectBuilder, op string) ([]Appointment, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", op, err)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	return out, nil
}

// Users

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query, args, err := psql.
		Select("id", "username", "email", "first_name", "last_name", "phone_number",
			"is_staff", "is_superuser", "tokens", "created_at").
		From("users").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("get user: build query: %w", err)
	}
	return scanUser(r.q.QueryRow(ctx, query, args...))
}

// ListAdminEmails returns the addresses of every staff or superuser account.
func (r *PgRepository) ListAdminEmails(ctx context.Context) ([]string, error) {
	query, args, err := psql.
		Select("email").
		From("users").
		Where(sq.Or{sq.Eq{"is_staff": true}, sq.Eq{"is_superuser": true}}).
		Where(sq.NotEq{"email": ""}).
		OrderBy("email").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("list admin emails: build query: %w", err)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list admin emails: %w", err)
	}
	emails, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list admin emails: %w", err)
	}
	return emails, nil
}

func (r *PgRepository) IncrementTokens(ctx context.Context, userID uuid.UUID, amount int) error {
	query, args, err := psql.
		Update("users").
		Set("tokens", sq.Expr("tokens + ?", amount)).
		Where(sq.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("increment tokens: build query: %w", err)
	}

	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("increment tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Calendar

func (r *PgRepository) UpsertAvailableDay(ctx context.Context, date time.Time, dayType DayType) error {
	query, args, err := psql.
		Insert("available_days").
		Columns("date", "day_type").
		Values(Day(date), string(dayType)).
		Suffix("ON CONFLICT (date) DO UPDATE SET day_type = EXCLUDED.day_type, updated_at = now()").
		ToSql()
	if err != nil {
		return fmt.Errorf("upsert available day: build query: %w", err)
	}

	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert available day: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteAvailableDays(ctx context.Context, from, to time.Time) (int64, error) {
	query, args, err := psql.
		Delete("available_days").
		Where(sq.GtOrEq{"date": Day(from)}).
		Where(sq.LtOrEq{"date": Day(to)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("delete available days: build query: %w", err)
	}

	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete available days: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) GetAvailableDay(ctx context.Context, date time.Time) (*AvailableDay, error) {
	query, args, err := psql.
		Select("date", "day_type", "created_at", "updated_at").
		From("available_days").
		Where(sq.Eq{"date": Day(date)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("get available day: build query: %w", err)
	}
	return scanAvailableDay(r.q.QueryRow(ctx, query, args...))
}

func (r *PgRepository) ListAvailableDays(ctx context.Context, from, to *time.Time) ([]AvailableDay, error) {
	b := psql.
		Select("date", "day_type", "created_at", "updated_at").
		From("available_days").
		OrderBy("date")
	if from != nil {
		b = b.Where(sq.GtOrEq{"date": Day(*from)})
	}
	if to != nil {
		b = b.Where(sq.LtOrEq{"date": Day(*to)})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("list available days: build query: %w", err)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list available days: %w", err)
	}
	defer rows.Close()

	var out []AvailableDay
	for rows.Next() {
		d, err := scanAvailableDay(rows)
		if err != nil {
			return nil, fmt.Errorf("list available days: scan: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Ledger

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	var first, last, email, phone *string
	if a.WalkIn != nil {
		first, last, email, phone = &a.WalkIn.FirstName, &a.WalkIn.LastName, &a.WalkIn.Email, &a.WalkIn.Phone
	}

	query, args, err := psql.
		Insert("appointments").
		Columns("id", "date", "day_type", "status", "spots_left", "reason", "user_id",
			"walk_in_first_name", "walk_in_last_name", "walk_in_email", "walk_in_phone").
		Values(a.ID, Day(a.Date), string(a.DayType), string(a.Status), a.SpotsLeft, a.Reason, a.UserID,
			first, last, email, phone).
		Suffix("RETURNING " + strings.Join(appointmentColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("create appointment: build query: %w", err)
	}

	created, err := scanAppointment(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	query, args, err := psql.
		Select(appointmentColumns...).
		From("appointments").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("get appointment: build query: %w", err)
	}
	return scanAppointment(r.q.QueryRow(ctx, query, args...))
}

func (r *PgRepository) ListAppointmentsByDate(ctx context.Context, date time.Time) ([]Appointment, error) {
	b := psql.
		Select(appointmentColumns...).
		From("appointments").
		Where(sq.Eq{"date": Day(date)}).
		OrderBy("created_at")
	return r.collectAppointments(ctx, b, "list appointments by date")
}

func (r *PgRepository) ListAppointmentsByOwner(ctx context.Context, userID uuid.UUID) ([]Appointment, error) {
	b := psql.
		Select(appointmentColumns...).
		From("appointments").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("date DESC", "created_at DESC")
	return r.collectAppointments(ctx, b, "list appointments by owner")
}

func (r *PgRepository) ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error) {
	b := psql.
		Select(appointmentColumns...).
		From("appointments").
		OrderBy("date", "created_at")
	if filter.Date != nil {
		b = b.Where(sq.Eq{"date": Day(*filter.Date)})
	}
	if filter.From != nil {
		b = b.Where(sq.GtOrEq{"date": Day(*filter.From)})
	}
	if filter.To != nil {
		b = b.Where(sq.LtOrEq{"date": Day(*filter.To)})
	}
	return r.collectAppointments(ctx, b, "list appointments")
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status Status, reason *string) (*Appointment, error) {
	query, args, err := psql.
		Update("appointments").
		Set("status", string(status)).
		Set("reason", reason).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(appointmentColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("update appointment status: build query: %w", err)
	}
	return scanAppointment(r.q.QueryRow(ctx, query, args...))
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	query, args, err := psql.Delete("appointments").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("delete appointment: build query: %w", err)
	}

	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) CountAppointments(ctx context.Context, date time.Time) (int, error) {
	query, args, err := psql.
		Select("count(*)").
		From("appointments").
		Where(sq.Eq{"date": Day(date)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("count appointments: build query: %w", err)
	}

	var n int
	if err := r.q.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count appointments: %w", err)
	}
	return n, nil
}

func (r *PgRepository) SetSpotsLeft(ctx context.Context, date time.Time, spotsLeft int) (int64, error) {
	query, args, err := psql.
		Update("appointments").
		Set("spots_left", spotsLeft).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"date": Day(date)}).
		Where(sq.NotEq{"spots_left": spotsLeft}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("set spots left: build query: %w", err)
	}

	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("set spots left: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) ListBookedDates(ctx context.Context) ([]time.Time, error) {
	query, args, err := psql.
		Select("DISTINCT date").
		From("appointments").
		OrderBy("date").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("list booked dates: build query: %w", err)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list booked dates: %w", err)
	}
	dates, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("list booked dates: %w", err)
	}
	for i := range dates {
		dates[i] = Day(dates[i])
	}
	return dates, nil
}

// Events

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	query, args, err := psql.
		Insert("event_logs").
		Columns("event_type", "appointment_id", "payload", "created_at").
		Values(ev.EventType, ev.AppointmentID, ev.Payload, ev.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("insert event: build query: %w", err)
	}

	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Transactions

func (r *PgRepository) WithinTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&PgRepository{q: tx})
	})
}

func (r *PgRepository) WithinDate(ctx context.Context, date time.Time, fn func(tx Repository) error) error {
	return r.WithinTx(ctx, func(tx Repository) error {
		pg := tx.(*PgRepository)
		if _, err := pg.q.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", dateLockID(date)); err != nil {
			return fmt.Errorf("lock date %s: %w", Day(date).Format(DateLayout), err)
		}
		return fn(tx)
	})
}

// dateLockID maps a calendar date to its advisory lock key (days since epoch).
func dateLockID(date time.Time) int64 {
	return Day(date).Unix() / 86400
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
