package appointment

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/tea-session-scheduling/internal/config"
	"github.com/hackgods/tea-session-scheduling/internal/notify"
)

// memRepo is an in-memory Repository. Transactions do not roll back.
type memRepo struct {
	mu        sync.Mutex
	users     map[uuid.UUID]*User
	days      map[time.Time]AvailableDay
	appts     map[uuid.UUID]*Appointment
	events    []EventLog
	dateLocks sync.Map // time.Time -> *sync.Mutex
	seq       int
}

func newMemRepo() *memRepo {
	return &memRepo{
		users: map[uuid.UUID]*User{},
		days:  map[time.Time]AvailableDay{},
		appts: map[uuid.UUID]*Appointment{},
	}
}

func (r *memRepo) addUser(staff, super bool) *User {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	u := &User{
		ID:          id,
		Username:    "user-" + id.String()[:8],
		Email:       id.String()[:8] + "@example.com",
		IsStaff:     staff,
		IsSuperuser: super,
	}
	r.users[id] = u
	return u
}

func (r *memRepo) tokens(id uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[id].Tokens
}

func (r *memRepo) onDate(date time.Time) []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.Date.Equal(Day(date)) {
			out = append(out, *a)
		}
	}
	return out
}

func (r *memRepo) GetUserByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memRepo) ListAdminEmails(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, u := range r.users {
		if (u.IsStaff || u.IsSuperuser) && u.Email != "" {
			out = append(out, u.Email)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *memRepo) IncrementTokens(_ context.Context, userID uuid.UUID, amount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Tokens += amount
	return nil
}

func (r *memRepo) UpsertAvailableDay(_ context.Context, date time.Time, dayType DayType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.days[Day(date)] = AvailableDay{Date: Day(date), DayType: dayType}
	return nil
}

func (r *memRepo) DeleteAvailableDays(_ context.Context, from, to time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for d := range r.days {
		if !d.Before(Day(from)) && !d.After(Day(to)) {
			delete(r.days, d)
			n++
		}
	}
	return n, nil
}

func (r *memRepo) GetAvailableDay(_ context.Context, date time.Time) (*AvailableDay, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.days[Day(date)]
	if !ok {
		return nil, ErrAvailableDayNotFound
	}
	return &d, nil
}

func (r *memRepo) ListAvailableDays(_ context.Context, from, to *time.Time) ([]AvailableDay, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AvailableDay
	for d, day := range r.days {
		if from != nil && d.Before(Day(*from)) {
			continue
		}
		if to != nil && d.After(Day(*to)) {
			continue
		}
		out = append(out, day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (r *memRepo) CreateAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.Date = Day(cp.Date)
	r.seq++
	cp.CreatedAt = time.Unix(int64(r.seq), 0)
	cp.UpdatedAt = cp.CreatedAt
	r.appts[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) list(keep func(*Appointment) bool, less func(a, b Appointment) bool) []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if keep(a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func byDateAsc(a, b Appointment) bool {
	if a.Date.Equal(b.Date) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Date.Before(b.Date)
}

func (r *memRepo) ListAppointmentsByDate(_ context.Context, date time.Time) ([]Appointment, error) {
	return r.list(func(a *Appointment) bool { return a.Date.Equal(Day(date)) }, byDateAsc), nil
}

func (r *memRepo) ListAppointmentsByOwner(_ context.Context, userID uuid.UUID) ([]Appointment, error) {
	return r.list(
		func(a *Appointment) bool { return a.UserID != nil && *a.UserID == userID },
		func(a, b Appointment) bool { return byDateAsc(b, a) },
	), nil
}

func (r *memRepo) ListAppointments(_ context.Context, f AppointmentFilter) ([]Appointment, error) {
	return r.list(func(a *Appointment) bool {
		if f.Date != nil && !a.Date.Equal(Day(*f.Date)) {
			return false
		}
		if f.From != nil && a.Date.Before(Day(*f.From)) {
			return false
		}
		if f.To != nil && a.Date.After(Day(*f.To)) {
			return false
		}
		return true
	}, byDateAsc), nil
}

func (r *memRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, status Status, reason *string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a.Status = status
	a.Reason = reason
	cp := *a
	return &cp, nil
}

func (r *memRepo) DeleteAppointment(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.appts[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(r.appts, id)
	return nil
}

func (r *memRepo) CountAppointments(_ context.Context, date time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.appts {
		if a.Date.Equal(Day(date)) {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) SetSpotsLeft(_ context.Context, date time.Time, spotsLeft int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, a := range r.appts {
		if a.Date.Equal(Day(date)) && a.SpotsLeft != spotsLeft {
			a.SpotsLeft = spotsLeft
			n++
		}
	}
	return n, nil
}

func (r *memRepo) ListBookedDates(_ context.Context) ([]time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[time.Time]bool{}
	var out []time.Time
	for _, a := range r.appts {
		if !seen[a.Date] {
			seen[a.Date] = true
			out = append(out, a.Date)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (r *memRepo) WithinTx(_ context.Context, fn func(tx Repository) error) error {
	return fn(r)
}

func (r *memRepo) WithinDate(ctx context.Context, date time.Time, fn func(tx Repository) error) error {
	m, _ := r.dateLocks.LoadOrStore(Day(date), &sync.Mutex{})
	m.(*sync.Mutex).Lock()
	defer m.(*sync.Mutex).Unlock()
	return fn(r)
}

// memLocker serialises per date in process, standing in for the Redis lock.
type memLocker struct {
	locks sync.Map
	err   error // returned instead of running fn, e.g. redisclient.ErrLockNotAcquired
}

func (l *memLocker) WithDateLock(ctx context.Context, date time.Time, fn func(ctx context.Context) error) error {
	if l.err != nil {
		return l.err
	}
	m, _ := l.locks.LoadOrStore(Day(date), &sync.Mutex{})
	m.(*sync.Mutex).Lock()
	defer m.(*sync.Mutex).Unlock()
	return fn(ctx)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) subjects() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.Subject)
	}
	return out
}

func (n *recordingNotifier) last() notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[len(n.sent)-1]
}

type fixture struct {
	repo     *memRepo
	locker   *memLocker
	notifier *recordingNotifier
	svc      *Service
	staff    Principal
	super    Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemRepo()
	locker := &memLocker{}
	notifier := &recordingNotifier{}
	svc := NewService(repo, locker, notifier, config.Config{NotifyTimeout: time.Second}, zap.NewNop(), nil)

	staffUser := repo.addUser(true, false)
	superUser := repo.addUser(true, true)

	return &fixture{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		svc:      svc,
		staff:    Principal{UserID: staffUser.ID, IsStaff: true},
		super:    Principal{UserID: superUser.ID, IsStaff: true, IsSuperuser: true},
	}
}

func (f *fixture) open(t *testing.T, date string, dt DayType) {
	t.Helper()
	_, err := f.svc.SetAvailability(context.Background(), f.staff, date, date, string(dt))
	require.NoError(t, err)
}

func (f *fixture) customer() (Principal, *User) {
	u := f.repo.addUser(false, false)
	return Principal{UserID: u.ID}, u
}

func (f *fixture) book(t *testing.T, date string) (*Appointment, Principal) {
	t.Helper()
	p, _ := f.customer()
	appt, err := f.svc.BookForUser(context.Background(), p, uuid.Nil, date)
	require.NoError(t, err)
	return appt, p
}
