package appointment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/tea-session-scheduling/internal/config"
	redisclient "github.com/hackgods/tea-session-scheduling/internal/redis"
)

const june1 = "2025-06-01"

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestBookFillsDayThenRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, june1, DayTeaTasting)

	for want := 3; want >= 0; want-- {
		appt, _ := f.book(t, june1)
		assert.Equal(t, want, appt.SpotsLeft)
		assert.Equal(t, StatusPending, appt.Status)
		assert.Equal(t, DayTeaTasting, appt.DayType)
	}

	for _, a := range f.repo.onDate(mustDate(t, june1)) {
		assert.Equal(t, 0, a.SpotsLeft, "every appointment on the date shares the counter")
	}

	p, _ := f.customer()
	_, err := f.svc.BookForUser(ctx, p, uuid.Nil, june1)
	require.ErrorIs(t, err, ErrNoSlotsLeft)
	require.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Len(t, f.repo.onDate(mustDate(t, june1)), DailyCapacity)
}

func TestBookClosedDay(t *testing.T) {
	f := newFixture(t)
	p, _ := f.customer()

	_, err := f.svc.BookForUser(context.Background(), p, uuid.Nil, june1)
	require.ErrorIs(t, err, ErrDayNotAvailable)
	assert.Empty(t, f.repo.onDate(mustDate(t, june1)))
}

func TestBookRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, june1, DayTeaTasting)
	p, _ := f.customer()

	_, err := f.svc.BookForUser(ctx, p, uuid.Nil, "06/01/2025")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.BookForUser(ctx, Principal{}, uuid.Nil, june1)
	require.ErrorIs(t, err, ErrForbidden)

	other, _ := f.customer()
	_, err = f.svc.BookForUser(ctx, p, other.UserID, june1)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.BookForUser(ctx, f.staff, uuid.New(), june1)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestStaffBooksForUser(t *testing.T) {
	f := newFixture(t)
	f.open(t, june1, DayIntroGongfu)
	p, _ := f.customer()

	appt, err := f.svc.BookForUser(context.Background(), f.staff, p.UserID, june1)
	require.NoError(t, err)
	require.NotNil(t, appt.UserID)
	assert.Equal(t, p.UserID, *appt.UserID)
}

func TestBookNotifiesOwnerAndLogsEvent(t *testing.T) {
	f := newFixture(t)
	f.open(t, june1, DayTeaTasting)
	_, u := f.customer()

	_, err := f.svc.BookForUser(context.Background(), Principal{UserID: u.ID}, uuid.Nil, june1)
	require.NoError(t, err)

	msg := f.notifier.last()
	assert.Equal(t, "Appointment Request", msg.Subject)
	assert.Equal(t, []string{u.Email}, msg.To)
	assert.Contains(t, msg.Body, "2025-06-01 is pending approval")
	assert.Contains(t, f.repo.eventTypes(), EventAppointmentCreated)
}

func TestBookSurvivesNotifierFailure(t *testing.T) {
	f := newFixture(t)
	f.open(t, june1, DayTeaTasting)
	f.notifier.err = errors.New("smtp down")

	appt, _ := f.book(t, june1)
	assert.Equal(t, 3, appt.SpotsLeft)
}

func TestBookDateBusy(t *testing.T) {
	for name, lockErr := range map[string]error{
		"lock held":         redisclient.ErrLockNotAcquired,
		"redis unreachable": fmt.Errorf("%w: dial tcp: connection refused", redisclient.ErrLockUnavailable),
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.open(t, june1, DayTeaTasting)
			f.locker.err = lockErr
			p, _ := f.customer()

			_, err := f.svc.BookForUser(context.Background(), p, uuid.Nil, june1)
			require.ErrorIs(t, err, ErrDateBusy)
		})
	}
}

func TestConcurrentBookingsNeverOverfill(t *testing.T) {
	f := newFixture(t)
	f.open(t, june1, DayGuidedMeditation)

	const callers = 24
	principals := make([]Principal, callers)
	for i := range principals {
		principals[i], _ = f.customer()
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		full    int
		spotSet = map[int]bool{}
	)
	for _, p := range principals {
		wg.Add(1)
		go func(p Principal) {
			defer wg.Done()
			appt, err := f.svc.BookForUser(context.Background(), p, uuid.Nil, june1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
				spotSet[appt.SpotsLeft] = true
			case errors.Is(err, ErrNoSlotsLeft):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, DailyCapacity, ok)
	assert.Equal(t, callers-DailyCapacity, full)
	assert.Equal(t, map[int]bool{0: true, 1: true, 2: true, 3: true}, spotSet)
	assert.Len(t, f.repo.onDate(mustDate(t, june1)), DailyCapacity)
}

func TestDenyRecomputesAndFreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, june1, DayTeaTasting)

	var ids []uuid.UUID
	for i := 0; i < DailyCapacity; i++ {
		appt, _ := f.book(t, june1)
		_, err := f.svc.Confirm(ctx, f.staff, appt.ID)
		require.NoError(t, err)
		ids = append(ids, appt.ID)
	}

	require.NoError(t, f.svc.Deny(ctx, f.staff, ids[1]))

	_, err := f.repo.GetAppointmentByID(ctx, ids[1])
	require.ErrorIs(t, err, ErrAppointmentNotFound)

	remaining := f.repo.onDate(mustDate(t, june1))
	require.Len(t, remaining, 3)
	for _, a := range remaining {
		assert.Equal(t, 1, a.SpotsLeft)
	}
	assert.Equal(t, "Appointment Denied", f.notifier.last().Subject)

	appt, _ := f.book(t, june1)
	assert.Equal(t, 0, appt.SpotsLeft)
}

func TestDenyErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, june1, DayTeaTasting)
	appt, owner := f.book(t, june1)

	require.ErrorIs(t, f.svc.Deny(ctx, owner, appt.ID), ErrForbidden)
	require.ErrorIs(t, f.svc.Deny(ctx, f.staff, uuid.New()), ErrNotFound)

	require.NoError(t, f.svc.Deny(ctx, f.staff, appt.ID))
	require.ErrorIs(t, f.svc.Deny(ctx, f.staff, appt.ID), ErrAppointmentNotFound)
}

func TestWalkIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, june1, DayTeaTasting)

	guest := WalkIn{FirstName: "Lin", LastName: "Wei", Email: "lin.wei@example.com", Phone: "+15550100"}

	_, err := f.svc.BookWalkIn(ctx, f.staff, june1, guest)
	require.ErrorIs(t, err, ErrForbidden, "staff without superuser cannot enter walk-ins")

	regular, _ := f.customer()
	_, err = f.svc.BookWalkIn(ctx, regular, june1, guest)
	require.ErrorIs(t, err, ErrForbidden)

	appt, err := f.svc.BookWalkIn(ctx, f.super, june1, guest)
	require.NoError(t, err)
	assert.Nil(t, appt.UserID)
	require.NotNil(t, appt.WalkIn)
	assert.Equal(t, "lin.wei@example.com", appt.WalkIn.Email)
	assert.Equal(t, 3, appt.SpotsLeft)
	assert.Equal(t, []string{"lin.wei@example.com"}, f.notifier.last().To)
}

func TestWalkInValidation(t *testing.T) {
	f := newFixture(t)
	f.open(t, june1, DayTeaTasting)

	_, err := f.svc.BookWalkIn(context.Background(), f.super, june1, WalkIn{FirstName: "Lin", Email: "not-an-email"})
	require.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, f.repo.onDate(mustDate(t, june1)))
}

func TestWalkInSharesCapacity(t *testing.T) {
	f := newFixture(t)
	f.open(t, june1, DayTeaTasting)
	for i := 0; i < 3; i++ {
		f.book(t, june1)
	}
	guest := WalkIn{FirstName: "Ana", LastName: "Ruiz", Email: "ana@example.com", Phone: "5550101"}

	appt, err := f.svc.BookWalkIn(context.Background(), f.super, june1, guest)
	require.NoError(t, err)
	assert.Equal(t, 0, appt.SpotsLeft)

	_, err = f.svc.BookWalkIn(context.Background(), f.super, june1, guest)
	require.ErrorIs(t, err, ErrNoSlotsLeft)
}

func TestConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, june1, DayTeaTasting)
	appt, owner := f.book(t, june1)

	_, err := f.svc.Confirm(ctx, owner, appt.ID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Flag(ctx, f.staff, appt.ID, "double booked")
	require.NoError(t, err)

	confirmed, err := f.svc.Confirm(ctx, f.staff, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
	assert.Nil(t, confirmed.Reason)
	assert.Equal(t, "Appointment Confirmed", f.notifier.last().Subject)

	_, err = f.svc.Complete(ctx, f.staff, appt.ID)
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, f.staff, appt.ID)
	require.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, june1, DayTeaTasting)
	appt, owner := f.book(t, june1)
	stranger, _ := f.customer()

	_, err := f.svc.Flag(ctx, owner, appt.ID, "   ")
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Flag(ctx, stranger, appt.ID, "looks wrong")
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Flag(ctx, owner, uuid.New(), "missing")
	require.ErrorIs(t, err, ErrNotFound)

	flagged, err := f.svc.Flag(ctx, owner, appt.ID, "need to reschedule")
	require.NoError(t, err)
	assert.Equal(t, StatusFlagged, flagged.Status)
	require.NotNil(t, flagged.Reason)
	assert.Equal(t, "need to reschedule", *flagged.Reason)

	msg := f.notifier.last()
	assert.Equal(t, "Appointment Flagged", msg.Subject)
	assert.Len(t, msg.To, 2, "owner flags go to every staff account")

	_, err = f.svc.Flag(ctx, owner, appt.ID, "again")
	require.ErrorIs(t, err, ErrInvalidStatusTransition, "flagged cannot be flagged again")
}

func TestOwnerFlagReachesSuperuserOnlyAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, june1, DayTeaTasting)
	super := f.repo.addUser(false, true)
	appt, owner := f.book(t, june1)

	_, err := f.svc.Flag(ctx, owner, appt.ID, "cannot make it")
	require.NoError(t, err)

	msg := f.notifier.last()
	assert.Contains(t, msg.To, super.Email)
	assert.Len(t, msg.To, 3)
}

// interleavingRepo runs hook once, after the first unlocked appointment read
// returns, so a competing write lands between that read and the caller's update.
type interleavingRepo struct {
	*memRepo
	hook func()
}

func (r *interleavingRepo) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.memRepo.GetAppointmentByID(ctx, id)
	if h := r.hook; h != nil {
		r.hook = nil
		h()
	}
	return a, err
}

func TestTransitionsCannotReopenCompleted(t *testing.T) {
	tests := []struct {
		name string
		act  func(ctx context.Context, svc *Service, p Principal, id uuid.UUID) error
	}{
		{"confirm", func(ctx context.Context, svc *Service, p Principal, id uuid.UUID) error {
			_, err := svc.Confirm(ctx, p, id)
			return err
		}},
		{"flag", func(ctx context.Context, svc *Service, p Principal, id uuid.UUID) error {
			_, err := svc.Flag(ctx, p, id, "late arrival")
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.open(t, june1, DayTeaTasting)
			appt, owner := f.book(t, june1)

			repo := &interleavingRepo{memRepo: f.repo}
			svc := NewService(repo, f.locker, f.notifier, config.Config{NotifyTimeout: time.Second}, zap.NewNop(), nil)
			repo.hook = func() {
				_, err := f.svc.Complete(ctx, f.staff, appt.ID)
				require.NoError(t, err)
			}

			err := tt.act(ctx, svc, f.staff, appt.ID)
			require.ErrorIs(t, err, ErrInvalidStatusTransition)

			stored, err := f.repo.GetAppointmentByID(ctx, appt.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusToCompletion, stored.Status)

			_, err = f.svc.Complete(ctx, f.staff, appt.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, f.repo.tokens(owner.UserID))
		})
	}
}

func TestConcurrentTransitionsAwardOneToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, june1, DayTeaTasting)
	appt, owner := f.book(t, june1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Complete(ctx, f.staff, appt.ID)
		}()
		go func() {
			defer wg.Done()
			_, _ = f.svc.Confirm(ctx, f.staff, appt.ID)
		}()
		go func() {
			defer wg.Done()
			_, _ = f.svc.Flag(ctx, f.staff, appt.ID, "recheck")
		}()
	}
	wg.Wait()

	_, err := f.svc.Complete(ctx, f.staff, appt.ID)
	require.NoError(t, err)

	stored, err := f.repo.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusToCompletion, stored.Status)
	assert.Equal(t, 1, f.repo.tokens(owner.UserID))
}

func TestStaffFlagNotifiesOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, june1, DayTeaTasting)
	_, u := f.customer()
	appt, err := f.svc.BookForUser(ctx, Principal{UserID: u.ID}, uuid.Nil, june1)
	require.NoError(t, err)

	_, err = f.svc.Flag(ctx, f.staff, appt.ID, "payment missing")
	require.NoError(t, err)

	msg := f.notifier.last()
	assert.Equal(t, []string{u.Email}, msg.To)
	assert.Contains(t, msg.Body, "payment missing")
}

func TestCompleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, june1, DayTeaTasting)
	appt, owner := f.book(t, june1)

	_, err := f.svc.Complete(ctx, owner, appt.ID)
	require.ErrorIs(t, err, ErrForbidden)

	for i := 0; i < 3; i++ {
		done, err := f.svc.Complete(ctx, f.staff, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusToCompletion, done.Status)
	}

	assert.Equal(t, 1, f.repo.tokens(owner.UserID))

	completed := 0
	for _, s := range f.notifier.subjects() {
		if s == "Appointment Completed" {
			completed++
		}
	}
	assert.Equal(t, 1, completed)

	_, err = f.svc.Flag(ctx, f.staff, appt.ID, "late")
	require.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestCompleteFlaggedClearsReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, june1, DayTeaTasting)
	appt, owner := f.book(t, june1)

	_, err := f.svc.Flag(ctx, owner, appt.ID, "running late")
	require.NoError(t, err)

	done, err := f.svc.Complete(ctx, f.staff, appt.ID)
	require.NoError(t, err)
	assert.Nil(t, done.Reason)
	assert.Equal(t, 1, f.repo.tokens(owner.UserID))
}

func TestCompleteWalkInAwardsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, june1, DayTeaTasting)
	appt, err := f.svc.BookWalkIn(ctx, f.super, june1,
		WalkIn{FirstName: "Ana", LastName: "Ruiz", Email: "ana@example.com", Phone: "5550101"})
	require.NoError(t, err)

	done, err := f.svc.Complete(ctx, f.staff, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusToCompletion, done.Status)
	assert.Equal(t, 0, f.repo.tokens(f.staff.UserID))
	assert.Equal(t, 0, f.repo.tokens(f.super.UserID))
}

func TestGetAppointmentVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, june1, DayTeaTasting)
	appt, owner := f.book(t, june1)
	stranger, _ := f.customer()

	got, err := f.svc.GetAppointment(ctx, owner, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, got.ID)

	_, err = f.svc.GetAppointment(ctx, f.staff, appt.ID)
	require.NoError(t, err)

	_, err = f.svc.GetAppointment(ctx, stranger, appt.ID)
	require.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestListAppointments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "2025-06-01", DayTeaTasting)
	f.open(t, "2025-06-02", DayIntroGongfu)
	_, u := f.customer()
	p := Principal{UserID: u.ID}

	_, err := f.svc.BookForUser(ctx, p, uuid.Nil, "2025-06-01")
	require.NoError(t, err)
	_, err = f.svc.BookForUser(ctx, p, uuid.Nil, "2025-06-02")
	require.NoError(t, err)
	f.book(t, "2025-06-02")

	own, err := f.svc.ListAppointments(ctx, p, nil)
	require.NoError(t, err)
	require.Len(t, own, 2)
	assert.Equal(t, "2025-06-02", own[0].Date.Format(DateLayout), "newest date first")

	all, err := f.svc.ListAppointments(ctx, f.staff, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	d := mustDate(t, "2025-06-02")
	onDay, err := f.svc.ListAppointments(ctx, f.staff, &d)
	require.NoError(t, err)
	assert.Len(t, onDay, 2)

	_, err = f.svc.ListAppointments(ctx, Principal{}, nil)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "2025-06-01", DayTeaTasting)
	f.open(t, "2025-06-02", DayTeaTasting)
	f.book(t, "2025-06-01")
	f.book(t, "2025-06-01")
	f.book(t, "2025-06-02")

	// simulate drift on the first date and close the second one
	_, err := f.repo.SetSpotsLeft(ctx, mustDate(t, "2025-06-01"), 4)
	require.NoError(t, err)
	_, err = f.svc.RemoveAvailability(ctx, f.staff, "2025-06-02", "2025-06-02")
	require.NoError(t, err)

	rewritten, orphaned, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rewritten)
	assert.Equal(t, 1, orphaned)
	for _, a := range f.repo.onDate(mustDate(t, "2025-06-01")) {
		assert.Equal(t, 2, a.SpotsLeft)
	}
	assert.Contains(t, f.repo.eventTypes(), EventCapacityReconciled)
}
