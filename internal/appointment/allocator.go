package appointment

import (
	"context"
	"fmt"
	"time"
)

// spotsAfter is the remaining capacity once count appointments exist, floored at zero.
func spotsAfter(count int) int {
	if left := DailyCapacity - count; left > 0 {
		return left
	}
	return 0
}

// RemainingCapacity reports free slots on date for display.
func RemainingCapacity(ctx context.Context, repo Repository, date time.Time) (int, error) {
	n, err := repo.CountAppointments(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("remaining capacity: %w", err)
	}
	return spotsAfter(n), nil
}

// admit returns the current count on date, or ErrNoSlotsLeft when the day is full.
// The raw count is compared so an over-full day is never clamped into looking open.
func admit(ctx context.Context, repo Repository, date time.Time) (int, error) {
	n, err := repo.CountAppointments(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("count appointments: %w", err)
	}
	if n >= DailyCapacity {
		return n, ErrNoSlotsLeft
	}
	return n, nil
}

// RecomputeAndPersist writes the shared spots_left counter onto every appointment
// on date and returns it. Callers must hold the date lock.
func RecomputeAndPersist(ctx context.Context, repo Repository, date time.Time) (int, error) {
	n, err := repo.CountAppointments(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("recompute spots left: %w", err)
	}

	left := spotsAfter(n)
	if _, err := repo.SetSpotsLeft(ctx, date, left); err != nil {
		return 0, fmt.Errorf("recompute spots left: %w", err)
	}
	return left, nil
}
