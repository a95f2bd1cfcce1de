package appointment

import (
	"context"
	"fmt"
	"time"
)

// maxAvailabilityRange bounds one set-availability command to about a year.
const maxAvailabilityRange = 366

func parseRange(start, end string) (time.Time, time.Time, error) {
	from, err := ParseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := ParseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start date %s is after end date %s", ErrInvalidRange, start, end)
	}
	return from, to, nil
}

func requireAdmin(p Principal) error {
	if !p.IsAdmin() {
		return fmt.Errorf("%w: staff only", ErrForbidden)
	}
	return nil
}

// SetAvailability opens every day from start to end inclusive under dayType,
// replacing the type of days that are already open.
func (s *Service) SetAvailability(ctx context.Context, p Principal, start, end, dayType string) (int, error) {
	if err := requireAdmin(p); err != nil {
		return 0, err
	}
	from, to, err := parseRange(start, end)
	if err != nil {
		return 0, err
	}
	dt, err := ParseDayType(dayType)
	if err != nil {
		return 0, err
	}

	days := int(to.Sub(from).Hours()/24) + 1
	if days > maxAvailabilityRange {
		return 0, fmt.Errorf("%w: at most %d days per request, got %d", ErrInvalidRange, maxAvailabilityRange, days)
	}

	err = s.repo.WithinTx(ctx, func(tx Repository) error {
		for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
			if err := tx.UpsertAvailableDay(ctx, d, dt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("set availability: %w", err)
	}

	s.logEvent(ctx, nil, EventAvailabilitySet, map[string]any{
		"start_date": from.Format(DateLayout),
		"end_date":   to.Format(DateLayout),
		"day_type":   dt,
		"days":       days,
		"actor":      p.UserID.String(),
	})

	return days, nil
}

// RemoveAvailability closes every day from start to end inclusive.
// Appointments already booked on those days are kept.
func (s *Service) RemoveAvailability(ctx context.Context, p Principal, start, end string) (int, error) {
	if err := requireAdmin(p); err != nil {
		return 0, err
	}
	from, to, err := parseRange(start, end)
	if err != nil {
		return 0, err
	}

	n, err := s.repo.DeleteAvailableDays(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("remove availability: %w", err)
	}

	s.logEvent(ctx, nil, EventAvailabilityRemoved, map[string]any{
		"start_date": from.Format(DateLayout),
		"end_date":   to.Format(DateLayout),
		"removed":    n,
		"actor":      p.UserID.String(),
	})

	return int(n), nil
}

// GetAvailability returns the open day on date, or ErrAvailableDayNotFound when closed.
func (s *Service) GetAvailability(ctx context.Context, date time.Time) (*AvailableDay, error) {
	return s.repo.GetAvailableDay(ctx, Day(date))
}

// ListAvailability joins each open day in [from, to] with its live bookings.
func (s *Service) ListAvailability(ctx context.Context, from, to *time.Time) ([]DayAvailability, error) {
	if from != nil && to != nil && from.After(*to) {
		return nil, fmt.Errorf("%w: from is after to", ErrInvalidRange)
	}

	days, err := s.repo.ListAvailableDays(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list available days: %w", err)
	}
	if len(days) == 0 {
		return []DayAvailability{}, nil
	}

	first, last := days[0].Date, days[len(days)-1].Date
	appts, err := s.repo.ListAppointments(ctx, AppointmentFilter{From: &first, To: &last})
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	byDate := make(map[time.Time][]Appointment, len(days))
	for _, a := range appts {
		byDate[Day(a.Date)] = append(byDate[Day(a.Date)], a)
	}

	out := make([]DayAvailability, 0, len(days))
	for _, d := range days {
		booked := byDate[Day(d.Date)]
		if booked == nil {
			booked = []Appointment{}
		}
		out = append(out, DayAvailability{
			Date:         d.Date,
			DayType:      d.DayType,
			SpotsLeft:    spotsAfter(len(booked)),
			Appointments: booked,
		})
	}
	return out, nil
}
