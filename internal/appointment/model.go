package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DailyCapacity is the number of appointments any open day can hold.
const DailyCapacity = 4

const DateLayout = "2006-01-02"

type DayType string

const (
	DayTeaTasting       DayType = "tea_tasting"
	DayIntroGongfu      DayType = "intro_gongfu"
	DayGuidedMeditation DayType = "guided_meditation"
)

var dayTypeNames = map[DayType]string{
	DayTeaTasting:       "Tea Tasting",
	DayIntroGongfu:      "Intro to Gongfu",
	DayGuidedMeditation: "Guided Meditation",
}

func (d DayType) Valid() bool {
	_, ok := dayTypeNames[d]
	return ok
}

func (d DayType) Display() string {
	if name, ok := dayTypeNames[d]; ok {
		return name
	}
	return string(d)
}

func ParseDayType(s string) (DayType, error) {
	d := DayType(strings.TrimSpace(s))
	if !d.Valid() {
		return "", fmt.Errorf("%w: unknown day type %q", ErrInvalidInput, s)
	}
	return d, nil
}

type Status string

const (
	StatusPending      Status = "pending"
	StatusConfirmed    Status = "confirmed"
	StatusFlagged      Status = "flagged"
	StatusToCompletion Status = "to_completion"
)

func (s Status) Display() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusConfirmed:
		return "Confirmed"
	case StatusFlagged:
		return "Flagged"
	case StatusToCompletion:
		return "To Completion"
	}
	return string(s)
}

// User is the booking core's read model of an account owned by the identity provider.
type User struct {
	ID          uuid.UUID
	Username    string
	Email       string
	FirstName   string
	LastName    string
	PhoneNumber string
	IsStaff     bool
	IsSuperuser bool
	Tokens      int
	CreatedAt   time.Time
}

// Principal is the authenticated caller of a request. The zero value is anonymous.
type Principal struct {
	UserID      uuid.UUID
	IsStaff     bool
	IsSuperuser bool
}

func (p Principal) Anonymous() bool { return p.UserID == uuid.Nil }

func (p Principal) IsAdmin() bool { return p.IsStaff || p.IsSuperuser }

// WalkIn identifies a guest booked at the counter without an account.
type WalkIn struct {
	FirstName string `validate:"required,max=100"`
	LastName  string `validate:"required,max=100"`
	Email     string `validate:"required,email,max=254"`
	Phone     string `validate:"required,min=5,max=32"`
}

type AvailableDay struct {
	Date      time.Time
	DayType   DayType
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Appointment is owned by exactly one of UserID or WalkIn.
type Appointment struct {
	ID        uuid.UUID
	Date      time.Time
	DayType   DayType
	Status    Status
	SpotsLeft int
	Reason    *string
	UserID    *uuid.UUID
	WalkIn    *WalkIn
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Appointment) IsWalkIn() bool { return a.UserID == nil }

func (a *Appointment) OwnedBy(userID uuid.UUID) bool {
	return a.UserID != nil && userID != uuid.Nil && *a.UserID == userID
}

// DayAvailability is an open day joined with its live bookings.
type DayAvailability struct {
	Date         time.Time
	DayType      DayType
	SpotsLeft    int
	Appointments []Appointment
}

type AppointmentFilter struct {
	Date *time.Time
	From *time.Time
	To   *time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// ParseDate parses a YYYY-MM-DD calendar date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidInput, s)
	}
	return d, nil
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
