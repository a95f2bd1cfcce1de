package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/tea-session-scheduling/internal/appointment"
)

// Role decides which appointment fields a viewer may see.
type Role int

const (
	RolePublic Role = iota
	RoleOwner
	RoleAdmin
)

func roleFor(p appointment.Principal, a *appointment.Appointment) Role {
	switch {
	case p.IsAdmin():
		return RoleAdmin
	case a.OwnedBy(p.UserID):
		return RoleOwner
	}
	return RolePublic
}

// Project renders a for a viewer with the given role.
//
//	public: id, date, day type, status, spots left
//	owner:  public + user_id, reason while flagged
//	admin:  owner + reason always, walk-in contact, timestamps
func Project(a *appointment.Appointment, role Role) AppointmentView {
	v := AppointmentView{
		ID:             a.ID,
		Date:           a.Date.Format(appointment.DateLayout),
		DayType:        string(a.DayType),
		DayTypeDisplay: a.DayType.Display(),
		Status:         string(a.Status),
		StatusDisplay:  a.Status.Display(),
		SpotsLeft:      a.SpotsLeft,
		WalkIn:         a.IsWalkIn(),
	}

	switch role {
	case RoleOwner:
		v.UserID = a.UserID
		if a.Status == appointment.StatusFlagged {
			v.Reason = a.Reason
		}
	case RoleAdmin:
		v.UserID = a.UserID
		v.Reason = a.Reason
		if a.WalkIn != nil {
			v.Guest = &WalkInView{
				FirstName: a.WalkIn.FirstName,
				LastName:  a.WalkIn.LastName,
				Email:     a.WalkIn.Email,
				Phone:     a.WalkIn.Phone,
			}
		}
		created, updated := a.CreatedAt, a.UpdatedAt
		v.CreatedAt = &created
		v.UpdatedAt = &updated
	}

	return v
}

func projectAll(p appointment.Principal, appts []appointment.Appointment) []AppointmentView {
	out := make([]AppointmentView, 0, len(appts))
	for i := range appts {
		out = append(out, Project(&appts[i], roleFor(p, &appts[i])))
	}
	return out
}

type AppointmentView struct {
	ID             uuid.UUID   `json:"id"`
	Date           string      `json:"date"`
	DayType        string      `json:"day_type"`
	DayTypeDisplay string      `json:"day_type_display"`
	Status         string      `json:"status"`
	StatusDisplay  string      `json:"status_display"`
	SpotsLeft      int         `json:"spots_left"`
	WalkIn         bool        `json:"walk_in"`
	UserID         *uuid.UUID  `json:"user_id,omitempty"`
	Reason         *string     `json:"reason,omitempty"`
	Guest          *WalkInView `json:"guest,omitempty"`
	CreatedAt      *time.Time  `json:"created_at,omitempty"`
	UpdatedAt      *time.Time  `json:"updated_at,omitempty"`
}

type WalkInView struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}
