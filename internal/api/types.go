package api

type CreateAppointmentRequest struct {
	Date   string `json:"date" validate:"required"`
	UserID string `json:"user_id,omitempty" validate:"omitempty,uuid"`
}

type WalkInRequest struct {
	Date      string `json:"date" validate:"required"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Email     string `json:"email" validate:"required"`
	Phone     string `json:"phone" validate:"required"`
}

type FlagRequest struct {
	Reason string `json:"reason"`
}

type SetAvailabilityRequest struct {
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
	DayType   string `json:"day_type" validate:"required"`
}

type RemoveAvailabilityRequest struct {
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
}

type AvailabilityChangeResponse struct {
	Days    int    `json:"days"`
	Message string `json:"message"`
}

type DayView struct {
	Date           string            `json:"date"`
	DayType        string            `json:"day_type"`
	DayTypeDisplay string            `json:"day_type_display"`
	SpotsLeft      int               `json:"spots_left"`
	Appointments   []AppointmentView `json:"appointments,omitempty"`
}

type DenyResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type PrivilegesResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	IsStaff       bool   `json:"is_staff"`
	IsSuperuser   bool   `json:"is_superuser"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
