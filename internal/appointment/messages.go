package appointment

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hackgods/tea-session-scheduling/internal/notify"
)

func requestedMessage(a *Appointment) notify.Message {
	return notify.Message{
		Subject: "Appointment Request",
		Body:    fmt.Sprintf("Your appointment on %s is pending approval.", a.Date.Format(DateLayout)),
	}
}

func confirmedMessage(a *Appointment) notify.Message {
	return notify.Message{
		Subject: "Appointment Confirmed",
		Body:    fmt.Sprintf("Your appointment on %s has been confirmed.", a.Date.Format(DateLayout)),
	}
}

func deniedMessage(a *Appointment) notify.Message {
	return notify.Message{
		Subject: "Appointment Denied",
		Body:    fmt.Sprintf("Your appointment on %s has been denied.", a.Date.Format(DateLayout)),
	}
}

func flaggedMessage(a *Appointment) notify.Message {
	return notify.Message{
		Subject: "Appointment Flagged",
		Body: fmt.Sprintf("Your appointment on %s has been flagged for review. Reason: %s",
			a.Date.Format(DateLayout), deref(a.Reason)),
	}
}

func flaggedByOwnerMessage(a *Appointment, owner *User) notify.Message {
	who := "a guest"
	if owner != nil {
		who = owner.Username
	}
	return notify.Message{
		Subject: "Appointment Flagged",
		Body: fmt.Sprintf("The appointment %s on %s was flagged by %s. Reason: %s",
			a.ID, a.Date.Format(DateLayout), who, deref(a.Reason)),
	}
}

func completedMessage(a *Appointment) notify.Message {
	return notify.Message{
		Subject: "Appointment Completed",
		Body:    fmt.Sprintf("Your appointment on %s has been marked as completed.", a.Date.Format(DateLayout)),
	}
}

// ownerAddress resolves the email of the appointment's owner or walk-in guest.
func (s *Service) ownerAddress(ctx context.Context, a *Appointment) []string {
	if a.WalkIn != nil {
		if a.WalkIn.Email == "" {
			return nil
		}
		return []string{a.WalkIn.Email}
	}

	u, err := s.repo.GetUserByID(ctx, *a.UserID)
	if err != nil {
		s.log.Warn("resolve owner email", zap.Stringer("appointment_id", a.ID), zap.Error(err))
		return nil
	}
	if u.Email == "" {
		return nil
	}
	return []string{u.Email}
}

func (s *Service) notifyOwner(ctx context.Context, a *Appointment, msg notify.Message) {
	msg.To = s.ownerAddress(ctx, a)
	s.dispatch(ctx, msg)
}

func (s *Service) notifyAdmins(ctx context.Context, msg notify.Message) {
	emails, err := s.repo.ListAdminEmails(ctx)
	if err != nil {
		s.log.Warn("resolve admin emails", zap.Error(err))
		return
	}
	msg.To = emails
	s.dispatch(ctx, msg)
}
