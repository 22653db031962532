package billing

import (
	"github.com/CloudKeepHQ/CloudKeep/app/repository"
	"github.com/CloudKeepHQ/CloudKeep/internal/pkg/mail"
	"github.com/gofiber/fiber/v2/log"
)

// mailSink emails subscription lifecycle notices. Sends run in their own
// goroutine; failures are logged and never surface to the transition that
// triggered them.
type mailSink struct {
	users repository.UserRepository
}

// NewMailSink creates an SMTP-backed notification sink.
func NewMailSink(users repository.UserRepository) NotificationSink {
	return &mailSink{users: users}
}

func (m *mailSink) Notify(userID uint, subject, body string) {
	go func() {
		user, err := m.users.GetByID(userID)
		if err != nil {
			log.Warnf("[Billing] Notification skipped, user %d lookup failed: %v", userID, err)
			return
		}
		if err := mail.SendMail(user.Email, subject, body); err != nil {
			log.Warnf("[Billing] Notification mail to user %d failed: %v", userID, err)
		}
	}()
}
