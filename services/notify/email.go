package notifysvc

import (
	"context"
	"net/mail"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-comms/core"
	"github.com/trezcool/masomo-comms/core/communication"
)

const communicationTemplate = "communication"

var ErrNoEmail = errors.New("guardian has no email address")

// emailNotifier delivers a communication to a guardian by email.
type emailNotifier struct {
	emailSvc core.EmailService
}

var _ communication.Notifier = (*emailNotifier)(nil)

func NewEmailNotifier(emailSvc core.EmailService) communication.Notifier {
	return &emailNotifier{emailSvc: emailSvc}
}

type templateData struct {
	GuardianName string
	CourseName   string
	Title        string
	Message      string
	SendDate     string
}

func (n emailNotifier) Notify(ctx context.Context, comm communication.Communication, guardian communication.Guardian) error {
	if guardian.Email == "" {
		return ErrNoEmail
	}

	var courseName string
	if comm.Course != nil {
		courseName = comm.Course.Name
	}
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: guardian.Name, Address: guardian.Email}},
		Subject:      comm.Title,
		TemplateName: communicationTemplate,
		TemplateData: templateData{
			GuardianName: guardian.Name,
			CourseName:   courseName,
			Title:        comm.Title,
			Message:      comm.Message,
			SendDate:     comm.SendDate.String(),
		},
	}
	return errors.Wrapf(n.emailSvc.SendMessage(ctx, msg), "emailing %s", guardian.Email)
}
