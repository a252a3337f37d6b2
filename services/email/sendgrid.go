package emailsvc

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sethvargo/go-retry"

	"github.com/eschool-app/eschool/core"
)

var (
	host     = "https://api.sendgrid.com"
	endpoint = "/v3/mail/send"

	sendAttempts uint64 = 3
	sendBackoff         = 500 * time.Millisecond
)

type SendgridService struct {
	dispatcher
	key        string
	from       *sgmail.Email
	subjPrefix string
	logger     core.Logger
	api        func(req rest.Request) (*rest.Response, error)
}

var _ core.EmailService = (*SendgridService)(nil)

func NewSendgridService(logger core.Logger, conf *core.Config) *SendgridService {
	from := conf.DefaultFromEmail()
	return &SendgridService{
		key:        conf.SendgridApiKey,
		from:       sgmail.NewEmail(from.Name, from.Address),
		subjPrefix: "[" + conf.AppName + "] ",
		logger:     logger,
		api:        sendgrid.API,
	}
}

func (svc *SendgridService) SendMessages(messages ...*core.EmailMessage) {
	svc.dispatch(messages, func(msg *core.EmailMessage) {
		if !deliverable(msg, svc.logger) {
			return
		}
		if err := svc.send(context.Background(), *msg); err != nil {
			svc.logger.Error(fmt.Sprintf("sending email %q: %v", msg.Subject, err), err)
		}
	})
}

func (svc *SendgridService) prepare(msg core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = svc.subjPrefix + msg.Subject

	for _, to := range msg.To {
		p.AddTos(sgEmail(to))
	}
	for _, cc := range msg.Cc {
		p.AddCCs(sgEmail(cc))
	}
	for _, bcc := range msg.Bcc {
		p.AddBCCs(sgEmail(bcc))
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	m.AddPersonalizations(p)

	m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}

	for _, at := range msg.Attachments {
		m.AddAttachment(&sgmail.Attachment{
			Content:     at.Content.String(),
			Type:        at.ContentType,
			Filename:    at.Filename,
			Disposition: "attachment",
		})
	}
	return m
}

func sgEmail(addr mail.Address) *sgmail.Email {
	return sgmail.NewEmail(addr.Name, addr.Address)
}

// send posts the message; server errors and rate limiting are retried.
func (svc *SendgridService) send(ctx context.Context, msg core.EmailMessage) error {
	body := sgmail.GetRequestBody(svc.prepare(msg))
	backoff := retry.WithMaxRetries(sendAttempts-1, retry.NewExponential(sendBackoff))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req := sendgrid.GetRequest(svc.key, endpoint, host)
		req.Method = rest.Post
		req.Body = body

		res, err := svc.api(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		switch {
		case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError:
			return retry.RetryableError(errors.Errorf("status %d: %s", res.StatusCode, res.Body))
		case res.StatusCode >= http.StatusBadRequest:
			return errors.Errorf("status %d: %s", res.StatusCode, res.Body)
		}
		return nil
	})
}
