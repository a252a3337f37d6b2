package emailsvc

import (
	"bytes"
	"log"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sendgrid/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/eschool-app/eschool/core"
)

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) Debug(string, ...interface{}) {}
func (l *recordingLogger) Info(string, ...interface{})  {}
func (l *recordingLogger) Warn(string, ...interface{})  {}
func (l *recordingLogger) Fatal(string, ...interface{}) {}
func (l *recordingLogger) Error(msg string, _ ...interface{}) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func newMessage(subject string, to ...string) *core.EmailMessage {
	msg := &core.EmailMessage{Subject: subject, BodyStr: "Hello " + subject}
	for _, addr := range to {
		msg.To = append(msg.To, mail.Address{Address: addr})
	}
	return msg
}

func TestConsoleService_SendMessages(t *testing.T) {
	defer goleak.VerifyNone(t)

	var buf bytes.Buffer
	svc := NewConsoleService(log.New(&buf, "", 0), &recordingLogger{}, core.NewTestConfig())

	svc.SendMessages(
		newMessage("absence", "parent@test.eschool"),
		newMessage("invoice", "payer@test.eschool"),
		newMessage("nobody"),
	)
	svc.Wait()

	out := buf.String()
	assert.Contains(t, out, "Subject: [eSchool] absence")
	assert.Contains(t, out, "Subject: [eSchool] invoice")
	assert.Contains(t, out, "To: <parent@test.eschool>")
	assert.Contains(t, out, "Hello invoice")
	assert.NotContains(t, out, "nobody")
}

func TestConsoleService_format(t *testing.T) {
	svc := NewConsoleService(log.New(&bytes.Buffer{}, "", 0), &recordingLogger{}, core.NewTestConfig())

	msg := newMessage("report", "finance@test.eschool")
	msg.Cc = []mail.Address{{Address: "admin@test.eschool"}}
	require.NoError(t, msg.Attach(strings.NewReader("date,total\n"), "report.csv", "text/csv"))
	require.NoError(t, msg.Render())

	body, err := svc.format(*msg)
	require.NoError(t, err)
	assert.Contains(t, body, "From: \"eSchool\" <noreply@test.eschool>")
	assert.Contains(t, body, "CC: <admin@test.eschool>")
	assert.Contains(t, body, "Content-Type: multipart/mixed")
	assert.Contains(t, body, "attachment; filename=report.csv")
}

func TestSendgridService_send(t *testing.T) {
	defer goleak.VerifyNone(t)

	origBackoff := sendBackoff
	sendBackoff = time.Millisecond
	defer func() { sendBackoff = origBackoff }()

	tests := []struct {
		name      string
		statuses  []int
		wantCalls int
		wantErr   bool
	}{
		{name: "accepted", statuses: []int{http.StatusAccepted}, wantCalls: 1},
		{name: "retried after server error", statuses: []int{http.StatusBadGateway, http.StatusAccepted}, wantCalls: 2},
		{name: "gives up", statuses: []int{http.StatusInternalServerError, http.StatusInternalServerError, http.StatusInternalServerError}, wantCalls: 3, wantErr: true},
		{name: "bad request is not retried", statuses: []int{http.StatusBadRequest}, wantCalls: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &recordingLogger{}
			svc := NewSendgridService(logger, core.NewTestConfig())

			var mu sync.Mutex
			var calls int
			svc.api = func(req rest.Request) (*rest.Response, error) {
				mu.Lock()
				defer mu.Unlock()
				assert.Equal(t, rest.Post, req.Method)
				assert.Contains(t, string(req.Body), "[eSchool] absence")
				status := tt.statuses[calls]
				calls++
				return &rest.Response{StatusCode: status}, nil
			}

			svc.SendMessages(newMessage("absence", "parent@test.eschool"))
			svc.Wait()

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.Len(t, logger.errors, 1)
			} else {
				assert.Empty(t, logger.errors)
			}
		})
	}
}

func TestMock(t *testing.T) {
	m := NewMock(&recordingLogger{})
	m.SendMessages(newMessage("one", "a@test.eschool"), newMessage("skipped"))

	msgs := m.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello one", msgs[0].TextContent)

	m.Reset()
	assert.Empty(t, m.Messages())
}
