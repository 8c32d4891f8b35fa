package notification

import (
	"bytes"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/energy-reporting/internal/status"
	"github.com/smukkama/energy-reporting/pkg/config"
)

const reportTemplate = `
Energy Reporting Job {{if .Error}}Aborted{{else}}Completed With Failures{{end}}
=========================================

Job: {{.Job}}
Run ID: {{.RunID}}
Started: {{.StartedAt.Format "2006-01-02 15:04:05 MST"}}
Duration: {{.Duration}}
Result: {{.Summary}}
{{if .Error}}
Error:
{{.Error}}
{{end}}{{if .Failures}}
Failures:
{{range .Failures}}  - {{.Key}}: {{.Error}}
{{end}}{{end}}
Failed units are retried on the next scheduled run. Run a backfill to recompute
older days once the cause is fixed.

---
Energy Reporting Notification System
`

var reportTmpl = template.Must(template.New("report").Parse(reportTemplate))

const dialTimeout = 10 * time.Second

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends email notifications for job runs
type EmailNotifier struct {
	config *config.SMTPConfig
	send   sendFunc
	now    func() time.Time
	logger *zap.Logger
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.SMTPConfig, logger *zap.Logger) *EmailNotifier {
	return &EmailNotifier{config: cfg, send: smtp.SendMail, now: time.Now, logger: logger.Named("email")}
}

// Configured reports whether SMTP credentials and a recipient are set
func (e *EmailNotifier) Configured() bool {
	return e.config.Username != "" && e.config.Password != "" && e.config.To != ""
}

// SendJobReport emails a report whose run had failures. Clean runs are not sent.
func (e *EmailNotifier) SendJobReport(report *status.Report) error {
	if !report.HasFailures() {
		return nil
	}

	subject := fmt.Sprintf("Energy report job %s: %s", report.Job, report.Summary())
	if report.Error != "" {
		subject = fmt.Sprintf("Energy report job %s aborted", report.Job)
	}

	body, err := renderReport(report)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}
	return e.sendEmail(subject, body)
}

func renderReport(report *status.Report) (string, error) {
	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, report); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (e *EmailNotifier) sendEmail(subject, body string) error {
	// Skip sending if SMTP is not configured
	if !e.Configured() {
		e.logger.Info("SMTP not configured, skipping email", zap.String("subject", subject))
		return nil
	}

	recipients := strings.Split(e.config.To, ",")
	for i := range recipients {
		recipients[i] = strings.TrimSpace(recipients[i])
	}

	// Construct message
	message := fmt.Sprintf("From: %s\r\n", e.config.From)
	message += fmt.Sprintf("To: %s\r\n", strings.Join(recipients, ", "))
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += fmt.Sprintf("Date: %s\r\n", e.now().Format(time.RFC1123Z))
	message += "\r\n"
	message += body

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := e.send(addr, auth, e.config.From, recipients, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	e.logger.Info("email sent", zap.String("subject", subject), zap.Int("recipients", len(recipients)))
	return nil
}

// TestConnection tests the SMTP connection
func (e *EmailNotifier) TestConnection() error {
	if e.config.Username == "" {
		return fmt.Errorf("SMTP not configured")
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	client, err := smtp.NewClient(conn, e.config.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to greet SMTP server: %w", err)
	}
	defer client.Close()

	e.logger.Info("SMTP connection test successful", zap.String("addr", addr))
	return nil
}
