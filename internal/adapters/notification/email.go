// Package notification delivers anomaly alerts to users over email.
package notification

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"time"

	"github.com/enersight/peakd/internal/domain/mark"
	"github.com/enersight/peakd/pkg/logger"
)

// SMTPConfig holds the mail relay settings. An empty username or
// password means mail is disabled; alerts are then logged instead of
// sent so a bare development setup still works end to end.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailNotifier implements mark.Notifier over plain SMTP.
type EmailNotifier struct {
	cfg  SMTPConfig
	log  logger.Logger
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates an email notifier.
func NewEmailNotifier(cfg SMTPConfig, opts ...Option) *EmailNotifier {
	n := &EmailNotifier{
		cfg:  cfg,
		log:  logger.Named("notification"),
		send: smtp.SendMail,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var alertTemplate = template.Must(template.New("anomaly").Parse(`
<html>
<body>
<h2>Unusual energy use detected</h2>
<p>Hi {{.Name}},</p>
<p>Your sensor <b>{{.SensorID}}</b> recorded an unusual consumption spike
of <b>{{printf "%.1f" .Value}} W</b> between
{{.Start.Format "15:04"}} and {{.End.Format "15:04 on Jan 2, 2006"}} (UTC).</p>
<p>If this was expected, no action is needed.</p>
<p style="color:#888;font-size:12px">
<a href="{{.UnsubscribeLink}}">Unsubscribe</a> from anomaly alerts.
</p>
</body>
</html>
`))

// SendAnomalyAlert renders and mails one alert. When SMTP is not
// configured the alert is logged and dropped without error.
func (e *EmailNotifier) SendAnomalyAlert(ctx context.Context, alert mark.Alert) error {
	body, err := renderAlert(alert)
	if err != nil {
		return fmt.Errorf("render alert email: %w", err)
	}

	subject := fmt.Sprintf("Unusual energy use on sensor %s", alert.SensorID)

	if e.cfg.Username == "" || e.cfg.Password == "" {
		e.log.Info(ctx, "smtp not configured, skipping alert email",
			logger.String("to", alert.To),
			logger.String("subject", subject))
		return nil
	}

	msg := fmt.Sprintf("From: %s\r\n", e.cfg.From)
	msg += fmt.Sprintf("To: %s\r\n", alert.To)
	msg += fmt.Sprintf("Subject: %s\r\n", subject)
	msg += fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg += "MIME-Version: 1.0\r\n"
	msg += "Content-Type: text/html; charset=\"UTF-8\"\r\n"
	msg += "\r\n"
	msg += body

	auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)

	if err := e.send(addr, auth, e.cfg.From, []string{alert.To}, []byte(msg)); err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}

	e.log.Info(ctx, "anomaly alert sent",
		logger.String("to", alert.To),
		logger.String("sensor_id", alert.SensorID))
	return nil
}

func renderAlert(alert mark.Alert) (string, error) {
	var buf bytes.Buffer
	if err := alertTemplate.Execute(&buf, alert); err != nil {
		return "", err
	}
	return buf.String(), nil
}
