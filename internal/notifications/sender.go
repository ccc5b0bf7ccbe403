package notifications

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Sender delivers a rendered message to one recipient over one channel.
type Sender interface {
	Channel() enums.NotificationChannel
	Send(ctx context.Context, recipient string, msg Message) error
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender delivers email through an SMTP relay.
type SMTPSender struct {
	addr     string
	from     string
	auth     smtp.Auth
	sendMail sendMailFunc
}

func NewSMTPSender(cfg config.SMTPConfig) (*SMTPSender, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("smtp host required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp from address required")
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPSender{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		from:     cfg.From,
		auth:     auth,
		sendMail: smtp.SendMail,
	}, nil
}

func (s *SMTPSender) Channel() enums.NotificationChannel {
	return enums.NotificationChannelEmail
}

func (s *SMTPSender) Send(ctx context.Context, recipient string, msg Message) error {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return fmt.Errorf("recipient required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.sendMail(s.addr, s.auth, s.from, []string{recipient}, buildMail(s.from, recipient, msg, time.Now()))
}

func buildMail(from, to string, msg Message, at time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", at.UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

func sanitizeHeader(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}

// LogSender stands in for email when no relay is configured.
type LogSender struct {
	logg *logger.Logger
}

func NewLogSender(logg *logger.Logger) *LogSender {
	if logg == nil {
		logg = logger.Nop()
	}
	return &LogSender{logg: logg}
}

func (s *LogSender) Channel() enums.NotificationChannel {
	return enums.NotificationChannelEmail
}

func (s *LogSender) Send(ctx context.Context, recipient string, msg Message) error {
	ctx = s.logg.WithFields(ctx, map[string]any{"recipient": recipient, "subject": msg.Subject})
	s.logg.Info(ctx, "email delivery skipped, smtp not configured")
	return nil
}

type notificationCreator interface {
	Create(ctx context.Context, notification *models.Notification) (bool, error)
}

// InAppSender stores operator alerts for the admin inbox. The recipient is ignored.
type InAppSender struct {
	repo notificationCreator
}

func NewInAppSender(repo notificationCreator) *InAppSender {
	return &InAppSender{repo: repo}
}

func (s *InAppSender) Channel() enums.NotificationChannel {
	return enums.NotificationChannelInApp
}

func (s *InAppSender) Send(ctx context.Context, _ string, msg Message) error {
	kind := msg.Type
	if kind == "" {
		kind = enums.NotificationTypeOrderAlert
	}
	_, err := s.repo.Create(ctx, &models.Notification{
		Type:    kind,
		Title:   msg.Subject,
		Message: strings.TrimSpace(msg.Body),
		Link:    msg.Link,
		EventID: msg.EventID,
	})
	return err
}
