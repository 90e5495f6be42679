package otp

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/safar/cashback-store/internal/config"
	"go.uber.org/zap"
)

// Notifier delivers a verification code to an email address.
type Notifier interface {
	SendCode(ctx context.Context, email, code string, ttl time.Duration) error
}

// SMTPNotifier sends codes as plain-text mail.
type SMTPNotifier struct {
	addr    string
	auth    smtp.Auth
	from    string
	appName string
	send    func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPNotifier(cfg config.SMTPConfig) *SMTPNotifier {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	return &SMTPNotifier{
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		auth:    auth,
		from:    from,
		appName: cfg.AppName,
		send:    smtp.SendMail,
	}
}

func (n *SMTPNotifier) SendCode(ctx context.Context, email, code string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := buildMessage(n.from, email, n.appName, code, ttl)
	if err := n.send(n.addr, n.auth, n.from, []string{email}, msg); err != nil {
		return fmt.Errorf("send code mail: %w", err)
	}
	return nil
}

func buildMessage(from, to, appName, code string, ttl time.Duration) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", appName, from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: Your %s verification code\r\n", appName)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&b, "Your verification code is %s.\r\n", code)
	fmt.Fprintf(&b, "It expires in %d minutes.\r\n", int(ttl.Minutes()))
	return []byte(b.String())
}

// LogNotifier writes codes to the log. Used when no SMTP host is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("otp")}
}

func (n *LogNotifier) SendCode(_ context.Context, email, code string, ttl time.Duration) error {
	n.logger.Info("verification code issued",
		zap.String("email", email),
		zap.String("code", code),
		zap.Duration("ttl", ttl))
	return nil
}
