// Package smtp posts emails to mailing lists over SMTP.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
	"github.com/ericfisherdev/mlbridge/internal/domain/port/driven"
)

const defaultTimeout = 5 * time.Minute

var errNoRecipients = errors.New("email has no recipients")

// Compile-time interface satisfaction check.
var _ driven.MailTransport = (*Transport)(nil)

// Config holds the SMTP server settings.
type Config struct {
	Addr     string // host:port; port 25 when omitted.
	Username string // Enables PLAIN auth when set.
	Password string
	Interval time.Duration // Minimum spacing between two posts; zero disables pacing.
	Timeout  time.Duration // Per-message deadline when ctx has none.
}

// Transport delivers one SMTP session per email.
type Transport struct {
	cfg     Config
	host    string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewTransport creates a Transport for cfg.
func NewTransport(cfg Config, logger *slog.Logger) (*Transport, error) {
	if cfg.Addr == "" {
		return nil, errors.New("smtp address is required")
	}
	if !strings.Contains(cfg.Addr, ":") {
		cfg.Addr += ":25"
	}
	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("parsing smtp address %q: %w", cfg.Addr, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	return &Transport{
		cfg:     cfg,
		host:    host,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}, nil
}

// Post sends email to its recipients, waiting for the pacing interval first.
func (t *Transport) Post(ctx context.Context, email model.Email) error {
	if len(email.Recipients) == 0 {
		return errNoRecipients
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting to send %s: %w", email.ID.Address, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	if err := t.send(ctx, email); err != nil {
		return fmt.Errorf("sending %s via %s: %w", email.ID.Address, t.cfg.Addr, err)
	}
	t.logger.Info("email posted",
		"id", email.ID.Address,
		"recipients", len(email.Recipients),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

func (t *Transport) send(ctx context.Context, email model.Email) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.cfg.Addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, t.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if err := c.Hello(helloName(email.Sender)); err != nil {
		return err
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: t.host, MinVersion: tls.VersionTLS12}); err != nil {
			return err
		}
	}
	if t.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.host)); err != nil {
			return err
		}
	}

	if err := c.Mail(email.Sender.Address); err != nil {
		return err
	}
	for _, r := range email.Recipients {
		if err := c.Rcpt(r.Address); err != nil {
			return fmt.Errorf("recipient %s: %w", r.Address, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(Message(email)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func helloName(sender model.Address) string {
	if d := sender.Domain(); d != "" {
		return d
	}
	return "localhost"
}

// Message renders email as an RFC 5322 message with CRLF line endings.
// Unlike the archive format, addresses are not obfuscated.
func Message(email model.Email) []byte {
	var b strings.Builder
	header := func(name, value string) {
		b.WriteString(name + ": " + value + "\r\n")
	}

	header("From", encode(email.Author.String()))
	header("Message-Id", email.ID.String())
	header("Date", email.Date.Format(time.RFC1123Z))
	if !email.Sender.IsZero() {
		header("Sender", encode(email.Sender.String()))
	}
	to := make([]string, len(email.Recipients))
	for i, r := range email.Recipients {
		to[i] = encode(r.String())
	}
	header("To", strings.Join(to, ", "))
	for _, h := range email.Headers {
		header(h.Name, encode(h.Value))
	}
	header("Subject", encode(email.Subject))
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=utf-8")
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")

	body := strings.ReplaceAll(email.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}

func encode(s string) string {
	return mime.QEncoding.Encode("utf-8", s)
}
