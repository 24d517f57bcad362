package alert

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/wneessen/go-mail"
)

// EmailOptions configures SMTP delivery.
type EmailOptions struct {
	Server    string
	Port      int
	Sender    string
	Password  string // app password for Gmail
	Recipient string
}

// Email sends notifications as multipart/alternative mail over SMTP with
// mandatory STARTTLS.
type Email struct {
	opts EmailOptions
	addr string
	send func(ctx context.Context, m *mail.Msg) error
	now  func() time.Time
}

// NewEmail creates an email notifier.
func NewEmail(opts EmailOptions) (*Email, error) {
	if opts.Sender == "" || opts.Password == "" || opts.Recipient == "" {
		return nil, errors.New("email needs sender, password and recipient (SENDER_EMAIL, SENDER_PASSWORD, RECIPIENT_EMAIL)")
	}
	if opts.Server == "" {
		opts.Server = "smtp.gmail.com"
	}
	if opts.Port == 0 {
		opts.Port = 587
	}

	client, err := mail.NewClient(opts.Server,
		mail.WithPort(opts.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(opts.Sender),
		mail.WithPassword(opts.Password),
		mail.WithTimeout(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	return &Email{
		opts: opts,
		addr: net.JoinHostPort(opts.Server, strconv.Itoa(opts.Port)),
		send: func(ctx context.Context, m *mail.Msg) error {
			return client.DialAndSendWithContext(ctx, m)
		},
		now: time.Now,
	}, nil
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(ctx context.Context, n *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := e.compose(n)
	if err != nil {
		return err
	}
	if err := e.send(ctx, m); err != nil {
		return fmt.Errorf("send email via %s: %w", e.addr, err)
	}
	return nil
}

func (e *Email) compose(n *Notification) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(e.opts.Sender); err != nil {
		return nil, fmt.Errorf("email sender %q: %w", e.opts.Sender, err)
	}
	if err := m.To(e.opts.Recipient); err != nil {
		return nil, fmt.Errorf("email recipient %q: %w", e.opts.Recipient, err)
	}
	m.Subject(n.Subject)
	m.SetDateWithValue(e.now())
	m.SetUserAgent("farewatch/1.0")

	m.SetBodyString(mail.TypeTextPlain, n.Text)
	if n.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, n.HTML)
	}
	return m, nil
}
