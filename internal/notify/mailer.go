package notify

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
	"github.com/wneessen/go-mail"
)

type Message struct {
	To      string
	Subject string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

const sendTimeout = 15 * time.Second

type SMTPMailer struct {
	client *mail.Client
	from   string
	logger observability.Logger
}

// NewSMTPMailer returns a mailer for addr (host:port, port 587 when omitted).
// With an empty addr it only logs the messages it would have sent.
func NewSMTPMailer(addr, user, password, from string, logger observability.Logger) (*SMTPMailer, error) {
	m := &SMTPMailer{from: from, logger: logger}
	if addr == "" {
		return m, nil
	}

	host, port := addr, 587
	if h, p, err := net.SplitHostPort(addr); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.Wrapf(err, "smtp port in %q", addr)
		}
		host, port = h, n
	}
	opts := []mail.Option{
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithPort(port),
		mail.WithTimeout(sendTimeout),
	}
	if user != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(user),
			mail.WithPassword(password),
		)
	}
	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "smtp client")
	}
	m.client = client
	return m, nil
}

func (m *SMTPMailer) Mock() bool { return m.client == nil }

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	log := m.logger.WithField("to", msg.To).WithField("subject", msg.Subject)
	if m.Mock() {
		log.Info("smtp not configured, email not sent")
		return nil
	}

	out, err := m.message(msg)
	if err != nil {
		return err
	}
	if err := m.client.DialAndSendWithContext(ctx, out); err != nil {
		return errors.Wrapf(err, "send mail to %s", msg.To)
	}
	log.Info("email sent")
	return nil
}

// message builds the MIME message. Header values are encoded by go-mail;
// line breaks in the subject are folded into spaces first.
func (m *SMTPMailer) message(msg Message) (*mail.Msg, error) {
	out := mail.NewMsg()
	if err := out.From(m.from); err != nil {
		return nil, errors.Wrapf(err, "sender %q", m.from)
	}
	if err := out.To(msg.To); err != nil {
		return nil, errors.Wrapf(err, "recipient %q", msg.To)
	}
	out.Subject(strings.Join(strings.Fields(msg.Subject), " "))
	out.SetBodyString(mail.TypeTextHTML, msg.HTML)
	return out, nil
}
