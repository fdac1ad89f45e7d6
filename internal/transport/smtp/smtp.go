package smtp

import (
	"context"
	"fmt"
	"log/slog"
	netmail "net/mail"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/pgpmail/internal/compose"
	"github.com/OliverSchlueter/pgpmail/internal/transport"
	"github.com/wneessen/go-mail"
	gosmtp "github.com/wneessen/go-mail/smtp"
	"golang.org/x/oauth2"
)

const (
	DefaultHost = "smtp.gmail.com"
	DefaultPort = 587
)

// Transport submits messages over SMTP, authenticating with XOAUTH2 using the
// same access token as the Gmail API.
type Transport struct {
	host      string
	port      int
	username  string
	tokens    oauth2.TokenSource
	tlsPolicy mail.TLSPolicy
	timeout   time.Duration
}

type Configuration struct {
	Host string
	Port int
	// Username defaults to the sender address of each message.
	Username    string
	TokenSource oauth2.TokenSource
	// TLSPolicy defaults to mail.TLSMandatory.
	TLSPolicy mail.TLSPolicy
	Timeout   time.Duration
}

func New(config Configuration) *Transport {
	if config.Host == "" {
		config.Host = DefaultHost
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Transport{
		host:      config.Host,
		port:      config.Port,
		username:  config.Username,
		tokens:    config.TokenSource,
		tlsPolicy: config.TLSPolicy,
		timeout:   config.Timeout,
	}
}

func (t *Transport) Send(ctx context.Context, msg compose.ProtectedMessage) (string, error) {
	from, err := netmail.ParseAddress(msg.From)
	if err != nil {
		return "", transport.Rejected(msg.Recipients, fmt.Errorf("invalid sender: %w", err))
	}

	tok, err := t.tokens.Token()
	if err != nil {
		return "", transport.Rejected(msg.Recipients, err)
	}

	username := t.username
	if username == "" {
		username = from.Address
	}

	client, err := mail.NewClient(t.host,
		mail.WithPort(t.port),
		mail.WithSMTPAuth(mail.SMTPAuthXOAUTH2),
		mail.WithUsername(username),
		mail.WithPassword(tok.AccessToken),
		mail.WithTLSPolicy(t.tlsPolicy),
		mail.WithTimeout(t.timeout),
	)
	if err != nil {
		return "", transport.Rejected(msg.Recipients, err)
	}

	sc, err := client.DialToSMTPClientWithContext(ctx)
	if err != nil {
		return "", transport.Rejected(msg.Recipients, fmt.Errorf("could not connect to %s:%d: %w", t.host, t.port, err))
	}
	defer func() {
		if err := client.CloseWithSMTPClient(sc); err != nil {
			slog.Debug("Failed to close SMTP connection", sloki.WrapError(err))
		}
	}()

	resp, err := submit(sc, from.Address, msg)
	if err != nil {
		return "", transport.Rejected(msg.Recipients, err)
	}
	return resp, nil
}

func submit(sc *gosmtp.Client, from string, msg compose.ProtectedMessage) (string, error) {
	if err := sc.Mail("<" + from + ">"); err != nil {
		return "", fmt.Errorf("MAIL FROM failed: %w", err)
	}

	for _, r := range msg.Recipients {
		addr := r
		if a, err := netmail.ParseAddress(r); err == nil {
			addr = a.Address
		}
		if err := sc.Rcpt("<" + addr + ">"); err != nil {
			return "", fmt.Errorf("RCPT TO failed for %s: %w", addr, err)
		}
	}

	w, err := sc.Data()
	if err != nil {
		return "", fmt.Errorf("DATA failed: %w", err)
	}
	if _, err := w.Write(msg.Raw); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("writing message failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("message not accepted: %w", err)
	}

	if dc, ok := w.(*gosmtp.DataCloser); ok {
		return dc.ServerResponse(), nil
	}
	return "", nil
}
