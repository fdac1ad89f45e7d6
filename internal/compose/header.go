package compose

import (
	"bytes"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/OliverSchlueter/goutils/idgen"
)

type envelope struct {
	From      string
	To        []string
	Subject   string
	Date      time.Time
	MessageID string
}

func (c *Composer) newEnvelope(d Draft, to []string) (envelope, error) {
	from, err := mail.ParseAddress(d.From)
	if err != nil {
		return envelope{}, fmt.Errorf("%w: sender %q: %w", ErrInvalidAddress, d.From, err)
	}
	if len(to) == 0 {
		return envelope{}, ErrNoRecipients
	}

	return envelope{
		From:      d.From,
		To:        to,
		Subject:   d.Subject,
		Date:      c.now(),
		MessageID: fmt.Sprintf("%s@%s", idgen.GenerateID(20), c.messageIDDomain(from.Address)),
	}, nil
}

func (c *Composer) messageIDDomain(sender string) string {
	if c.domain != "" {
		return c.domain
	}
	if i := strings.LastIndex(sender, "@"); i >= 0 && i < len(sender)-1 {
		return sender[i+1:]
	}
	return "localhost"
}

// writeHeaders writes the top-level header block including the blank line
// that ends it.
func writeHeaders(buf *bytes.Buffer, env envelope, contentType string) {
	fmt.Fprintf(buf, "From: %s\r\n", sanitize(env.From))
	fmt.Fprintf(buf, "To: %s\r\n", sanitize(strings.Join(env.To, ", ")))
	fmt.Fprintf(buf, "Subject: %s\r\n", encodeSubject(env.Subject))
	fmt.Fprintf(buf, "Date: %s\r\n", env.Date.Format(time.RFC1123Z))
	fmt.Fprintf(buf, "Message-ID: <%s>\r\n", env.MessageID)
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(buf, "Content-Type: %s\r\n", contentType)
	buf.WriteString("\r\n")
}

func encodeSubject(s string) string {
	return mime.QEncoding.Encode("utf-8", sanitize(s))
}

func sanitize(s string) string {
	return strings.NewReplacer("\r", "", "\n", " ").Replace(s)
}
