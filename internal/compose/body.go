package compose

import (
	"bytes"
	"mime/quotedprintable"
	"strings"
	"unicode/utf8"
)

const maxLineLength = 76

// canonicalize converts every line ending in s to CRLF.
func canonicalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func crlf(b []byte) []byte {
	return []byte(canonicalize(string(b)))
}

// needsQuotedPrintable reports whether body cannot travel as 7bit without
// risking modification in transit.
func needsQuotedPrintable(body string) bool {
	for _, line := range strings.Split(body, "\r\n") {
		if len(line) > maxLineLength {
			return true
		}
		if strings.HasSuffix(line, " ") || strings.HasSuffix(line, "\t") {
			return true
		}
		for i := 0; i < len(line); i++ {
			b := line[i]
			if b >= utf8.RuneSelf || (b < 0x20 && b != '\t') || b == 0x7f {
				return true
			}
		}
	}
	return false
}

// textPart serializes a text/plain MIME entity with CRLF line endings. The
// returned bytes are what gets signed and embedded.
func textPart(body string) []byte {
	body = canonicalize(body)
	if body != "" && !strings.HasSuffix(body, "\r\n") {
		body += "\r\n"
	}

	var buf bytes.Buffer
	buf.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")

	if !needsQuotedPrintable(body) {
		buf.WriteString("Content-Transfer-Encoding: 7bit\r\n\r\n")
		buf.WriteString(body)
		return buf.Bytes()
	}

	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	w := quotedprintable.NewWriter(&buf)
	_, _ = w.Write([]byte(body))
	_ = w.Close()

	return buf.Bytes()
}
