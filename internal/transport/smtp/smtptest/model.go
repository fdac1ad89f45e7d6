package smtptest

import "strings"

type Session struct {
	Hostname      string
	RemoteAddr    string
	HeloReceived  bool
	Authenticated bool
	Username      string
	Mail          Mail
}

type Mail struct {
	From        string
	To          []string
	DataBuffer  []string
	ReadingData bool
}

// Body returns the received DATA with CRLF line endings restored.
func (m *Mail) Body() string {
	var sb strings.Builder
	for _, line := range m.DataBuffer {
		sb.WriteString(line)
		sb.WriteString("\r\n")
	}
	return sb.String()
}

func (m *Mail) Size() int {
	size := 0
	for _, line := range m.DataBuffer {
		size += len(line) + 2
	}
	return size
}

// Message is a submission accepted by the Server.
type Message struct {
	ID       string
	Username string
	From     string
	To       []string
	Data     string
}
