// Package smtptest provides an in-process SMTP submission server that accepts
// XOAUTH2 and records every message, for exercising the SMTP transport.
package smtptest

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/OliverSchlueter/goutils/idgen"
	"github.com/OliverSchlueter/goutils/sloki"
)

type Server struct {
	hostname string
	token    string
	reject   map[string]bool

	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	messages []Message
	conns    map[net.Conn]struct{}
}

type Configuration struct {
	Hostname string
	// Token is the only bearer token accepted. Any token is accepted when
	// empty.
	Token string
	// RejectRecipients are answered with 550 at RCPT TO.
	RejectRecipients []string
}

func NewServer(config Configuration) *Server {
	if config.Hostname == "" {
		config.Hostname = "localhost"
	}

	reject := make(map[string]bool, len(config.RejectRecipients))
	for _, r := range config.RejectRecipients {
		reject[strings.ToLower(r)] = true
	}

	return &Server{
		hostname: config.Hostname,
		token:    config.Token,
		reject:   reject,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Start listens on a random loopback port and returns its address.
func (s *Server) Start() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	s.listener = listener

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Warn("Failed to accept connection", sloki.WrapError(err))
				continue
			}

			s.mu.Lock()
			s.conns[conn] = struct{}{}
			s.mu.Unlock()

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handle(conn)
			}()
		}
	}()

	return listener.Addr().String(), nil
}

func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()

	// clients that never sent QUIT
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Messages returns the accepted messages in arrival order.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

func (s *Server) handle(conn net.Conn) {
	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	session := &Session{}
	session.RemoteAddr = conn.RemoteAddr().String()

	slog.Debug("New connection established", "remote_addr", session.RemoteAddr)

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	writeLine(w, fmt.Sprintf(StatusServiceReady, s.hostname))

	for {
		if err := conn.SetDeadline(time.Now().Add(time.Minute)); err != nil {
			slog.Error("Failed to set connection deadline", sloki.WrapError(err))
			return
		}

		line, err := r.ReadString('\n')
		if err != nil {
			return
		}

		line = strings.TrimRight(line, "\r\n")
		upper := strings.ToUpper(line)

		if len(line) > 1000 {
			writeLine(w, StatusLineTooLong)
			continue
		}

		if session.Mail.ReadingData {
			if line == "." {
				s.accept(session, w)
				continue
			}

			line = strings.TrimPrefix(line, ".")
			if session.Mail.Size() > MaxMessageSize {
				writeLine(w, StatusMessageTooLarge)
				return
			}
			session.Mail.DataBuffer = append(session.Mail.DataBuffer, line)
			continue
		}

		slog.Debug("C: " + line)

		switch {
		case strings.HasPrefix(upper, CmdEhlo.Prefix):
			s.handleEhlo(session, w, line)

		case strings.HasPrefix(upper, CmdHelo.Prefix):
			s.handleHelo(session, w, line)

		case strings.HasPrefix(upper, CmdAuthXOAuth2.Prefix):
			s.handleAuthXOAuth2(session, w, line)

		case strings.HasPrefix(upper, CmdMailFrom.Prefix):
			s.handleMailFrom(session, w, line)

		case strings.HasPrefix(upper, CmdRcptTo.Prefix):
			s.handleRcptTo(session, w, line)

		case upper == CmdData.Prefix:
			s.handleData(session, w)

		case upper == CmdRset.Prefix:
			session.Mail = Mail{}
			writeLine(w, StatusOK)

		case upper == CmdNoop.Prefix:
			writeLine(w, StatusOK)

		case upper == CmdQuit.Prefix:
			writeLine(w, fmt.Sprintf(StatusConnClosed, s.hostname))
			return

		default:
			writeLine(w, StatusBadCommand)
		}
	}
}

func (s *Server) accept(session *Session, w *bufio.Writer) {
	id := idgen.GenerateID(16)

	s.mu.Lock()
	s.messages = append(s.messages, Message{
		ID:       id,
		Username: session.Username,
		From:     session.Mail.From,
		To:       session.Mail.To,
		Data:     session.Mail.Body(),
	})
	s.mu.Unlock()

	slog.Debug("Message accepted", "id", id, "from", session.Mail.From, "to", session.Mail.To)
	writeLine(w, fmt.Sprintf(StatusQueued, id))

	session.Mail = Mail{}
}

func (s *Server) handleEhlo(session *Session, w *bufio.Writer, line string) {
	clientHostname := line[len(CmdEhlo.Prefix):]
	session.HeloReceived = true
	session.Hostname = clientHostname

	writeLine(w, fmt.Sprintf(StatusGreeting, s.hostname, clientHostname))
	writeLine(w, Cmd8BitMIME.Structure)
	writeLine(w, CmdAuthXOAuth2.Structure)
}

func (s *Server) handleHelo(session *Session, w *bufio.Writer, line string) {
	clientHostname := line[len(CmdHelo.Prefix):]
	session.HeloReceived = true
	session.Hostname = clientHostname

	writeLine(w, strings.Replace(fmt.Sprintf(StatusGreeting, s.hostname, clientHostname), "-", " ", 1))
}

func (s *Server) handleAuthXOAuth2(session *Session, w *bufio.Writer, line string) {
	if !session.HeloReceived {
		writeLine(w, fmt.Sprintf(StatusBadSequence, CmdEhlo.Name))
		return
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line[len(CmdAuthXOAuth2.Prefix):]))
	if err != nil {
		slog.Warn("Failed to decode XOAUTH2 response", sloki.WrapError(err))
		writeLine(w, StatusInvalidBase64)
		return
	}

	user, token, ok := parseXOAuth2(string(decoded))
	if !ok || (s.token != "" && token != s.token) {
		writeLine(w, StatusAuthenticationFailed)
		return
	}

	session.Authenticated = true
	session.Username = user
	writeLine(w, StatusAuthSuccess)
}

// parseXOAuth2 reads "user=<user>\x01auth=Bearer <token>\x01\x01".
func parseXOAuth2(resp string) (string, string, bool) {
	var user, token string
	for _, field := range strings.Split(resp, "\x01") {
		switch {
		case strings.HasPrefix(field, "user="):
			user = strings.TrimPrefix(field, "user=")
		case strings.HasPrefix(field, "auth=Bearer "):
			token = strings.TrimPrefix(field, "auth=Bearer ")
		}
	}
	return user, token, user != "" && token != ""
}

func (s *Server) handleMailFrom(session *Session, w *bufio.Writer, line string) {
	if !session.HeloReceived {
		writeLine(w, fmt.Sprintf(StatusBadSequence, CmdEhlo.Name))
		return
	}
	if !session.Authenticated {
		writeLine(w, StatusAuthRequired)
		return
	}

	addr := strings.TrimPrefix(line, CmdMailFrom.Prefix)
	if i := strings.Index(addr, ">"); i >= 0 {
		addr = addr[:i]
	}
	session.Mail = Mail{From: strings.TrimSpace(strings.Trim(addr, "<> "))}

	writeLine(w, StatusOK)
}

func (s *Server) handleRcptTo(session *Session, w *bufio.Writer, line string) {
	if session.Mail.From == "" {
		writeLine(w, fmt.Sprintf(StatusBadSequence, CmdMailFrom.Name))
		return
	}
	if len(session.Mail.To) >= MaxRecipients {
		writeLine(w, StatusTooManyRecipients)
		return
	}

	recipient := strings.TrimPrefix(line, CmdRcptTo.Prefix)
	recipient = strings.Trim(recipient, "<> ")

	if s.reject[strings.ToLower(recipient)] {
		writeLine(w, StatusNoSuchUser)
		return
	}

	session.Mail.To = append(session.Mail.To, recipient)
	writeLine(w, StatusOK)
}

func (s *Server) handleData(session *Session, w *bufio.Writer) {
	if len(session.Mail.To) == 0 {
		writeLine(w, fmt.Sprintf(StatusBadSequence, CmdRcptTo.Name))
		return
	}

	session.Mail.ReadingData = true
	writeLine(w, StatusStartMailInput)
}

func writeLine(w *bufio.Writer, line string) {
	if _, err := w.WriteString(line + "\r\n"); err != nil {
		slog.Error("Failed to write to connection", sloki.WrapError(err))
		return
	}
	if err := w.Flush(); err != nil {
		slog.Error("Failed to flush writer", sloki.WrapError(err))
		return
	}

	slog.Debug("S: " + line)
}
