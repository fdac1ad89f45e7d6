package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/OliverSchlueter/pgpmail/internal/compose"
	"github.com/OliverSchlueter/pgpmail/internal/transport"
	"github.com/google/uuid"
)

// Transport keeps every submitted message in memory.
type Transport struct {
	Messages []compose.ProtectedMessage
	// Reject lists recipients whose submissions fail.
	Reject map[string]error
	mu     sync.Mutex
}

func NewTransport() *Transport {
	return &Transport{
		Reject: make(map[string]error),
		mu:     sync.Mutex{},
	}
}

func (t *Transport) Send(ctx context.Context, msg compose.ProtectedMessage) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", transport.Rejected(msg.Recipients, err)
	}
	for _, r := range msg.Recipients {
		if err, ok := t.Reject[strings.ToLower(r)]; ok {
			return "", transport.Rejected(msg.Recipients, err)
		}
	}

	t.Messages = append(t.Messages, msg)
	return fmt.Sprintf("capture-%s", uuid.NewString()[:8]), nil
}

// Sent returns a copy of the captured messages.
func (t *Transport) Sent() []compose.ProtectedMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]compose.ProtectedMessage(nil), t.Messages...)
}
