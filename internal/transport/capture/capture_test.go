package capture

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/OliverSchlueter/pgpmail/internal/compose"
	"github.com/OliverSchlueter/pgpmail/internal/transport"
	"github.com/stretchr/testify/require"
)

func TestSend(t *testing.T) {
	tr := NewTransport()
	tr.Reject["nobody@example.com"] = errors.New("mailbox unavailable")

	id, err := tr.Send(context.Background(), compose.ProtectedMessage{Recipients: []string{"bob@example.com"}, Raw: []byte("raw")})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, "capture-"))

	_, err = tr.Send(context.Background(), compose.ProtectedMessage{Recipients: []string{"Nobody@example.com"}})
	require.ErrorIs(t, err, transport.ErrRejected)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.Send(ctx, compose.ProtectedMessage{Recipients: []string{"bob@example.com"}})
	require.ErrorIs(t, err, context.Canceled)

	sent := tr.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, []byte("raw"), sent[0].Raw)
}
