package transport

import (
	"context"

	"github.com/OliverSchlueter/pgpmail/internal/compose"
)

// Transport submits a finished message and returns the provider's id for it.
type Transport interface {
	Send(ctx context.Context, msg compose.ProtectedMessage) (string, error)
}
