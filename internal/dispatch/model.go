package dispatch

import (
	"fmt"
	"strings"
)

// Draft is the caller's message before protection.
type Draft struct {
	From       string   `validate:"required"`
	Subject    string   `validate:"required"`
	Recipients []string `validate:"required,min=1"`
	Body       string
}

type Mode string

const (
	ModeSigned    Mode = "signed"
	ModeEncrypted Mode = "encrypted"
)

// Batching decides how recipients are grouped into messages.
type Batching string

const (
	// BatchPerRecipient sends one message per recipient.
	BatchPerRecipient Batching = "per-recipient"
	// BatchJoint sends one message addressed to every recipient.
	BatchJoint Batching = "joint"
)

func ParseBatching(s string) (Batching, error) {
	switch Batching(strings.ToLower(s)) {
	case "", BatchPerRecipient:
		return BatchPerRecipient, nil
	case BatchJoint:
		return BatchJoint, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBatching, s)
	}
}

// Outcome is the result of one send target.
type Outcome struct {
	Recipients []string
	MessageID  string
	Err        error
}

func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

type Summary int

const (
	AllSucceeded Summary = iota
	PartialFailure
	TotalFailure
)

func (s Summary) String() string {
	switch s {
	case AllSucceeded:
		return "all succeeded"
	case PartialFailure:
		return "partial failure"
	case TotalFailure:
		return "total failure"
	default:
		return fmt.Sprintf("Summary(%d)", int(s))
	}
}
