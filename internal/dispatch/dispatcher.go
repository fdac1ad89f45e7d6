package dispatch

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/pgpmail/internal/compose"
	"github.com/OliverSchlueter/pgpmail/internal/transport"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

// Credentials yields an authorized token source, or an error wrapping
// credentials.ErrCredentialUnavailable.
type Credentials interface {
	Authorize(ctx context.Context) (oauth2.TokenSource, error)
}

type Composer interface {
	ComposeSigned(ctx context.Context, d compose.Draft, recipients []string) (compose.ProtectedMessage, error)
	ComposeEncrypted(ctx context.Context, d compose.Draft, recipient string) (compose.ProtectedMessage, error)
}

// TransportFactory builds the transport once credentials are authorized.
type TransportFactory func(ctx context.Context, tokens oauth2.TokenSource) (transport.Transport, error)

type Dispatcher struct {
	credentials  Credentials
	composer     Composer
	newTransport TransportFactory
	batching     Batching
	concurrency  int
	validate     *validator.Validate
}

type Configuration struct {
	Credentials Credentials
	Composer    Composer
	Transport   TransportFactory
	// Batching defaults to BatchPerRecipient.
	Batching Batching
	// Concurrency above 1 sends targets in parallel and yields outcomes in
	// completion order.
	Concurrency int
}

func NewDispatcher(config Configuration) *Dispatcher {
	if config.Batching == "" {
		config.Batching = BatchPerRecipient
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}

	return &Dispatcher{
		credentials:  config.Credentials,
		composer:     config.Composer,
		newTransport: config.Transport,
		batching:     config.Batching,
		concurrency:  config.Concurrency,
		validate:     validator.New(),
	}
}

// Send authorizes once and returns a single-use sequence that composes and
// submits one target per pull. Errors returned directly mean nothing was
// attempted.
func (d *Dispatcher) Send(ctx context.Context, draft Draft, mode Mode) (iter.Seq[Outcome], error) {
	if err := d.validate.Struct(draft); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDraft, err)
	}

	switch mode {
	case ModeSigned:
	case ModeEncrypted:
		if d.batching == BatchJoint {
			return nil, ErrJointEncrypted
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	recipients := Dedupe(draft.Recipients)
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: no recipients", ErrInvalidDraft)
	}

	tokens, err := d.credentials.Authorize(ctx)
	if err != nil {
		return nil, err
	}

	tr, err := d.newTransport(ctx, tokens)
	if err != nil {
		return nil, fmt.Errorf("could not create transport: %w", err)
	}

	msg := compose.Draft{
		From:    draft.From,
		Subject: draft.Subject,
		Body:    draft.Body,
	}
	targets := d.targets(recipients)

	var used atomic.Bool
	return func(yield func(Outcome) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}

		if d.concurrency > 1 && len(targets) > 1 {
			d.sendParallel(ctx, tr, msg, mode, targets, yield)
			return
		}

		for _, t := range targets {
			if !yield(d.deliver(ctx, tr, msg, mode, t)) {
				return
			}
		}
	}, nil
}

// sendParallel returns only after every started worker has finished.
func (d *Dispatcher) sendParallel(ctx context.Context, tr transport.Transport, msg compose.Draft, mode Mode, targets []target, yield func(Outcome) bool) {
	results := make(chan Outcome)
	stop := make(chan struct{})

	var g errgroup.Group
	g.SetLimit(d.concurrency)

	go func() {
		defer close(results)
		defer func() { _ = g.Wait() }()

		for _, t := range targets {
			select {
			case <-stop:
				return
			default:
			}

			g.Go(func() error {
				o := d.deliver(ctx, tr, msg, mode, t)
				select {
				case results <- o:
				case <-stop:
				}
				return nil
			})
		}
	}()

	for o := range results {
		if !yield(o) {
			close(stop)
			for range results {
			}
			return
		}
	}
}

// target is one message to submit. A recipient with a malformed address
// becomes its own target carrying the validation error.
type target struct {
	recipients []string
	err        error
}

func (d *Dispatcher) targets(recipients []string) []target {
	var targets []target
	var joint []string
	for _, r := range recipients {
		if err := d.validate.Var(r, "email"); err != nil {
			targets = append(targets, target{
				recipients: []string{r},
				err:        fmt.Errorf("%w: %q: %w", ErrInvalidRecipient, r, err),
			})
			continue
		}
		if d.batching == BatchJoint {
			joint = append(joint, r)
			continue
		}
		targets = append(targets, target{recipients: []string{r}})
	}

	if len(joint) > 0 {
		targets = append(targets, target{recipients: joint})
	}
	return targets
}

func (d *Dispatcher) deliver(ctx context.Context, tr transport.Transport, msg compose.Draft, mode Mode, t target) Outcome {
	outcome := Outcome{Recipients: t.recipients}
	recipient := strings.Join(t.recipients, ", ")

	err := t.err
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		var pm compose.ProtectedMessage
		if mode == ModeEncrypted {
			pm, err = d.composer.ComposeEncrypted(ctx, msg, t.recipients[0])
		} else {
			pm, err = d.composer.ComposeSigned(ctx, msg, t.recipients)
		}
		if err == nil {
			outcome.MessageID, err = tr.Send(ctx, pm)
		}
	}

	if err != nil {
		outcome.Err = err
		slog.Error("Failed to send message", slog.String("recipient", recipient), sloki.WrapError(err))
		return outcome
	}

	slog.Info("Message sent", slog.String("recipient", recipient), slog.String("message_id", outcome.MessageID))
	return outcome
}

// Dedupe drops repeated recipients, comparing addresses case-insensitively and
// keeping the first spelling.
func Dedupe(recipients []string) []string {
	trimmed := lo.Map(recipients, func(r string, _ int) string {
		return strings.TrimSpace(r)
	})
	return lo.UniqBy(lo.Compact(trimmed), strings.ToLower)
}

// Collect drains a sequence into a slice.
func Collect(seq iter.Seq[Outcome]) []Outcome {
	var outcomes []Outcome
	for o := range seq {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func Summarize(outcomes []Outcome) Summary {
	succeeded := lo.CountBy(outcomes, Outcome.Succeeded)
	switch {
	case succeeded == len(outcomes):
		return AllSucceeded
	case succeeded == 0:
		return TotalFailure
	default:
		return PartialFailure
	}
}
