package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OliverSchlueter/pgpmail/internal/compose"
	"github.com/OliverSchlueter/pgpmail/internal/credentials"
	"github.com/OliverSchlueter/pgpmail/internal/dispatch"
	"github.com/OliverSchlueter/pgpmail/internal/keyring"
	"github.com/OliverSchlueter/pgpmail/internal/keyring/fake"
	"github.com/OliverSchlueter/pgpmail/internal/transport"
	"github.com/OliverSchlueter/pgpmail/internal/transport/capture"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeCredentials struct {
	err   error
	calls atomic.Int32
}

func (c *fakeCredentials) Authorize(_ context.Context) (oauth2.TokenSource, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "token"}), nil
}

type harness struct {
	keys       *fake.Keyring
	sink       *capture.Transport
	creds      *fakeCredentials
	transports atomic.Int32
	dispatcher *dispatch.Dispatcher
}

func newHarness(batching dispatch.Batching, concurrency int, missing ...string) *harness {
	h := &harness{
		keys:  fake.NewKeyring(missing...),
		sink:  capture.NewTransport(),
		creds: &fakeCredentials{},
	}

	composer := compose.NewComposer(compose.Configuration{
		Signer:    h.keys,
		Encryptor: h.keys,
	})
	factory := func(_ context.Context, _ oauth2.TokenSource) (transport.Transport, error) {
		h.transports.Add(1)
		return h.sink, nil
	}

	h.dispatcher = dispatch.NewDispatcher(dispatch.Configuration{
		Credentials: h.creds,
		Composer:    composer,
		Transport:   factory,
		Batching:    batching,
		Concurrency: concurrency,
	})
	return h
}

func draft(recipients ...string) dispatch.Draft {
	return dispatch.Draft{
		From:       "Alice <alice@example.com>",
		Subject:    "Café ☕",
		Recipients: recipients,
		Body:       "hello\nworld\n",
	}
}

func TestDedupe(t *testing.T) {
	got := dispatch.Dedupe([]string{"a@x.com", "A@X.com", " b@y.com", "", "a@x.com"})
	require.Equal(t, []string{"a@x.com", "b@y.com"}, got)
}

func TestSendSigned(t *testing.T) {
	h := newHarness(dispatch.BatchPerRecipient, 1)

	seq, err := h.dispatcher.Send(context.Background(), draft("a@x.com", "b@y.com", "a@x.com"), dispatch.ModeSigned)
	require.NoError(t, err)

	outcomes := dispatch.Collect(seq)
	require.Len(t, outcomes, 2)
	require.Equal(t, dispatch.AllSucceeded, dispatch.Summarize(outcomes))
	require.Equal(t, []string{"a@x.com"}, outcomes[0].Recipients)
	require.Equal(t, []string{"b@y.com"}, outcomes[1].Recipients)

	sent := h.sink.Sent()
	require.Len(t, sent, 2)
	for i, msg := range sent {
		require.Equal(t, compose.ShapeSigned, msg.Shape)
		require.Equal(t, outcomes[i].Recipients, msg.Recipients)

		signed, signature, micalg, err := compose.SignedParts(msg.Raw)
		require.NoError(t, err)
		require.Equal(t, "pgp-sha512", micalg)
		require.True(t, h.keys.Verify(signed, signature))
	}

	require.Equal(t, int32(1), h.creds.calls.Load())
	require.Equal(t, int32(1), h.transports.Load())
}

func TestSendEncryptedIsolatesFailures(t *testing.T) {
	h := newHarness(dispatch.BatchPerRecipient, 1, "unknown@y.com")

	seq, err := h.dispatcher.Send(context.Background(), draft("known@x.com", "unknown@y.com"), dispatch.ModeEncrypted)
	require.NoError(t, err)

	outcomes := dispatch.Collect(seq)
	require.Len(t, outcomes, 2)
	require.Equal(t, dispatch.PartialFailure, dispatch.Summarize(outcomes))

	require.NoError(t, outcomes[0].Err)
	require.NotEmpty(t, outcomes[0].MessageID)

	require.ErrorIs(t, outcomes[1].Err, keyring.ErrEncryptionFailed)
	var encErr *keyring.EncryptionError
	require.ErrorAs(t, outcomes[1].Err, &encErr)
	require.Equal(t, "unknown@y.com", encErr.Recipient)

	sent := h.sink.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, []string{"known@x.com"}, sent[0].Recipients)
	require.NotContains(t, string(sent[0].Raw), "hello")
}

func TestSendTransportRejection(t *testing.T) {
	h := newHarness(dispatch.BatchPerRecipient, 1)
	h.sink.Reject["b@y.com"] = errors.New("quota exceeded")

	seq, err := h.dispatcher.Send(context.Background(), draft("a@x.com", "b@y.com"), dispatch.ModeSigned)
	require.NoError(t, err)

	outcomes := dispatch.Collect(seq)
	require.NoError(t, outcomes[0].Err)
	require.ErrorIs(t, outcomes[1].Err, transport.ErrRejected)
}

func TestSendSigningUnavailable(t *testing.T) {
	h := newHarness(dispatch.BatchPerRecipient, 1)
	h.keys.SigningError = errors.New("no default secret key")

	seq, err := h.dispatcher.Send(context.Background(), draft("a@x.com", "b@y.com"), dispatch.ModeSigned)
	require.NoError(t, err)

	outcomes := dispatch.Collect(seq)
	require.Len(t, outcomes, 2)
	require.Equal(t, dispatch.TotalFailure, dispatch.Summarize(outcomes))
	for _, o := range outcomes {
		require.ErrorIs(t, o.Err, keyring.ErrSigningUnavailable)
	}
	require.Empty(t, h.sink.Sent())
}

func TestSendCredentialUnavailable(t *testing.T) {
	h := newHarness(dispatch.BatchPerRecipient, 1)
	h.creds.err = fmt.Errorf("%w: consent denied", credentials.ErrCredentialUnavailable)

	seq, err := h.dispatcher.Send(context.Background(), draft("a@x.com"), dispatch.ModeSigned)
	require.ErrorIs(t, err, credentials.ErrCredentialUnavailable)
	require.Nil(t, seq)

	require.Empty(t, h.keys.Signed)
	require.Equal(t, int32(0), h.transports.Load())
}

func TestSendSingleUse(t *testing.T) {
	h := newHarness(dispatch.BatchPerRecipient, 1)

	seq, err := h.dispatcher.Send(context.Background(), draft("a@x.com", "b@y.com"), dispatch.ModeSigned)
	require.NoError(t, err)

	require.Len(t, dispatch.Collect(seq), 2)
	require.Empty(t, dispatch.Collect(seq))
	require.Len(t, h.sink.Sent(), 2)
}

func TestSendIsLazy(t *testing.T) {
	h := newHarness(dispatch.BatchPerRecipient, 1)

	seq, err := h.dispatcher.Send(context.Background(), draft("a@x.com", "b@y.com", "c@z.com"), dispatch.ModeSigned)
	require.NoError(t, err)
	require.Empty(t, h.keys.Signed)

	for range seq {
		break
	}
	require.Len(t, h.sink.Sent(), 1)
}

func TestSendJoint(t *testing.T) {
	h := newHarness(dispatch.BatchJoint, 1)

	seq, err := h.dispatcher.Send(context.Background(), draft("a@x.com", "b@y.com"), dispatch.ModeSigned)
	require.NoError(t, err)

	outcomes := dispatch.Collect(seq)
	require.Len(t, outcomes, 1)
	require.Equal(t, []string{"a@x.com", "b@y.com"}, outcomes[0].Recipients)

	sent := h.sink.Sent()
	require.Len(t, sent, 1)
	require.Contains(t, string(sent[0].Raw), "To: a@x.com, b@y.com\r\n")
}

func TestSendRejectsBeforeAuthorizing(t *testing.T) {
	t.Run("joint encrypted", func(t *testing.T) {
		h := newHarness(dispatch.BatchJoint, 1)

		_, err := h.dispatcher.Send(context.Background(), draft("a@x.com", "b@y.com"), dispatch.ModeEncrypted)
		require.ErrorIs(t, err, dispatch.ErrJointEncrypted)
		require.Equal(t, int32(0), h.creds.calls.Load())
	})

	t.Run("no recipients", func(t *testing.T) {
		h := newHarness(dispatch.BatchPerRecipient, 1)

		_, err := h.dispatcher.Send(context.Background(), draft(), dispatch.ModeSigned)
		require.ErrorIs(t, err, dispatch.ErrInvalidDraft)
		require.Equal(t, int32(0), h.creds.calls.Load())
	})

	t.Run("blank recipients", func(t *testing.T) {
		h := newHarness(dispatch.BatchPerRecipient, 1)

		_, err := h.dispatcher.Send(context.Background(), draft(" ", ""), dispatch.ModeSigned)
		require.ErrorIs(t, err, dispatch.ErrInvalidDraft)
		require.Equal(t, int32(0), h.creds.calls.Load())
	})

	t.Run("unknown mode", func(t *testing.T) {
		h := newHarness(dispatch.BatchPerRecipient, 1)

		_, err := h.dispatcher.Send(context.Background(), draft("a@x.com"), dispatch.Mode("inline"))
		require.ErrorIs(t, err, dispatch.ErrUnknownMode)
	})
}

func TestSendInvalidRecipient(t *testing.T) {
	t.Run("should fail only the malformed address", func(t *testing.T) {
		h := newHarness(dispatch.BatchPerRecipient, 1)

		seq, err := h.dispatcher.Send(context.Background(), draft("good@x.com", "typo"), dispatch.ModeSigned)
		require.NoError(t, err)

		outcomes := dispatch.Collect(seq)
		require.Len(t, outcomes, 2)
		require.Equal(t, dispatch.PartialFailure, dispatch.Summarize(outcomes))

		require.NoError(t, outcomes[0].Err)
		require.Equal(t, []string{"good@x.com"}, outcomes[0].Recipients)
		require.ErrorIs(t, outcomes[1].Err, dispatch.ErrInvalidRecipient)
		require.Equal(t, []string{"typo"}, outcomes[1].Recipients)

		sent := h.sink.Sent()
		require.Len(t, sent, 1)
		require.Equal(t, []string{"good@x.com"}, sent[0].Recipients)
	})

	t.Run("should leave the malformed address out of a joint message", func(t *testing.T) {
		h := newHarness(dispatch.BatchJoint, 1)

		seq, err := h.dispatcher.Send(context.Background(), draft("a@x.com", "typo", "b@y.com"), dispatch.ModeSigned)
		require.NoError(t, err)

		outcomes := dispatch.Collect(seq)
		require.Len(t, outcomes, 2)
		require.ErrorIs(t, outcomes[0].Err, dispatch.ErrInvalidRecipient)
		require.NoError(t, outcomes[1].Err)
		require.Equal(t, []string{"a@x.com", "b@y.com"}, outcomes[1].Recipients)

		sent := h.sink.Sent()
		require.Len(t, sent, 1)
		require.NotContains(t, string(sent[0].Raw), "typo")
	})

	t.Run("should fail every target when no address is valid", func(t *testing.T) {
		h := newHarness(dispatch.BatchPerRecipient, 1)

		seq, err := h.dispatcher.Send(context.Background(), draft("typo", "also-typo"), dispatch.ModeSigned)
		require.NoError(t, err)

		outcomes := dispatch.Collect(seq)
		require.Equal(t, dispatch.TotalFailure, dispatch.Summarize(outcomes))
		require.Empty(t, h.keys.Signed)
		require.Empty(t, h.sink.Sent())
	})
}

func TestSendParallel(t *testing.T) {
	h := newHarness(dispatch.BatchPerRecipient, 4, "r3@example.com")

	var recipients []string
	for i := range 10 {
		recipients = append(recipients, fmt.Sprintf("r%d@example.com", i))
	}

	seq, err := h.dispatcher.Send(context.Background(), draft(recipients...), dispatch.ModeEncrypted)
	require.NoError(t, err)

	outcomes := dispatch.Collect(seq)
	require.Len(t, outcomes, 10)
	require.Equal(t, dispatch.PartialFailure, dispatch.Summarize(outcomes))

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			require.Equal(t, []string{"r3@example.com"}, o.Recipients)
		}
	}
	require.Equal(t, 1, failed)
	require.Len(t, h.sink.Sent(), 9)
}

// slowTransport delays every submission except the one to fast, and tracks
// how many submissions are running.
type slowTransport struct {
	*capture.Transport
	fast     string
	delay    time.Duration
	inFlight atomic.Int32
}

func (s *slowTransport) Send(ctx context.Context, msg compose.ProtectedMessage) (string, error) {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	if msg.Recipients[0] != s.fast {
		time.Sleep(s.delay)
	}
	return s.Transport.Send(ctx, msg)
}

func TestSendParallelEarlyStop(t *testing.T) {
	recipients := []string{"a@x.com", "b@y.com", "c@z.com", "d@w.com", "e@v.com"}

	t.Run("should stop with instant sends", func(t *testing.T) {
		h := newHarness(dispatch.BatchPerRecipient, 2)

		seq, err := h.dispatcher.Send(context.Background(), draft(recipients...), dispatch.ModeSigned)
		require.NoError(t, err)

		n := 0
		for range seq {
			n++
			break
		}
		require.Equal(t, 1, n)
		require.Less(t, len(h.sink.Sent()), len(recipients))
	})

	t.Run("should wait for slow sends still running", func(t *testing.T) {
		for range 40 {
			slow := &slowTransport{
				Transport: capture.NewTransport(),
				fast:      recipients[0],
				delay:     50 * time.Millisecond,
			}
			keys := fake.NewKeyring()
			composer := compose.NewComposer(compose.Configuration{
				Signer:    keys,
				Encryptor: keys,
			})
			factory := func(_ context.Context, _ oauth2.TokenSource) (transport.Transport, error) {
				return slow, nil
			}
			d := dispatch.NewDispatcher(dispatch.Configuration{
				Credentials: &fakeCredentials{},
				Composer:    composer,
				Transport:   factory,
				Concurrency: 2,
			})

			seq, err := d.Send(context.Background(), draft(recipients...), dispatch.ModeSigned)
			require.NoError(t, err)

			var first dispatch.Outcome
			for o := range seq {
				first = o
				break
			}
			require.NoError(t, first.Err)

			// Sends already started run to completion before the loop exits.
			require.Equal(t, int32(0), slow.inFlight.Load())
			sent := len(slow.Sent())
			require.GreaterOrEqual(t, sent, 1)
			require.Less(t, sent, len(recipients))

			time.Sleep(2 * slow.delay)
			require.Len(t, slow.Sent(), sent)
		}
	})
}

func TestSendCancelled(t *testing.T) {
	h := newHarness(dispatch.BatchPerRecipient, 1)
	ctx, cancel := context.WithCancel(context.Background())

	seq, err := h.dispatcher.Send(ctx, draft("a@x.com", "b@y.com"), dispatch.ModeSigned)
	require.NoError(t, err)
	cancel()

	for _, o := range dispatch.Collect(seq) {
		require.ErrorIs(t, o.Err, context.Canceled)
	}
	require.Empty(t, h.sink.Sent())
}

func TestSummarize(t *testing.T) {
	ok := dispatch.Outcome{MessageID: "1"}
	bad := dispatch.Outcome{Err: errors.New("boom")}

	require.Equal(t, dispatch.AllSucceeded, dispatch.Summarize([]dispatch.Outcome{ok, ok}))
	require.Equal(t, dispatch.PartialFailure, dispatch.Summarize([]dispatch.Outcome{ok, bad}))
	require.Equal(t, dispatch.TotalFailure, dispatch.Summarize([]dispatch.Outcome{bad}))
	require.Equal(t, "partial failure", dispatch.PartialFailure.String())
}

func TestParseBatching(t *testing.T) {
	b, err := dispatch.ParseBatching("")
	require.NoError(t, err)
	require.Equal(t, dispatch.BatchPerRecipient, b)

	b, err = dispatch.ParseBatching("JOINT")
	require.NoError(t, err)
	require.Equal(t, dispatch.BatchJoint, b)

	_, err = dispatch.ParseBatching("bcc")
	require.True(t, errors.Is(err, dispatch.ErrUnknownBatching))
	require.True(t, strings.Contains(err.Error(), "bcc"))
}
