package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"golang.org/x/oauth2"
)

type DB interface {
	// Get returns ErrCredentialNotFound when nothing was persisted yet.
	Get() (*Credential, error)
	// Put atomically replaces the persisted credential.
	Put(c Credential) error
}

// Authorizer talks to the OAuth provider.
type Authorizer interface {
	// Authorize runs the interactive authorization and blocks until the user
	// completes it or ctx is done.
	Authorize(ctx context.Context) (Credential, error)
	// Refresh exchanges the refresh token of c for a new credential.
	Refresh(ctx context.Context, c Credential) (Credential, error)
	// TokenSource refreshes c on demand.
	TokenSource(ctx context.Context, c Credential) oauth2.TokenSource
}

// Store owns the credential lifecycle of a single run.
type Store struct {
	db         DB
	authorizer Authorizer
	scope      string
	now        func() time.Time

	mu    sync.Mutex
	state State
}

type Configuration struct {
	DB         DB
	Authorizer Authorizer
	// Scope defaults to GmailComposeScope.
	Scope string
	Now   func() time.Time
}

func NewStore(config Configuration) *Store {
	if config.Scope == "" {
		config.Scope = GmailComposeScope
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Store{
		db:         config.DB,
		authorizer: config.Authorizer,
		scope:      config.Scope,
		now:        config.Now,
		state:      StateUnloaded,
	}
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) setState(state State) {
	slog.Debug("Credential state changed", slog.String("from", s.state.String()), slog.String("to", state.String()))
	s.state = state
}

// Authorize yields a token source backed by a valid credential, refreshing or
// re-authorizing first when needed. Every token the source refreshes later is
// persisted as well.
func (s *Store) Authorize(ctx context.Context) (oauth2.TokenSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateFailed {
		return nil, fmt.Errorf("%w: authorization already failed", ErrCredentialUnavailable)
	}
	s.setState(StateUnloaded)

	cred, err := s.db.Get()
	switch {
	case errors.Is(err, ErrCredentialNotFound):
		slog.Info("No stored credential found")
		cred = nil
		s.setState(StateLoadedInvalid)
	case errors.Is(err, ErrCorruptCredential):
		slog.Warn("Stored credential is unreadable", sloki.WrapError(err))
		cred = nil
		s.setState(StateLoadedInvalid)
	case err != nil:
		s.setState(StateFailed)
		return nil, fmt.Errorf("%w: could not load credential: %w", ErrCredentialUnavailable, err)
	case cred.Valid(s.scope, s.now()):
		s.setState(StateLoadedValid)
	default:
		s.setState(StateLoadedInvalid)
	}

	if s.state == StateLoadedInvalid {
		s.setState(StateRefreshing)

		next, err := s.renew(ctx, cred)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateLoadedInvalid)
				return nil, fmt.Errorf("%w: %w", ErrCredentialUnavailable, ctx.Err())
			}
			s.setState(StateFailed)
			return nil, fmt.Errorf("%w: %w", ErrCredentialUnavailable, err)
		}

		if err := s.db.Put(next); err != nil {
			s.setState(StateFailed)
			return nil, fmt.Errorf("%w: could not persist credential: %w", ErrCredentialUnavailable, err)
		}
		cred = &next
	}

	s.setState(StateAuthorized)

	return &persistingTokenSource{
		db:    s.db,
		src:   oauth2.ReuseTokenSource(cred.Token(), s.authorizer.TokenSource(ctx, *cred)),
		scope: cred.Scope,
		last:  cred.AccessToken,
	}, nil
}

// renew tries the refresh token first and falls back to interactive
// authorization. Exactly one of them succeeds or the last error is returned.
func (s *Store) renew(ctx context.Context, cred *Credential) (Credential, error) {
	if cred.Refreshable(s.scope) {
		next, err := s.authorizer.Refresh(ctx, *cred)
		if err == nil {
			slog.Info("Refreshed credential")
			return next, nil
		}
		if ctx.Err() != nil {
			return Credential{}, err
		}
		slog.Warn("Could not refresh credential, starting authorization", sloki.WrapError(err))
	}

	next, err := s.authorizer.Authorize(ctx)
	if err != nil {
		return Credential{}, err
	}
	if !next.HasScope(s.scope) {
		return Credential{}, fmt.Errorf("%w: scope %q was not granted", ErrAuthorizationFailed, s.scope)
	}

	slog.Info("Authorization completed")
	return next, nil
}

// persistingTokenSource writes every newly issued token back to the DB. The
// scope is carried over since refresh responses usually omit it.
type persistingTokenSource struct {
	db    DB
	src   oauth2.TokenSource
	scope string

	mu   sync.Mutex
	last string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCredentialUnavailable, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if tok.AccessToken != p.last {
		if err := p.db.Put(FromToken(tok, p.scope)); err != nil {
			slog.Error("Failed to persist refreshed credential", sloki.WrapError(err))
		} else {
			slog.Debug("Persisted refreshed credential")
		}
		p.last = tok.AccessToken
	}

	return tok, nil
}
