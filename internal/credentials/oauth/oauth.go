package oauth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/pgpmail/internal/credentials"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Authorizer runs the OAuth 2.0 installed-application flow against Google
// with a loopback redirect and PKCE.
type Authorizer struct {
	config      *oauth2.Config
	scope       string
	listenAddr  string
	prompt      io.Writer
	codeInput   io.Reader
	openBrowser func(url string) error
}

type Configuration struct {
	// ClientSecretsPath points to the client secrets JSON downloaded from the
	// Google Cloud console. Ignored when ClientSecrets is set.
	ClientSecretsPath string
	ClientSecrets     []byte
	// Scope defaults to credentials.GmailComposeScope.
	Scope string
	// ListenAddr defaults to 127.0.0.1:0.
	ListenAddr string
	// Prompt receives the authorization URL. Defaults to os.Stderr.
	Prompt io.Writer
	// CodeInput is read for a pasted authorization code when no loopback
	// listener can be opened.
	CodeInput io.Reader
	// OpenBrowser is called with the authorization URL when set.
	OpenBrowser func(url string) error
}

func New(config Configuration) (*Authorizer, error) {
	if config.Scope == "" {
		config.Scope = credentials.GmailComposeScope
	}
	if config.ListenAddr == "" {
		config.ListenAddr = "127.0.0.1:0"
	}
	if config.Prompt == nil {
		config.Prompt = os.Stderr
	}

	secrets := config.ClientSecrets
	if secrets == nil {
		data, err := os.ReadFile(config.ClientSecretsPath)
		if err != nil {
			return nil, fmt.Errorf("could not read client secrets: %w", err)
		}
		secrets = data
	}

	oc, err := google.ConfigFromJSON(secrets, config.Scope)
	if err != nil {
		return nil, fmt.Errorf("could not parse client secrets: %w", err)
	}

	return &Authorizer{
		config:      oc,
		scope:       config.Scope,
		listenAddr:  config.ListenAddr,
		prompt:      config.Prompt,
		codeInput:   config.CodeInput,
		openBrowser: config.OpenBrowser,
	}, nil
}

func (a *Authorizer) Refresh(ctx context.Context, c credentials.Credential) (credentials.Credential, error) {
	expired := c.Token()
	expired.Expiry = time.Unix(1, 0)

	tok, err := a.config.TokenSource(ctx, expired).Token()
	if err != nil {
		return credentials.Credential{}, fmt.Errorf("could not refresh token: %w", err)
	}

	next := credentials.FromToken(tok, c.Scope)
	if next.RefreshToken == "" {
		next.RefreshToken = c.RefreshToken
	}
	return next, nil
}

func (a *Authorizer) TokenSource(ctx context.Context, c credentials.Credential) oauth2.TokenSource {
	return a.config.TokenSource(ctx, c.Token())
}

func (a *Authorizer) Authorize(ctx context.Context) (credentials.Credential, error) {
	verifier := oauth2.GenerateVerifier()
	state := uuid.NewString()

	listener, err := net.Listen("tcp", a.listenAddr)
	if err != nil {
		slog.Warn("Could not open loopback listener, falling back to manual code entry", sloki.WrapError(err))
		return a.authorizeManually(ctx, state, verifier)
	}

	cfg := *a.config
	cfg.RedirectURL = "http://" + listener.Addr().String() + "/"

	type result struct {
		code string
		err  error
	}
	results := make(chan result, 1)

	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("state") != state {
				http.Error(w, "state mismatch", http.StatusBadRequest)
				return
			}

			var res result
			switch {
			case q.Get("error") != "":
				res.err = fmt.Errorf("%w: %s", credentials.ErrAuthorizationFailed, q.Get("error"))
				fmt.Fprintf(w, "<html><body>Authorization failed: %s</body></html>", html.EscapeString(q.Get("error")))
			case q.Get("code") == "":
				http.Error(w, "missing code", http.StatusBadRequest)
				return
			default:
				res.code = q.Get("code")
				fmt.Fprint(w, "<html><body>Authorization complete. You can close this window.</body></html>")
			}

			select {
			case results <- res:
			default:
			}
		}),
	}

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Loopback listener failed", sloki.WrapError(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	url := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce, oauth2.S256ChallengeOption(verifier))
	a.announce(url)

	var res result
	select {
	case <-ctx.Done():
		return credentials.Credential{}, ctx.Err()
	case res = <-results:
	}
	if res.err != nil {
		return credentials.Credential{}, res.err
	}

	return a.exchange(ctx, &cfg, res.code, verifier)
}

func (a *Authorizer) authorizeManually(ctx context.Context, state, verifier string) (credentials.Credential, error) {
	if a.codeInput == nil {
		return credentials.Credential{}, fmt.Errorf("%w: no loopback listener and no code input", credentials.ErrAuthorizationFailed)
	}

	cfg := *a.config
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "http://127.0.0.1/"
	}

	url := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce, oauth2.S256ChallengeOption(verifier))
	a.announce(url)
	fmt.Fprintln(a.prompt, "Paste the code parameter of the address your browser was redirected to:")

	codes := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(a.codeInput).ReadString('\n')
		codes <- strings.TrimSpace(line)
	}()

	var code string
	select {
	case <-ctx.Done():
		return credentials.Credential{}, ctx.Err()
	case code = <-codes:
	}
	if code == "" {
		return credentials.Credential{}, fmt.Errorf("%w: empty authorization code", credentials.ErrAuthorizationFailed)
	}

	return a.exchange(ctx, &cfg, code, verifier)
}

func (a *Authorizer) exchange(ctx context.Context, cfg *oauth2.Config, code, verifier string) (credentials.Credential, error) {
	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		if ctx.Err() != nil {
			return credentials.Credential{}, ctx.Err()
		}
		return credentials.Credential{}, fmt.Errorf("%w: code exchange: %w", credentials.ErrAuthorizationFailed, err)
	}
	return credentials.FromToken(tok, a.scope), nil
}

func (a *Authorizer) announce(url string) {
	fmt.Fprintf(a.prompt, "Go to the following link in your browser:\n\n    %s\n\n", url)
	if a.openBrowser != nil {
		if err := a.openBrowser(url); err != nil {
			slog.Debug("Could not open browser", sloki.WrapError(err))
		}
	}
}
