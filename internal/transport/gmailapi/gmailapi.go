package gmailapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/OliverSchlueter/pgpmail/internal/compose"
	"github.com/OliverSchlueter/pgpmail/internal/transport"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// UserMe addresses the authenticated account.
const UserMe = "me"

type Transport struct {
	service *gmail.Service
	userID  string
}

type Configuration struct {
	TokenSource oauth2.TokenSource
	// HTTPClient replaces TokenSource when set.
	HTTPClient *http.Client
	// Endpoint overrides the Gmail API base URL.
	Endpoint string
	// UserID defaults to UserMe.
	UserID string
}

func New(ctx context.Context, config Configuration) (*Transport, error) {
	if config.UserID == "" {
		config.UserID = UserMe
	}

	var opts []option.ClientOption
	switch {
	case config.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(config.HTTPClient))
	case config.TokenSource != nil:
		opts = append(opts, option.WithTokenSource(config.TokenSource))
	default:
		return nil, errors.New("gmailapi: token source or http client required")
	}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create gmail service: %w", err)
	}

	return &Transport{
		service: svc,
		userID:  config.UserID,
	}, nil
}

func (t *Transport) Send(ctx context.Context, msg compose.ProtectedMessage) (string, error) {
	sent, err := t.service.Users.Messages.Send(t.userID, &gmail.Message{Raw: msg.Encode()}).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return "", transport.Rejected(msg.Recipients, fmt.Errorf("gmail api %d: %s: %w", apiErr.Code, apiErr.Message, err))
		}
		return "", transport.Rejected(msg.Recipients, err)
	}
	return sent.Id, nil
}
