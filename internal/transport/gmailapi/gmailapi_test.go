package gmailapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/OliverSchlueter/pgpmail/internal/compose"
	"github.com/OliverSchlueter/pgpmail/internal/transport"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, status int, response string, raw *string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/gmail/v1/users/me/messages/send" {
			http.NotFound(w, r)
			return
		}

		var body struct {
			Raw string `json:"raw"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		*raw = body.Raw

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSend(t *testing.T) {
	msg := compose.ProtectedMessage{
		Recipients: []string{"bob@example.com"},
		Raw:        []byte("Subject: hi\r\n\r\nbody\r\n"),
	}

	t.Run("should submit the url safe raw message and return the id", func(t *testing.T) {
		req := require.New(t)
		var raw string
		srv := newServer(t, http.StatusOK, `{"id":"18c0ffee","threadId":"18c0ffee"}`, &raw)

		tr, err := New(context.Background(), Configuration{HTTPClient: srv.Client(), Endpoint: srv.URL + "/"})
		req.NoError(err)

		id, err := tr.Send(context.Background(), msg)
		req.NoError(err)
		req.Equal("18c0ffee", id)

		decoded, err := base64.URLEncoding.DecodeString(raw)
		req.NoError(err)
		req.Equal(msg.Raw, decoded)
	})

	t.Run("should wrap provider errors as rejections", func(t *testing.T) {
		req := require.New(t)
		var raw string
		srv := newServer(t, http.StatusBadRequest, `{"error":{"code":400,"message":"Invalid To header"}}`, &raw)

		tr, err := New(context.Background(), Configuration{HTTPClient: srv.Client(), Endpoint: srv.URL + "/"})
		req.NoError(err)

		_, err = tr.Send(context.Background(), msg)
		req.ErrorIs(err, transport.ErrRejected)

		var rejected *transport.RejectedError
		req.ErrorAs(err, &rejected)
		req.Equal([]string{"bob@example.com"}, rejected.Recipients)
		req.Contains(err.Error(), "Invalid To header")
	})

	t.Run("should require credentials", func(t *testing.T) {
		_, err := New(context.Background(), Configuration{})
		require.Error(t, err)
	})
}
