package atproto

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mossy-p/huddle/internal/apperr"
)

const sessionBody = `{"accessJwt":"access-1","refreshJwt":"refresh-1","handle":"alice.bsky.social","did":"did:plc:alice","email":"alice@example.com"}`

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, "invite-123", zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("not a url", "", zap.NewNop())
	assert.Error(t, err)
}

func TestCreateAccountSendsInviteCode(t *testing.T) {
	var got map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /xrpc/com.atproto.server.createAccount", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"accessJwt":"a","refreshJwt":"r","handle":"alice.bsky.social","did":"did:plc:alice"}`)
	})
	c := newTestClient(t, mux)

	sess, err := c.CreateAccount(context.Background(), CreateAccountInput{
		Email:    "alice@example.com",
		Handle:   "alice.bsky.social",
		Password: "hunter2",
	})
	require.NoError(t, err)

	assert.Equal(t, "invite-123", got["inviteCode"])
	assert.Equal(t, "alice.bsky.social", got["handle"])
	assert.Equal(t, "did:plc:alice", sess.DID)
	assert.Equal(t, "alice@example.com", sess.Email)
}

func TestCreateSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice.bsky.social", body["identifier"])
		io.WriteString(w, sessionBody)
	})
	c := newTestClient(t, mux)

	sess, err := c.CreateSession(context.Background(), "alice.bsky.social", "hunter2")
	require.NoError(t, err)

	rec := sess.Record()
	assert.Equal(t, "refresh-1", rec.RefreshJWT)
	assert.Equal(t, "access-1", rec.AccessJWT)
	assert.Equal(t, "did:plc:alice", rec.DID)
	assert.Equal(t, "alice@example.com", rec.Email)
}

func TestRefreshAndDeleteUseRefreshToken(t *testing.T) {
	var refreshAuth, deleteAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /xrpc/com.atproto.server.refreshSession", func(w http.ResponseWriter, r *http.Request) {
		refreshAuth = r.Header.Get("Authorization")
		io.WriteString(w, sessionBody)
	})
	mux.HandleFunc("POST /xrpc/com.atproto.server.deleteSession", func(w http.ResponseWriter, r *http.Request) {
		deleteAuth = r.Header.Get("Authorization")
	})
	c := newTestClient(t, mux)

	_, err := c.RefreshSession(context.Background(), "refresh-0")
	require.NoError(t, err)
	require.NoError(t, c.DeleteSession(context.Background(), "refresh-1"))

	assert.Equal(t, "Bearer refresh-0", refreshAuth)
	assert.Equal(t, "Bearer refresh-1", deleteAuth)
}

func TestGetProfile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /xrpc/app.bsky.actor.getProfile", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "did:plc:alice", r.URL.Query().Get("actor"))
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		io.WriteString(w, `{"did":"did:plc:alice","handle":"alice.bsky.social","displayName":"Alice","avatar":"https://cdn.example/a.jpg","followersCount":3}`)
	})
	c := newTestClient(t, mux)

	p, err := c.GetProfile(context.Background(), "access-1", "did:plc:alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.DisplayName)
	assert.Equal(t, "https://cdn.example/a.jpg", p.Avatar)
}

func TestXRPCErrorIsExternal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":"AuthenticationRequired","message":"Invalid identifier or password"}`)
	})
	c := newTestClient(t, mux)

	_, err := c.CreateSession(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.Equal(t, apperr.KindExternal, apperr.KindOf(err))

	var xerr *XRPCError
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, http.StatusUnauthorized, xerr.StatusCode)
	assert.Equal(t, "AuthenticationRequired", xerr.Name)
	assert.Contains(t, err.Error(), "Invalid identifier or password")
}

func TestNonJSONErrorBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /xrpc/com.atproto.server.refreshSession", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})
	c := newTestClient(t, mux)

	_, err := c.RefreshSession(context.Background(), "refresh-0")
	require.Error(t, err)
	assert.Equal(t, apperr.KindExternal, apperr.KindOf(err))

	var xerr *XRPCError
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, http.StatusBadGateway, xerr.StatusCode)
}

func TestUnreachableServiceIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, err := NewClient(srv.URL, "", zap.NewNop())
	require.NoError(t, err)

	_, err = c.CreateSession(context.Background(), "alice", "pw")
	require.Error(t, err)
	assert.Equal(t, apperr.KindTransport, apperr.KindOf(err))
}
