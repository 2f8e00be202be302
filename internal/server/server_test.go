// ABOUTME: HTTP API tests over httptest with a real store and service
// ABOUTME: Covers auth enforcement, the message flow, and error mapping

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/courier/internal/auth"
	"github.com/2389/courier/internal/messaging"
	"github.com/2389/courier/internal/profile"
	"github.com/2389/courier/internal/store"
)

type testEnv struct {
	ts       *httptest.Server
	verifier *auth.JWTVerifier
	svc      *messaging.Service
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "courier.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := messaging.New(st, messaging.Options{}, logger)
	t.Cleanup(svc.Close)

	profiles := profile.NewCache(profile.LookupFunc(
		func(_ context.Context, userID string) (*profile.Profile, error) {
			return &profile.Profile{UserID: userID, DisplayName: "Display " + userID}, nil
		}), time.Minute, logger)

	verifier := auth.NewJWTVerifier([]byte("test-secret"))
	srv := New(svc, profiles, verifier, "127.0.0.1:0", logger)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, verifier: verifier, svc: svc}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.verifier.Generate(userID, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) request(t *testing.T, method, path, userID string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth_NoAuthRequired(t *testing.T) {
	env := setupTestServer(t)

	resp, err := http.Get(env.ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_RequiresToken(t *testing.T) {
	env := setupTestServer(t)

	resp := env.request(t, http.MethodGet, "/api/conversations", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateConversation_ReturnsPeerView(t *testing.T) {
	env := setupTestServer(t)

	resp := env.request(t, http.MethodPost, "/api/conversations", "alice",
		createConversationRequest{PeerID: "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	view := decode[conversationView](t, resp)
	assert.NotEmpty(t, view.ID)
	require.NotNil(t, view.Peer)
	assert.Equal(t, "bob", view.Peer.UserID)
	assert.Equal(t, "Display bob", view.Peer.DisplayName)
	assert.Zero(t, view.Unread)

	// Same pair from the other side resolves to the same conversation
	resp = env.request(t, http.MethodPost, "/api/conversations", "bob",
		createConversationRequest{PeerID: "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	other := decode[conversationView](t, resp)
	assert.Equal(t, view.ID, other.ID)
	assert.Equal(t, "alice", other.Peer.UserID)
}

func TestCreateConversation_SelfRejected(t *testing.T) {
	env := setupTestServer(t)

	resp := env.request(t, http.MethodPost, "/api/conversations", "alice",
		createConversationRequest{PeerID: "alice"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMessageFlow_SendListReadUnread(t *testing.T) {
	env := setupTestServer(t)

	resp := env.request(t, http.MethodPost, "/api/conversations", "alice",
		createConversationRequest{PeerID: "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	conv := decode[conversationView](t, resp)

	base := "/api/conversations/" + conv.ID

	resp = env.request(t, http.MethodPost, base+"/messages", "alice",
		sendMessageRequest{Text: "hi"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	msg := decode[store.Message](t, resp)
	assert.Equal(t, int64(1), msg.Seq)
	assert.Equal(t, "alice", msg.SenderID)

	resp = env.request(t, http.MethodPost, base+"/messages", "alice",
		sendMessageRequest{Text: "hello"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, http.MethodGet, base+"/messages", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := decode[[]store.Message](t, resp)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Text)
	assert.Equal(t, "hello", msgs[1].Text)

	resp = env.request(t, http.MethodGet, base+"/unread", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), decode[map[string]int64](t, resp)["unread"])

	resp = env.request(t, http.MethodGet, "/api/unread", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), decode[map[string]int64](t, resp)["total_unread"])

	resp = env.request(t, http.MethodPost, base+"/read", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), decode[map[string]int64](t, resp)["marked_read"])

	resp = env.request(t, http.MethodGet, base+"/unread", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, decode[map[string]int64](t, resp)["unread"])
}

func TestListConversations_OrderedAndDecorated(t *testing.T) {
	env := setupTestServer(t)

	for _, peer := range []string{"bob", "carol"} {
		resp := env.request(t, http.MethodPost, "/api/conversations", "alice",
			createConversationRequest{PeerID: peer})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	// A message in the bob conversation makes it most recent
	resp := env.request(t, http.MethodPost, "/api/conversations", "alice",
		createConversationRequest{PeerID: "bob"})
	conv := decode[conversationView](t, resp)
	resp = env.request(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", "bob",
		sendMessageRequest{Text: "newest"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, http.MethodGet, "/api/conversations", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	views := decode[[]conversationView](t, resp)
	require.Len(t, views, 2)
	assert.Equal(t, "bob", views[0].Peer.UserID)
	require.NotNil(t, views[0].LastMessage)
	assert.Equal(t, "newest", views[0].LastMessage.Text)
	assert.Equal(t, int64(1), views[0].Unread)
	assert.Equal(t, "carol", views[1].Peer.UserID)
}

func TestErrorMapping(t *testing.T) {
	env := setupTestServer(t)

	resp := env.request(t, http.MethodPost, "/api/conversations", "alice",
		createConversationRequest{PeerID: "bob"})
	conv := decode[conversationView](t, resp)
	base := "/api/conversations/" + conv.ID

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		want   int
	}{
		{"unknown conversation", http.MethodGet, "/api/conversations/nope/messages", "alice", nil, http.StatusNotFound},
		{"outsider forbidden", http.MethodGet, base + "/messages", "mallory", nil, http.StatusForbidden},
		{"outsider send forbidden", http.MethodPost, base + "/messages", "mallory", sendMessageRequest{Text: "hi"}, http.StatusForbidden},
		{"empty message", http.MethodPost, base + "/messages", "alice", sendMessageRequest{Text: ""}, http.StatusBadRequest},
		{"outsider unread forbidden", http.MethodGet, base + "/unread", "mallory", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.request(t, tt.method, tt.path, tt.user, tt.body)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestSendMessage_TooLongRejected(t *testing.T) {
	env := setupTestServer(t)

	resp := env.request(t, http.MethodPost, "/api/conversations", "alice",
		createConversationRequest{PeerID: "bob"})
	conv := decode[conversationView](t, resp)

	long := make([]byte, 4001)
	for i := range long {
		long[i] = 'x'
	}
	resp = env.request(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", "alice",
		sendMessageRequest{Text: string(long)})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendMessage_InvalidBody(t *testing.T) {
	env := setupTestServer(t)

	resp := env.request(t, http.MethodPost, "/api/conversations", "alice",
		createConversationRequest{PeerID: "bob"})
	conv := decode[conversationView](t, resp)

	req, err := http.NewRequest(http.MethodPost,
		fmt.Sprintf("%s/api/conversations/%s/messages", env.ts.URL, conv.ID),
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.token(t, "alice"))
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}
