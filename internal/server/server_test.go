package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"feedbot/internal/config"
	"feedbot/internal/database"
	"feedbot/internal/gateway"
	"feedbot/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const messageCreated = `{"id":"hook-1","resource":"messages","event":"created","data":{"id":"msg-1","personEmail":"c@x.com"}}`

type fakeFetcher struct {
	calls int
	err   error
}

func (f *fakeFetcher) GetMessage(ctx context.Context, id string) (*gateway.Inbound, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.Inbound{ID: id, PersonEmail: "c@x.com", Text: "list customers"}, nil
}

type fakeInbox struct {
	mu       sync.Mutex
	received []gateway.Inbound
	err      error
}

func (f *fakeInbox) Submit(ctx context.Context, in gateway.Inbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.received = append(f.received, in)
	return nil
}

func sign(secret, body string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestServer(t *testing.T, secret string) (*Server, *fakeFetcher, *fakeInbox) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Bot.Email = "bot@webex.bot"
	cfg.Bot.WebhookSecret = secret

	fetcher := &fakeFetcher{}
	inbox := &fakeInbox{}
	return New(cfg, testutil.SetupTestDB(t), fetcher, inbox, zap.NewNop()), fetcher, inbox
}

func postWebhook(h http.Handler, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_SignedMessageIsQueued(t *testing.T) {
	srv, fetcher, inbox := newTestServer(t, "s3cret")

	rec := postWebhook(srv.Handler(), messageCreated, sign("s3cret", messageCreated))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, fetcher.calls)
	require.Len(t, inbox.received, 1)
	assert.Equal(t, gateway.Inbound{ID: "msg-1", PersonEmail: "c@x.com", Text: "list customers"}, inbox.received[0])
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	srv, fetcher, inbox := newTestServer(t, "s3cret")
	h := srv.Handler()

	for _, sig := range []string{"", "not-hex", sign("other", messageCreated)} {
		rec := postWebhook(h, messageCreated, sig)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "signature %q", sig)
	}
	assert.Zero(t, fetcher.calls)
	assert.Empty(t, inbox.received)
}

func TestWebhook_UnsignedWithoutSecret(t *testing.T) {
	srv, _, inbox := newTestServer(t, "")

	rec := postWebhook(srv.Handler(), messageCreated, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, inbox.received, 1)
}

func TestWebhook_IgnoredEvents(t *testing.T) {
	srv, fetcher, inbox := newTestServer(t, "")
	h := srv.Handler()

	bodies := []string{
		`{"resource":"rooms","event":"created","data":{"id":"room-1"}}`,
		`{"resource":"messages","event":"deleted","data":{"id":"msg-1"}}`,
		`{"resource":"messages","event":"created","data":{"id":"msg-1","personEmail":"Bot@Webex.bot"}}`,
	}
	for _, body := range bodies {
		rec := postWebhook(h, body, "")
		assert.Equal(t, http.StatusNoContent, rec.Code, body)
	}
	assert.Zero(t, fetcher.calls)
	assert.Empty(t, inbox.received)
}

func TestWebhook_Failures(t *testing.T) {
	srv, fetcher, inbox := newTestServer(t, "")
	h := srv.Handler()

	rec := postWebhook(h, "{not json", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	fetcher.err = gateway.ErrUnreachable
	rec = postWebhook(h, messageCreated, "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	fetcher.err = nil
	inbox.err = errors.New("stopped")
	rec = postWebhook(h, messageCreated, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var result healthResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "healthy", result.Status)
	assert.Equal(t, "feedbot", result.Service)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	require.NoError(t, database.Close(srv.db))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestWebhook_NotMountedWithoutFetcher(t *testing.T) {
	srv := New(config.Defaults(), testutil.SetupTestDB(t), nil, &fakeInbox{}, zap.NewNop())

	rec := postWebhook(srv.Handler(), messageCreated, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
