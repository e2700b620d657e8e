package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"herbitect/clock"
	"herbitect/config"
	"herbitect/middleware"
	"herbitect/model"
	"herbitect/repository"
	"herbitect/services"
)

type outbox struct {
	mu   sync.Mutex
	sent []services.EmailMessage
}

func (o *outbox) Send(_ context.Context, msg services.EmailMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

var codeRe = regexp.MustCompile(`Your OTP is: (\d{6})\.`)

func (o *outbox) lastCode(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.sent)
	m := codeRe.FindStringSubmatch(o.sent[len(o.sent)-1].TextBody)
	require.Len(t, m, 2)
	return m[1]
}

type fakeIdentity struct {
	mu        sync.Mutex
	users     map[string]string
	passwords map[string]string
}

func (f *fakeIdentity) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	uid, ok := f.users[email]
	if !ok {
		return nil, services.ErrUserNotFound
	}
	return &model.User{UID: uid, Email: email}, nil
}

func (f *fakeIdentity) UpdatePassword(_ context.Context, uid, pw string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passwords[uid] = pw
	return nil
}

func newTestServer(t *testing.T) (*gin.Engine, *outbox, *fakeIdentity, *clock.Fake) {
	t.Helper()
	return newTestServerWith(t, &config.Config{AllowedOrigins: []string{"*"}}, nil)
}

func newTestServerWith(t *testing.T, cfg *config.Config, limiter *middleware.RateLimiter) (*gin.Engine, *outbox, *fakeIdentity, *clock.Fake) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fc := clock.NewFake(time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC))
	mail := &outbox{}
	ident := &fakeIdentity{users: map[string]string{"a@x.com": "uid-a"}, passwords: map[string]string{}}

	svc, err := services.NewOTPService(services.OTPServiceDeps{
		Store:    repository.NewMemoryOTPStore(fc),
		Identity: ident,
		Mailer:   mail,
		Clock:    fc,
	})
	require.NoError(t, err)

	r, err := NewRouter(cfg, svc, limiter)
	require.NoError(t, err)
	return r, mail, ident, fc
}

func post(t *testing.T, r http.Handler, path string, body map[string]string) (int, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w.Code, out
}

func TestRootAndHealth(t *testing.T) {
	r, _, _, _ := newTestServer(t)

	for path, want := range map[string]string{"/": "Api is running!", "/healthz": "ok"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), want)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	}
}

func TestRecoveryFlow(t *testing.T) {
	r, mail, ident, fc := newTestServer(t)

	code, body := post(t, r, "/check-email", map[string]string{"email": "a@x.com"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["exists"])

	code, body = post(t, r, "/check-email", map[string]string{"email": "ghost@x.com"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["exists"])

	code, body = post(t, r, "/send-otp", map[string]string{"email": "a@x.com"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	otp := mail.lastCode(t)

	fc.Advance(5 * time.Minute)
	code, body = post(t, r, "/reset-password", map[string]string{"email": "a@x.com", "otp": otp, "new_password": "n3w-pass"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "n3w-pass", ident.passwords["uid-a"])

	code, body = post(t, r, "/verify-otp", map[string]string{"email": "a@x.com", "otp": otp})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, services.MsgOTPNotFound, body["error"])
}

func TestVerifyAfterExpiry(t *testing.T) {
	r, mail, _, fc := newTestServer(t)

	code, _ := post(t, r, "/send-otp", map[string]string{"email": "a@x.com"})
	require.Equal(t, http.StatusOK, code)
	otp := mail.lastCode(t)

	fc.Advance(10*time.Minute + time.Second)
	code, body := post(t, r, "/verify-otp", map[string]string{"email": "a@x.com", "otp": otp})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, services.MsgOTPExpired, body["error"])
}

func TestMissingFieldsAre400(t *testing.T) {
	r, _, _, _ := newTestServer(t)

	code, body := post(t, r, "/send-otp", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, services.MsgEmailRequired, body["error"])

	code, body = post(t, r, "/reset-password", map[string]string{"email": "a@x.com", "otp": "123456"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, services.MsgResetRequired, body["error"])
}

func TestNewOTPStoreMemory(t *testing.T) {
	cfg := &config.Config{OTP: config.OTPConfig{Store: config.StoreMemory}}

	store, closeFn, err := NewOTPStore(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	assert.IsType(t, &repository.MemoryOTPStore{}, store)
	assert.NoError(t, closeFn())
}

func TestNewOTPStoreUnknown(t *testing.T) {
	cfg := &config.Config{OTP: config.OTPConfig{Store: "mongo"}}

	_, closeFn, err := NewOTPStore(context.Background(), cfg, nil)
	assert.Error(t, err)
	assert.NotNil(t, closeFn)
}

func sendOTPFrom(r http.Handler, remote, forwarded string) int {
	req := httptest.NewRequest(http.MethodPost, "/send-otp", bytes.NewReader([]byte(`{"email":"a@x.com"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remote
	if forwarded != "" {
		req.Header.Set("X-Forwarded-For", forwarded)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	limiter := middleware.NewRateLimiter(rate.Limit(0.001), 2)
	t.Cleanup(limiter.Close)
	r, _, _, _ := newTestServerWith(t, &config.Config{AllowedOrigins: []string{"*"}}, limiter)

	var codes []int
	for i := 0; i < 10; i++ {
		codes = append(codes, sendOTPFrom(r, "10.0.0.1:4000", fmt.Sprintf("1.2.3.%d", i)))
	}

	assert.Equal(t, []int{200, 200}, codes[:2])
	for _, c := range codes[2:] {
		assert.Equal(t, http.StatusTooManyRequests, c)
	}
}

func TestRateLimitUsesForwardedForFromTrustedProxy(t *testing.T) {
	limiter := middleware.NewRateLimiter(rate.Limit(0.001), 1)
	t.Cleanup(limiter.Close)
	cfg := &config.Config{AllowedOrigins: []string{"*"}, TrustedProxies: []string{"10.0.0.1"}}
	r, _, _, _ := newTestServerWith(t, cfg, limiter)

	assert.Equal(t, http.StatusOK, sendOTPFrom(r, "10.0.0.1:4000", "1.2.3.1"))
	assert.Equal(t, http.StatusOK, sendOTPFrom(r, "10.0.0.1:4000", "1.2.3.2"))
	assert.Equal(t, http.StatusTooManyRequests, sendOTPFrom(r, "10.0.0.1:4000", "1.2.3.1"))
}

func TestNewRouterRejectsBadTrustedProxy(t *testing.T) {
	svc := &services.OTPService{}
	_, err := NewRouter(&config.Config{TrustedProxies: []string{"not-an-ip"}}, svc, nil)
	assert.Error(t, err)
}
