package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	"inspecto-service/internal/domain/membership"
	"inspecto-service/internal/pkg/jwt"
	"inspecto-service/internal/pkg/ratelimit"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTokens(t *testing.T) (*jwt.Generator, *jwt.Verifier) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return jwt.NewGenerator(key, "iss", "aud", "k1", time.Hour), jwt.NewVerifier(&key.PublicKey, "iss", "aud")
}

func do(r http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func TestAuth(t *testing.T) {
	gen, ver := newTokens(t)
	auth := NewAuthMiddleware(ver)
	subID := uuid.New()

	r := gin.New()
	r.GET("/me", auth.Auth(), func(c *gin.Context) {
		c.String(http.StatusOK, MustGetSubscriberID(c).String())
	})
	r.GET("/admin", append(auth.AdminOnly(), func(c *gin.Context) { c.Status(http.StatusNoContent) })...)

	member, _, err := gen.GenerateAccessToken(subID.String(), "u-1", []string{"member"})
	require.NoError(t, err)
	admin, _, err := gen.GenerateAccessToken(subID.String(), "u-2", []string{jwt.RoleAdmin})
	require.NoError(t, err)
	noSub, _, err := gen.GenerateAccessToken("not-a-uuid", "u-3", nil)
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/me", bearer(member))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, subID.String(), w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", bearer("garbage")).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", bearer(noSub)).Code)

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/admin", bearer(member)).Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodGet, "/admin", bearer(admin)).Code)
}

func TestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	r := gin.New()
	r.POST("/pay", RateLimit(ratelimit.NewLimiter(rdb), "pay", 2, time.Minute, zap.NewNop()), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/pay", nil).Code)
	w := do(r, http.MethodPost, "/pay", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = do(r, http.MethodPost, "/pay", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	mr.FastForward(time.Minute + time.Second)
	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/pay", nil).Code)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, string, int64, time.Duration) (bool, int64, error) {
	return false, 0, errors.New("redis down")
}

func TestRateLimitFailsOpen(t *testing.T) {
	r := gin.New()
	r.GET("/x", RateLimit(failingLimiter{}, "x", 1, time.Minute, zap.NewNop()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/x", nil).Code)
}

type accessFunc func(feature string) (*membership.AccessResponse, error)

func (f accessFunc) Access(_ context.Context, _ uuid.UUID, feature string) (*membership.AccessResponse, error) {
	return f(feature)
}

func TestRequireFeature(t *testing.T) {
	subID := uuid.New()
	withSubscriber := func(c *gin.Context) { c.Set(ctxSubscriberID, subID) }
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }

	active := accessFunc(func(feature string) (*membership.AccessResponse, error) {
		return &membership.AccessResponse{Active: true, Feature: feature, Granted: feature == "" || feature == "reports"}, nil
	})
	lapsed := accessFunc(func(feature string) (*membership.AccessResponse, error) {
		return &membership.AccessResponse{Feature: feature}, nil
	})
	broken := accessFunc(func(string) (*membership.AccessResponse, error) {
		return nil, errors.New("db down")
	})

	r := gin.New()
	r.GET("/active", withSubscriber, RequireActiveMembership(active), ok)
	r.GET("/reports", withSubscriber, RequireFeature(active, "reports"), ok)
	r.GET("/exports", withSubscriber, RequireFeature(active, "reports", "exports"), ok)
	r.GET("/lapsed", withSubscriber, RequireActiveMembership(lapsed), ok)
	r.GET("/broken", withSubscriber, RequireActiveMembership(broken), ok)
	r.GET("/anon", RequireActiveMembership(active), ok)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/active", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/reports", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/exports", nil).Code)
	assert.Equal(t, http.StatusPaymentRequired, do(r, http.MethodGet, "/lapsed", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, do(r, http.MethodGet, "/broken", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/anon", nil).Code)
}

func TestRecoveryAndLogging(t *testing.T) {
	r := gin.New()
	r.Use(LoggingMiddleware(zap.NewNop()), RecoveryMiddleware(zap.NewNop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })
	r.GET("/fine", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := do(r, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))

	w = do(r, http.MethodGet, "/fine", http.Header{HeaderRequestID: []string{"req-42"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-42", w.Header().Get(HeaderRequestID))
}

func TestIsBrokenConnection(t *testing.T) {
	reset := &net.OpError{Op: "write", Net: "tcp", Err: os.NewSyscallError("write", syscall.ECONNRESET)}
	pipe := &net.OpError{Op: "write", Net: "tcp", Err: os.NewSyscallError("write", syscall.EPIPE)}
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}

	assert.True(t, isBrokenConnection(reset))
	assert.True(t, isBrokenConnection(pipe))
	assert.False(t, isBrokenConnection(refused))
	assert.False(t, isBrokenConnection(errors.New("boom")))
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware([]string{"https://app.inspecto.test"}))
	r.GET("/plans", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := do(r, http.MethodOptions, "/plans", http.Header{"Origin": []string{"https://app.inspecto.test"}})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.inspecto.test", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(r, http.MethodGet, "/plans", http.Header{"Origin": []string{"https://evil.test"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
