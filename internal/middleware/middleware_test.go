package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/metrics"
)

const secret = "middleware-test-secret"

func sign(t *testing.T, claims jwt.Claims, key string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func validClaims(roles, perms []string) *JWTClaims {
	return &JWTClaims{
		UserID:      "u1",
		Name:        "张三",
		Roles:       roles,
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Recovery(zap.NewNop()), Logger(zap.NewNop()))
	g := r.Group("/", mw...)
	g.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"uid": c.GetString(CtxUserID), "rid": c.GetString(CtxRequestID)})
	})
	g.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := newRouter(JWTAuth(secret))

	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", "garbage").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", sign(t, validClaims(nil, nil), "other-secret")).Code)

	expired := validClaims(nil, nil)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", sign(t, expired, secret)).Code)

	token := sign(t, validClaims(nil, nil), secret)
	w := get(r, "/me", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"uid":"u1"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	// SSE 走 query 参数
	assert.Equal(t, http.StatusOK, get(r, "/me?token="+token, "").Code)
}

func TestRequirePermissionAndRole(t *testing.T) {
	perm := newRouter(JWTAuth(secret), RequirePermission("ecn:approve"))
	assert.Equal(t, http.StatusForbidden, get(perm, "/me", sign(t, validClaims(nil, []string{"ecn:read"}), secret)).Code)
	assert.Equal(t, http.StatusOK, get(perm, "/me", sign(t, validClaims(nil, []string{"ecn:approve"}), secret)).Code)
	assert.Equal(t, http.StatusOK, get(perm, "/me", sign(t, validClaims(nil, []string{"*"}), secret)).Code)
	assert.Equal(t, http.StatusOK, get(perm, "/me", sign(t, validClaims([]string{AdminRole}, nil), secret)).Code)

	role := newRouter(JWTAuth(secret), RequireRole("ecn_manager"))
	assert.Equal(t, http.StatusForbidden, get(role, "/me", sign(t, validClaims([]string{"viewer"}, nil), secret)).Code)
	assert.Equal(t, http.StatusOK, get(role, "/me", sign(t, validClaims([]string{"ecn_manager"}, nil), secret)).Code)
}

func TestRecovery(t *testing.T) {
	r := newRouter()
	w := get(r, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "50000")
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/v1/ecns/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	counter := metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/ecns/:id", "200")
	before := promtest.ToFloat64(counter)
	get(r, "/api/v1/ecns/abc", "")
	get(r, "/api/v1/ecns/def", "")
	assert.Equal(t, before+2, promtest.ToFloat64(counter))

	skipped := metrics.HTTPRequestsTotal.WithLabelValues("GET", "/metrics", "200")
	before = promtest.ToFloat64(skipped)
	get(r, "/metrics", "")
	assert.Equal(t, before, promtest.ToFloat64(skipped))
}
