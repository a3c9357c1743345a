package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/SscSPs/bearer_gate/internal/apperrors"
	"github.com/SscSPs/bearer_gate/internal/core/domain"
	portssvc "github.com/SscSPs/bearer_gate/internal/core/ports/services"
	"github.com/SscSPs/bearer_gate/internal/core/services"
	"github.com/SscSPs/bearer_gate/internal/middleware"
	"github.com/SscSPs/bearer_gate/internal/platform/metrics"
	"github.com/SscSPs/bearer_gate/internal/repositories/memory"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// --- Mock TokenSvc ---
type MockTokenService struct {
	mock.Mock
}

func (m *MockTokenService) GenerateSecret() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockTokenService) Issue(ctx context.Context, req portssvc.IssueTokenRequest) (string, *domain.TokenMetadata, error) {
	args := m.Called(ctx, req)
	if args.Get(1) == nil {
		return args.String(0), nil, args.Error(2)
	}
	return args.String(0), args.Get(1).(*domain.TokenMetadata), args.Error(2)
}

func (m *MockTokenService) Validate(ctx context.Context, rawToken string) (*domain.TokenMetadata, error) {
	args := m.Called(ctx, rawToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TokenMetadata), args.Error(1)
}

func (m *MockTokenService) Revoke(ctx context.Context, ref string) error {
	return m.Called(ctx, ref).Error(0)
}

func (m *MockTokenService) List(ctx context.Context) ([]domain.TokenMetadata, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.TokenMetadata), args.Error(1)
}

func (m *MockTokenService) MarkUsed(ctx context.Context, rawTokens ...string) error {
	return m.Called(ctx, rawTokens).Error(0)
}

var _ portssvc.TokenSvc = (*MockTokenService)(nil)

// fakeRecorder collects recorded credentials.
type fakeRecorder struct {
	mu   sync.Mutex
	raws []string
}

func (r *fakeRecorder) Record(raw string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raws = append(r.raws, raw)
	return true
}

func (r *fakeRecorder) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.raws...)
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]
}

// --- End-to-end suite over a real service and store ---
type TokenAuthTestSuite struct {
	suite.Suite
	store    *memory.TokenStore
	svc      portssvc.TokenSvc
	recorder *fakeRecorder
	metrics  *metrics.Metrics
	router   *gin.Engine
	hits     int
}

func (suite *TokenAuthTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	store, err := memory.NewTokenStore(context.Background(), memory.NewVolatilePersister(), nil)
	suite.Require().NoError(err)
	suite.store = store
	suite.svc = services.NewTokenService(store)
	suite.recorder = &fakeRecorder{}
	suite.metrics = metrics.New(prometheus.NewRegistry())
	suite.hits = 0

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := gin.New()
	r.Use(middleware.StructuredLoggingMiddleware(logger))
	protected := r.Group("/", middleware.TokenAuth(middleware.TokenAuthConfig{
		TokenSvc: suite.svc,
		Usage:    suite.recorder,
		Realm:    "Test Realm",
		Metrics:  suite.metrics,
	}))
	handler := func(c *gin.Context) {
		suite.hits++
		clientID, ok := middleware.GetClientIDFromContext(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no identity"})
			return
		}
		meta, ok := middleware.TokenMetadataFromContext(c.Request.Context())
		if !ok || meta.ClientID != clientID {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "request context lost identity"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"clientId": clientID})
	}
	protected.GET("/data", handler)
	protected.OPTIONS("/data", func(c *gin.Context) {
		suite.hits++
		c.Status(http.StatusNoContent)
	})
	suite.router = r
}

func (suite *TokenAuthTestSuite) TearDownTest() {
	suite.NoError(suite.store.Close())
}

func (suite *TokenAuthTestSuite) do(method, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/data", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)
	return w
}

func (suite *TokenAuthTestSuite) issue(clientID string) string {
	raw, _, err := suite.svc.Issue(context.Background(), portssvc.IssueTokenRequest{ClientID: clientID})
	suite.Require().NoError(err)
	return raw
}

func (suite *TokenAuthTestSuite) assertRejected(w *httptest.ResponseRecorder, message string) {
	suite.Equal(http.StatusUnauthorized, w.Code)
	suite.Equal(`Bearer realm="Test Realm"`, w.Header().Get("WWW-Authenticate"))
	suite.Equal(message, errorBody(suite.T(), w))
}

func (suite *TokenAuthTestSuite) TestValidTokenReachesHandler() {
	raw := suite.issue("alice")

	w := suite.do(http.MethodGet, "Bearer "+raw)

	suite.Equal(http.StatusOK, w.Code)
	suite.JSONEq(`{"clientId":"alice"}`, w.Body.String())
	suite.Equal(1, suite.hits)
	suite.Equal([]string{raw}, suite.recorder.recorded())
	suite.Equal(1.0, testutil.ToFloat64(suite.metrics.AuthRequests.WithLabelValues(metrics.OutcomeOK)))
}

func (suite *TokenAuthTestSuite) TestSchemeIsCaseInsensitive() {
	raw := suite.issue("alice")

	w := suite.do(http.MethodGet, "bEaReR   "+raw)

	suite.Equal(http.StatusOK, w.Code)
}

func (suite *TokenAuthTestSuite) TestMissingHeader() {
	w := suite.do(http.MethodGet, "")

	suite.assertRejected(w, "Missing Authorization header")
	suite.Zero(suite.hits)
	suite.Equal(1.0, testutil.ToFloat64(suite.metrics.AuthRequests.WithLabelValues(metrics.OutcomeMissing)))
}

func (suite *TokenAuthTestSuite) TestMalformedHeaders() {
	raw := suite.issue("alice")
	for _, header := range []string{"Token xyz", "Bearer", "Bearer a b", raw, "Basic " + raw} {
		w := suite.do(http.MethodGet, header)
		suite.assertRejected(w, "Invalid Authorization header format. Expected: Bearer <token>")
	}
	suite.Zero(suite.hits)
	suite.Empty(suite.recorder.recorded())
}

func (suite *TokenAuthTestSuite) TestUnknownToken() {
	w := suite.do(http.MethodGet, "Bearer wrong")

	suite.assertRejected(w, "Invalid or expired token")
	suite.Zero(suite.hits)
}

func (suite *TokenAuthTestSuite) TestRevokedToken() {
	raw := suite.issue("alice")
	suite.Require().Equal(http.StatusOK, suite.do(http.MethodGet, "Bearer "+raw).Code)

	suite.Require().NoError(suite.svc.Revoke(context.Background(), raw))
	w := suite.do(http.MethodGet, "Bearer "+raw)

	suite.assertRejected(w, "Invalid or expired token")
	suite.Equal(1, suite.hits)
	suite.Equal(1.0, testutil.ToFloat64(suite.metrics.AuthRequests.WithLabelValues(metrics.OutcomeRevoked)))
}

func (suite *TokenAuthTestSuite) TestExpiredToken() {
	ttl := time.Duration(0)
	raw, _, err := suite.svc.Issue(context.Background(), portssvc.IssueTokenRequest{ClientID: "alice", TTL: &ttl})
	suite.Require().NoError(err)

	w := suite.do(http.MethodGet, "Bearer "+raw)

	suite.assertRejected(w, "Invalid or expired token")
	suite.Equal(1.0, testutil.ToFloat64(suite.metrics.AuthRequests.WithLabelValues(metrics.OutcomeExpired)))
}

func (suite *TokenAuthTestSuite) TestPreflightBypassesAuth() {
	w := suite.do(http.MethodOptions, "")

	suite.Equal(http.StatusNoContent, w.Code)
	suite.Equal(1, suite.hits)
	suite.Empty(w.Header().Get("WWW-Authenticate"))
}

func (suite *TokenAuthTestSuite) TestResponseNeverEchoesSecret() {
	raw := suite.issue("alice")
	suite.Require().NoError(suite.svc.Revoke(context.Background(), raw))

	w := suite.do(http.MethodGet, "Bearer "+raw)

	suite.NotContains(w.Body.String(), raw)
}

func TestTokenAuth(t *testing.T) {
	suite.Run(t, new(TokenAuthTestSuite))
}

func TestTokenAuth_DefaultRealm(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := new(MockTokenService)
	svc.On("Validate", mock.Anything, "bgt_abc").Return(nil, apperrors.ErrInvalidToken)

	r := gin.New()
	r.GET("/data", middleware.TokenAuth(middleware.TokenAuthConfig{TokenSvc: svc}), func(c *gin.Context) {
		t.Fatal("handler must not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("Authorization", "Bearer bgt_abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, `Bearer realm="Bearer Gate API"`, w.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "Invalid or expired token", errorBody(t, w))
	svc.AssertExpectations(t)
}

func TestTokenAuth_StoreFailureIsUniform401(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := new(MockTokenService)
	svc.On("Validate", mock.Anything, "bgt_abc").Return(nil, fmt.Errorf("%w: boom", apperrors.ErrStoreIO))
	recorder := &fakeRecorder{}
	m := metrics.New(prometheus.NewRegistry())

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	r := gin.New()
	r.Use(middleware.StructuredLoggingMiddleware(logger))
	hits := 0
	r.GET("/data", middleware.TokenAuth(middleware.TokenAuthConfig{
		TokenSvc: svc,
		Usage:    recorder,
		Realm:    "Test Realm",
		Metrics:  m,
	}), func(c *gin.Context) {
		hits++
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("Authorization", "Bearer bgt_abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, `Bearer realm="Test Realm"`, w.Header().Get("WWW-Authenticate"))
	assert.JSONEq(t, `{"error":"Invalid or expired token"}`, w.Body.String())
	assert.Zero(t, hits)
	assert.Empty(t, recorder.recorded())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthRequests.WithLabelValues(metrics.OutcomeInvalid)))
	assert.Contains(t, logs.String(), `"level":"ERROR","msg":"Authentication failed"`)
	assert.NotContains(t, logs.String(), "bgt_abc")
	svc.AssertExpectations(t)
}
