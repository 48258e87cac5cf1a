package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"ResQFlow/internal/allocation"
	"ResQFlow/internal/missing"
	"ResQFlow/internal/models"
	"ResQFlow/internal/ratelimit"
	"ResQFlow/internal/sos"
	"ResQFlow/internal/stock"
	"ResQFlow/internal/testutil"
	"ResQFlow/pkg/cache"
	"ResQFlow/pkg/events"
	"ResQFlow/pkg/i18n"
	"ResQFlow/pkg/metrics"
	"ResQFlow/pkg/middleware"
	"ResQFlow/pkg/response"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const secret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type server struct {
	engine *gin.Engine
	ledger *stock.Ledger
	clock  *testutil.Clock
}

func newServer(t *testing.T) *server {
	t.Helper()
	db := testutil.NewDB(t)
	clock := testutil.NewClock(time.Date(2025, 8, 20, 8, 0, 0, 0, time.UTC))
	bus := events.NewBus()
	log := zap.NewNop()
	local := cache.NewGoCache(cache.LocalConfig{DefaultExpiration: time.Minute, CleanupInterval: time.Minute})

	sosLimiter := ratelimit.New(ratelimit.NewMemoryStore(), time.Hour, 3, clock.Now)
	ledger := stock.NewLedger(db, log, bus, clock.Now)
	h := NewHandlers(Deps{
		DB:             db,
		SOS:            sos.NewService(db, sosLimiter, log, bus, clock.Now),
		Missing:        missing.NewService(db, log, bus, clock.Now),
		Ledger:         ledger,
		Suggestions:    allocation.NewService(db, ledger, local, log, bus, clock.Now),
		SOSLimiter:     sosLimiter,
		HTTPLimiter:    middleware.NewRateLimiter(middleware.RateLimiterConfig{Rate: "1000-M"}, nil),
		Idempotency:    local,
		APISecretKey:   secret,
		RequestTimeout: 5 * time.Second,
	})

	tr, err := i18n.NewI18nSupport("en")
	require.NoError(t, err)
	response.UseTranslator(tr)

	engine := gin.New()
	engine.Use(middleware.LanguageMiddleware(tr))
	h.Register(engine)
	return &server{engine: engine, ledger: ledger, clock: clock}
}

func (s *server) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		buf = b
	default:
		buf, _ = json.Marshal(b)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderActorID, "op-1")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func sosBody(cnic string) map[string]any {
	return map[string]any{
		"name":          "Ayesha Khan",
		"phone":         "0300-1234567",
		"cnic":          cnic,
		"locationLat":   31.5204,
		"locationLng":   74.3587,
		"location":      "Shahdara, Lahore",
		"peopleCount":   4,
		"emergencyType": "flood",
		"description":   "water entering the house",
	}
}

func TestSubmitSOS(t *testing.T) {
	s := newServer(t)

	w := s.do("POST", "/api/civilian/sos", sosBody("35202-1234567-1"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	out := decode[submitSOSResponse](t, w)
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, "Pending", out.Status)
	assert.Equal(t, "A rescue team will be assigned shortly", out.EstimatedResponse)

	w = s.do("POST", "/api/pdma/rescue-teams", map[string]any{"name": "Rescue 1122 Lahore", "lat": 31.5497, "lng": 74.3436, "capacity": 8})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do("POST", "/api/civilian/sos", sosBody("35202-1234567-1"))
	require.Equal(t, http.StatusCreated, w.Code)
	out = decode[submitSOSResponse](t, w)
	require.NotNil(t, out.EstimatedMinutes)
	assert.Equal(t, strconv.Itoa(*out.EstimatedMinutes)+" minutes", out.EstimatedResponse)

	w = s.do("POST", "/api/civilian/sos?lang=ur", sosBody("35202-1234567-1"))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, decode[submitSOSResponse](t, w).EstimatedResponse, "منٹ")

	w = s.do("POST", "/api/civilian/sos", sosBody("35202-1234567-1"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	body := decode[response.ErrorBody](t, w)
	assert.Equal(t, "RateLimited", body.Code)

	// another submitter is unaffected
	w = s.do("POST", "/api/civilian/sos", sosBody("35202-7654321-1"))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestSubmitSOSValidation(t *testing.T) {
	s := newServer(t)
	b := sosBody("3520212345671")
	b["phone"] = "12345"
	w := s.do("POST", "/api/civilian/sos", b)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[response.ErrorBody](t, w)
	assert.Equal(t, "ValidationError", body.Code)
	assert.Contains(t, body.Fields, "cnic")
	assert.Contains(t, body.Fields, "phone")

	b = sosBody("35202-1234567-1")
	b["emergencyType"] = "alien invasion"
	w = s.do("POST", "/api/civilian/sos", b)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[response.ErrorBody](t, w).Fields, "emergencyType")

	w = s.do("POST", "/api/civilian/sos", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAssignTeamFlow(t *testing.T) {
	s := newServer(t)
	team := decode[models.RescueTeam](t, s.do("POST", "/api/pdma/rescue-teams", map[string]any{"name": "Team A", "lat": 31.55, "lng": 74.34}))
	first := decode[submitSOSResponse](t, s.do("POST", "/api/civilian/sos", sosBody("35202-0000001-1")))
	second := decode[submitSOSResponse](t, s.do("POST", "/api/civilian/sos", sosBody("35202-0000002-1")))

	w := s.do("GET", "/api/pdma/sos-requests/"+first.ID+"/candidate-teams", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cands := decode[[]sos.Candidate](t, w)
	require.Len(t, cands, 1)
	assert.Equal(t, team.ID, cands[0].Team.ID)

	w = s.do("PUT", "/api/pdma/sos-requests/"+first.ID+"/assign-team", map[string]any{"teamId": team.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	req := decode[models.SOSRequest](t, w)
	assert.Equal(t, "Assigned", req.Status)
	require.NotNil(t, req.AssignedTeamID)
	assert.Equal(t, team.ID, *req.AssignedTeamID)

	w = s.do("PUT", "/api/pdma/sos-requests/"+second.ID+"/assign-team", map[string]any{"teamId": team.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "TeamUnavailable", decode[response.ErrorBody](t, w).Code)

	// Rescued straight from Assigned is not allowed
	w = s.do("PUT", "/api/pdma/sos-requests/"+first.ID+"/status", map[string]any{"status": "Rescued"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for _, st := range []string{"EnRoute", "Rescued"} {
		w = s.do("PUT", "/api/pdma/sos-requests/"+first.ID+"/status", map[string]any{"status": st})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	req = decode[models.SOSRequest](t, s.do("GET", "/api/civilian/sos/"+first.ID, nil))
	assert.Equal(t, "Rescued", req.Status)
	assert.Len(t, req.StatusHistory, 4)

	w = s.do("PUT", "/api/civilian/sos/"+first.ID+"/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "TerminalStateViolation", decode[response.ErrorBody](t, w).Code)

	w = s.do("PUT", "/api/civilian/sos/"+second.ID+"/cancel", map[string]any{"note": "safe now"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do("GET", "/api/pdma/sos-requests?status=Cancelled", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.SOSRequest](t, w), 1)

	w = s.do("GET", "/api/pdma/sos-requests/search?q=lahore", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do("GET", "/api/pdma/sos-requests/missing-id", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMissingPersons(t *testing.T) {
	s := newServer(t)
	w := s.do("POST", "/api/district/missing-persons", map[string]any{
		"name":             "Nadia",
		"age":              9,
		"lastSeenAt":       s.clock.Now().Add(-25 * 24 * time.Hour),
		"lastSeenLocation": "Charsadda",
		"districtId":       "charsadda",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	mc := decode[models.MissingPersonCase](t, w)
	assert.True(t, mc.ShouldBeDeclaredDead)
	assert.Equal(t, 25, mc.DaysMissing)

	w = s.do("GET", "/api/district/missing-persons?critical=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.MissingPersonCase](t, w), 1)

	w = s.do("PUT", "/api/district/missing-persons/"+mc.ID+"/status", map[string]any{"status": "Found"})
	require.Equal(t, http.StatusOK, w.Code)
	mc = decode[models.MissingPersonCase](t, w)
	assert.Equal(t, "Found", mc.Status)
	assert.False(t, mc.ShouldBeDeclaredDead)

	w = s.do("PUT", "/api/district/missing-persons/"+mc.ID+"/status", map[string]any{"status": "Closed"})
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do("PUT", "/api/district/missing-persons/"+mc.ID+"/status", map[string]any{"status": "Active"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do("PUT", "/api/district/missing-persons/"+mc.ID+"/status", map[string]any{"status": "Lost"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ValidationError", decode[response.ErrorBody](t, w).Code)
}

func (s *server) ingest(t *testing.T, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, _ := json.Marshal(body)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := middleware.GenerateSignature(secret, "POST", "/api/reasoning/suggestions", raw, ts)
	return s.do("POST", "/api/reasoning/suggestions?timestamp="+ts, raw, middleware.HeaderSignature, sig)
}

func TestSuggestionReview(t *testing.T) {
	s := newServer(t)
	w := s.do("POST", "/api/ndma/stock/restock", map[string]any{"scope": "National", "resourceType": "water", "quantity": 100})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.ingest(t, map[string]any{"provinceId": "sindh", "resourceType": "water", "suggestedQuantity": 120, "confidenceScore": 0.9})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	big := decode[models.AllocationSuggestion](t, w)
	assert.Contains(t, big.Flags, models.FlagInsufficientStock)
	small := decode[models.AllocationSuggestion](t, s.ingest(t, map[string]any{"provinceId": "sindh", "resourceType": "water", "suggestedQuantity": 80, "confidenceScore": 0.8}))
	other := decode[models.AllocationSuggestion](t, s.ingest(t, map[string]any{"provinceId": "kp", "resourceType": "water", "suggestedQuantity": 5, "confidenceScore": 0.5}))

	// unsigned ingestion is refused
	now := strconv.FormatInt(time.Now().Unix(), 10)
	w = s.do("POST", "/api/reasoning/suggestions?timestamp="+now, map[string]any{"provinceId": "kp"}, middleware.HeaderSignature, "bad")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.do("POST", "/api/reasoning/suggestions?timestamp=1", map[string]any{"provinceId": "kp"}, middleware.HeaderSignature, "bad")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do("POST", "/api/reasoning/suggestions/"+big.ID+"/approve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "InsufficientStock", decode[response.ErrorBody](t, w).Code)

	w = s.do("POST", "/api/reasoning/suggestions/"+small.ID+"/approve", nil, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	approved := decode[struct {
		AllocationID *string `json:"allocationId"`
	}](t, w)
	require.NotNil(t, approved.AllocationID)

	w = s.do("POST", "/api/reasoning/suggestions/"+small.ID+"/approve", nil, "Idempotency-Key", "k-1")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Conflict", decode[response.ErrorBody](t, w).Code)
	w = s.do("POST", "/api/reasoning/suggestions/"+small.ID+"/approve", nil)
	assert.Equal(t, "AlreadyReviewed", decode[response.ErrorBody](t, w).Code)

	w = s.do("GET", "/api/ndma/stock?scope=National", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rows := decode[[]models.ResourceStock](t, w)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 20, rows[0].Quantity)

	w = s.do("POST", "/api/reasoning/suggestions/"+other.ID+"/reject", map[string]any{"reason": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidReason", decode[response.ErrorBody](t, w).Code)
	w = s.do("POST", "/api/reasoning/suggestions/"+other.ID+"/reject", map[string]any{"reason": "covered by provincial stock"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do("GET", "/api/reasoning/suggestions?status=Pending&provinceId=sindh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	pending := decode[[]models.AllocationSuggestion](t, w)
	require.Len(t, pending, 1)
	assert.Equal(t, big.ID, pending[0].ID)

	w = s.do("GET", "/api/reasoning/suggestions/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, allocation.Stats{Total: 3, Pending: 1, Approved: 1, Rejected: 1, ApprovalRate: 50}, decode[allocation.Stats](t, w))
}

func TestRateLimiterConfig(t *testing.T) {
	s := newServer(t)
	w := s.do("POST", "/api/system/rate-limiter/config", map[string]any{
		"sos":  map[string]any{"window": "2h", "max": 1},
		"http": map[string]any{"rate": "500-M"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"window":"2h0m0s"`)

	require.Equal(t, http.StatusCreated, s.do("POST", "/api/civilian/sos", sosBody("35202-1111111-1")).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do("POST", "/api/civilian/sos", sosBody("35202-1111111-1")).Code)

	w = s.do("POST", "/api/system/rate-limiter/config", map[string]any{"http": map[string]any{"rate": "lots"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do("POST", "/api/system/rate-limiter/config", map[string]any{"sos": map[string]any{"window": "-1h", "max": 2}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do("GET", "/api/system/rate-limiter/config", nil)
	assert.Contains(t, w.Body.String(), `"rate":"500-M"`)
}

func TestHealthCheck(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()
	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}),
		&gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)

	h := NewHandlers(Deps{DB: db})
	engine := gin.New()
	engine.GET("/health", h.HealthCheck)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	mock.ExpectPing()
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.NewMetrics()
	h := NewHandlers(Deps{DB: testutil.NewDB(t), Metrics: m})
	engine := gin.New()
	engine.Use(metrics.MonitorMiddleware(m))
	h.Register(engine)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/api/system/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "resqflow_http_requests_total")
}
