package listeners

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ResQFlow/internal/allocation"
	"ResQFlow/internal/missing"
	"ResQFlow/internal/models"
	"ResQFlow/internal/ratelimit"
	"ResQFlow/internal/sos"
	"ResQFlow/internal/stock"
	"ResQFlow/internal/testutil"
	"ResQFlow/pkg/events"
	"ResQFlow/pkg/metrics"
	"ResQFlow/pkg/search"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSearchListeners(t *testing.T) {
	clock := testutil.NewClock(time.Date(2025, 8, 20, 8, 0, 0, 0, time.UTC))
	bus := events.NewBus()
	engine, err := search.NewSOSEngine(search.Config{})
	require.NoError(t, err)
	defer engine.Close()
	InitSearchListeners(bus, engine, zap.NewNop())

	limiter := ratelimit.New(ratelimit.NewMemoryStore(), time.Hour, 3, clock.Now)
	svc := sos.NewService(testutil.NewDB(t), limiter, zap.NewNop(), bus, clock.Now)
	ctx := context.Background()

	req, _, err := svc.Submit(ctx, sos.SubmitInput{
		Name:          "Imran",
		Phone:         "03001234567",
		CNIC:          "42101-1234567-3",
		Location:      "Nowshera bypass",
		PeopleCount:   3,
		EmergencyType: "flood",
		Description:   "car swept off the road",
	})
	require.NoError(t, err)

	res, err := engine.Search(ctx, search.SOSQuery("nowshera", "Pending", 10))
	require.NoError(t, err)
	assert.Equal(t, []string{req.ID}, res.IDs())

	_, err = svc.Cancel(ctx, req.ID, "civilian", "found shelter")
	require.NoError(t, err)

	res, err = engine.Search(ctx, search.SOSQuery("nowshera", "Pending", 10))
	require.NoError(t, err)
	assert.Empty(t, res.IDs())
	res, err = engine.Search(ctx, search.SOSQuery("nowshera", "Cancelled", 10))
	require.NoError(t, err)
	assert.Equal(t, []string{req.ID}, res.IDs())
}

func TestStockListenerRefreshesFlags(t *testing.T) {
	clock := testutil.NewClock(time.Date(2025, 8, 20, 8, 0, 0, 0, time.UTC))
	bus := events.NewBus()
	db := testutil.NewDB(t)
	ledger := stock.NewLedger(db, zap.NewNop(), bus, clock.Now)
	suggestions := allocation.NewService(db, ledger, nil, zap.NewNop(), bus, clock.Now)
	InitStockListeners(bus, suggestions, zap.NewNop())
	ctx := context.Background()

	sg, err := suggestions.Ingest(ctx, allocation.IngestInput{
		ProvinceID:        "kp",
		ResourceType:      "tents",
		SuggestedQuantity: 40,
		ConfidenceScore:   0.7,
	})
	require.NoError(t, err)
	require.True(t, sg.HasFlag(models.FlagInsufficientStock))

	// province stock does not count
	_, err = ledger.Restock(ctx, "kp", "tents", 100)
	require.NoError(t, err)
	got, err := suggestions.Get(ctx, sg.ID)
	require.NoError(t, err)
	assert.True(t, got.HasFlag(models.FlagInsufficientStock))

	_, err = ledger.Restock(ctx, models.ScopeNational, "tents", 40)
	require.NoError(t, err)
	got, err = suggestions.Get(ctx, sg.ID)
	require.NoError(t, err)
	assert.False(t, got.HasFlag(models.FlagInsufficientStock))

	// a reservation elsewhere drains national stock again
	_, err = ledger.Reserve(ctx, models.ScopeNational, "tents", 10, "")
	require.NoError(t, err)
	got, err = suggestions.Get(ctx, sg.ID)
	require.NoError(t, err)
	assert.True(t, got.HasFlag(models.FlagInsufficientStock))
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetricsListeners(t *testing.T) {
	clock := testutil.NewClock(time.Date(2025, 8, 20, 8, 0, 0, 0, time.UTC))
	bus := events.NewBus()
	db := testutil.NewDB(t)
	m := metrics.NewMetrics()
	InitMetricsListeners(bus, m)

	ledger := stock.NewLedger(db, zap.NewNop(), bus, clock.Now)
	suggestions := allocation.NewService(db, ledger, nil, zap.NewNop(), bus, clock.Now)
	cases := missing.NewService(db, zap.NewNop(), bus, clock.Now)
	ctx := context.Background()

	_, err := suggestions.Ingest(ctx, allocation.IngestInput{
		ProvinceID: "sindh", ResourceType: "water", SuggestedQuantity: 500, ConfidenceScore: 0.6,
	})
	require.NoError(t, err)
	_, err = ledger.Restock(ctx, models.ScopeNational, "water", 100)
	require.NoError(t, err)
	sg, err := suggestions.Ingest(ctx, allocation.IngestInput{
		ProvinceID: "sindh", ResourceType: "water", SuggestedQuantity: 80, ConfidenceScore: 0.9,
	})
	require.NoError(t, err)
	_, err = suggestions.Review(ctx, sg.ID, allocation.Approve, "", "ndma-officer")
	require.NoError(t, err)

	_, err = cases.Create(ctx, missing.CreateInput{
		Name: "Bilal", Age: 30, LastSeenAt: clock.Now().Add(-25 * 24 * time.Hour),
		LastSeenLocation: "Swat river bank", DistrictID: "swat",
	})
	require.NoError(t, err)
	n, err := cases.EscalationScan(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	body := scrape(t, m)
	assert.Contains(t, body, `resqflow_suggestions_ingested_total{flagged="true",resource_type="water"} 1`)
	assert.Contains(t, body, `resqflow_suggestions_ingested_total{flagged="false",resource_type="water"} 1`)
	assert.Contains(t, body, `resqflow_allocated_quantity_total{province="sindh",resource_type="water"} 80`)
	assert.Contains(t, body, `resqflow_missing_critical_alerts_total{district="swat"} 1`)
}
