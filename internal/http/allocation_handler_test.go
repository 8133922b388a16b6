package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DEVa-26/Disaster/internal/engine"
	"github.com/DEVa-26/Disaster/internal/intake"
	"github.com/DEVa-26/Disaster/internal/inventory"
	"github.com/DEVa-26/Disaster/internal/ledger"
	"github.com/DEVa-26/Disaster/internal/models"
	"github.com/DEVa-26/Disaster/internal/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockSignalProcessor 是 SignalProcessor 的 mock 实现
type MockSignalProcessor struct {
	mock.Mock
}

func (m *MockSignalProcessor) Process(ctx context.Context, sig intake.Signal) (*intake.Outcome, error) {
	args := m.Called(sig)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*intake.Outcome), args.Error(1)
}

type envelope struct {
	Code    int             `json:"code"`
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func newTestRouter(t *testing.T, signals SignalProcessor) *Router {
	store := inventory.NewStore(zap.NewNop())
	require.NoError(t, store.Apply(context.Background(), inventory.Seed{
		"R1": {models.ResourceRescueTeam: 2, models.ResourceShelterBed: 10},
	}))
	table := policy.NewTable()
	table.Set(models.DisasterFlood, models.SeverityHigh, models.Quantities{models.ResourceRescueTeam: 3})
	table.Set(models.DisasterFire, models.SeverityLow, models.Quantities{models.ResourceShelterBed: 4})
	eng := engine.New(store, table, ledger.New(), engine.Options{DefaultRegion: "R1"}, zap.NewNop())

	r := NewRouter(zap.NewNop())
	r.RegisterHealthRoutes()
	r.RegisterAllocationRoutes(NewAllocationHandler(eng, signals, zap.NewNop()))
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestAllocateAndRelease(t *testing.T) {
	r := newTestRouter(t, nil)

	rec, env := do(t, r, http.MethodPost, "/api/v1/allocations",
		`{"incident_id":"i1","disaster_type":"Fire","severity":"Low","location":"R1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ResultSuccess, env.Code)
	assert.Equal(t, "success", env.Type)

	var record models.AllocationRecord
	require.NoError(t, json.Unmarshal(env.Result, &record))
	assert.Equal(t, models.StatusFulfilled, record.Status)
	assert.Equal(t, models.Quantities{models.ResourceShelterBed: 4}, record.Granted)

	rec, env = do(t, r, http.MethodPost, "/api/v1/allocations/i1/release", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Result, &record))
	assert.Equal(t, models.KindRelease, record.Kind)
	assert.Equal(t, models.StatusReleased, record.Status)

	rec, env = do(t, r, http.MethodPost, "/api/v1/allocations/i1/release", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, ResultError, env.Code)
}

func TestAllocate_PartialIsWarning(t *testing.T) {
	r := newTestRouter(t, nil)

	rec, env := do(t, r, http.MethodPost, "/api/v1/allocations",
		`{"incident_id":"i2","disaster_type":"Flood","severity":"High"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "warning", env.Type)
	assert.Equal(t, string(models.StatusPartial), env.Message)
}

func TestAllocate_BadRequests(t *testing.T) {
	r := newTestRouter(t, nil)

	rec, _ := do(t, r, http.MethodPost, "/api/v1/allocations", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, r, http.MethodPost, "/api/v1/allocations", `{"incident_id":"x","disaster_type":"Flood","severity":"Apocalyptic"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, r, http.MethodPost, "/api/v1/allocations", `{"disaster_type":"Flood","severity":"High"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, r, http.MethodDelete, "/api/v1/allocations", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRelease_Unknown(t *testing.T) {
	r := newTestRouter(t, nil)

	rec, _ := do(t, r, http.MethodPost, "/api/v1/allocations/nope/release", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, r, http.MethodGet, "/api/v1/allocations/nope/release", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec, _ = do(t, r, http.MethodPost, "/api/v1/allocations/nope/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueryAllocations_Filters(t *testing.T) {
	r := newTestRouter(t, nil)
	do(t, r, http.MethodPost, "/api/v1/allocations", `{"incident_id":"a","disaster_type":"Fire","severity":"Low"}`)
	do(t, r, http.MethodPost, "/api/v1/allocations", `{"incident_id":"b","disaster_type":"Flood","severity":"High"}`)

	_, env := do(t, r, http.MethodGet, "/api/v1/allocations", "")
	var records []models.AllocationRecord
	require.NoError(t, json.Unmarshal(env.Result, &records))
	assert.Len(t, records, 2)

	_, env = do(t, r, http.MethodGet, "/api/v1/allocations?disaster_type=flood", "")
	require.NoError(t, json.Unmarshal(env.Result, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "b", records[0].IncidentID)

	_, env = do(t, r, http.MethodGet, "/api/v1/allocations?status=fulfilled&region=R1", "")
	require.NoError(t, json.Unmarshal(env.Result, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].IncidentID)

	_, env = do(t, r, http.MethodGet, "/api/v1/allocations?since=2999-01-01T00:00:00Z", "")
	require.NoError(t, json.Unmarshal(env.Result, &records))
	assert.Empty(t, records)

	rec, _ := do(t, r, http.MethodGet, "/api/v1/allocations?disaster_type=meteor", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, r, http.MethodGet, "/api/v1/allocations?until=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportAllocations(t *testing.T) {
	r := newTestRouter(t, nil)
	do(t, r, http.MethodPost, "/api/v1/allocations", `{"incident_id":"a","disaster_type":"Fire","severity":"Low"}`)

	rec, _ := do(t, r, http.MethodGet, "/api/v1/allocations/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.NotZero(t, rec.Body.Len())

	rec, _ = do(t, r, http.MethodPost, "/api/v1/allocations/export", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestInventoryAndProvision(t *testing.T) {
	r := newTestRouter(t, nil)

	rec, env := do(t, r, http.MethodPost, "/api/v1/inventory/provision",
		`{"region":"R1","resource_type":"rescue_team","delta":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var entry models.InventoryEntry
	require.NoError(t, json.Unmarshal(env.Result, &entry))
	assert.Equal(t, 5, entry.Total)
	assert.Equal(t, 5, entry.Available)

	_, env = do(t, r, http.MethodGet, "/api/v1/inventory", "")
	var entries []models.InventoryEntry
	require.NoError(t, json.Unmarshal(env.Result, &entries))
	assert.Len(t, entries, 2)

	rec, _ = do(t, r, http.MethodPost, "/api/v1/inventory/provision",
		`{"region":"R1","resource_type":"rescue_team","delta":-50}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = do(t, r, http.MethodPost, "/api/v1/inventory/provision", `{"delta":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitSignal(t *testing.T) {
	rec, _ := do(t, newTestRouter(t, nil), http.MethodPost, "/api/v1/signals", `{"text":"flood"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	signals := new(MockSignalProcessor)
	signals.On("Process", intake.Signal{IncidentID: "s1", Text: "flood"}).
		Return(&intake.Outcome{IncidentID: "s1", Dropped: true}, nil).Once()

	rec, env := do(t, newTestRouter(t, signals), http.MethodPost, "/api/v1/signals", `{"incident_id":"s1","text":"flood"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ResultSuccess, env.Code)
	signals.AssertExpectations(t)
}

func TestHealthz(t *testing.T) {
	rec, env := do(t, newTestRouter(t, nil), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ResultSuccess, env.Code)
}
