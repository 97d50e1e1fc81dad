package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"perptrader/internal/model"
)

type fakeSource struct {
	pos *model.Position
	pnl float64
}

func (f *fakeSource) Position() *model.Position { return f.pos.Clone() }
func (f *fakeSource) DailyPnL() float64         { return f.pnl }

func get(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouter_Health(t *testing.T) {
	mux := NewRouter(&fakeSource{}, nil)
	rec := get(t, mux, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
}

func TestRouter_Position(t *testing.T) {
	src := &fakeSource{}
	mux := NewRouter(src, nil)

	var flat map[string]any
	if err := json.NewDecoder(get(t, mux, "/api/v1/position").Body).Decode(&flat); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if flat["flat"] != true {
		t.Errorf("expected flat marker, got %v", flat)
	}

	src.pos = &model.Position{Symbol: "ETHUSDT", Side: model.SideLong, EntryPrice: 105, Size: 525, Layers: 1}
	var pos model.Position
	if err := json.NewDecoder(get(t, mux, "/api/v1/position").Body).Decode(&pos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pos.Side != model.SideLong || pos.EntryPrice != 105 {
		t.Errorf("position payload: got %+v", pos)
	}
}

func TestRouter_PnL(t *testing.T) {
	mux := NewRouter(&fakeSource{pnl: -12.5}, nil)
	var body map[string]float64
	if err := json.NewDecoder(get(t, mux, "/api/v1/pnl").Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["daily_realized"] != -12.5 {
		t.Errorf("daily_realized: got %v", body["daily_realized"])
	}
}

func TestRouter_ActionsValidation(t *testing.T) {
	mux := NewRouter(&fakeSource{}, nil)

	if rec := get(t, mux, "/api/v1/actions?limit=0"); rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0: got %d, want 400", rec.Code)
	}
	if rec := get(t, mux, "/api/v1/actions?limit=9999"); rec.Code != http.StatusBadRequest {
		t.Errorf("limit=9999: got %d, want 400", rec.Code)
	}

	// Journaling disabled: the endpoint degrades to an empty list.
	rec := get(t, mux, "/api/v1/actions")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var records []any
	if err := json.NewDecoder(rec.Body).Decode(&records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty list, got %v", records)
	}
}
