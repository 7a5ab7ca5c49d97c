package monitor

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/norasector/vnacore/pkg/instrument"
	"github.com/norasector/vnacore/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeInstrument struct {
	stats  instrument.Stats
	status types.Status
	latest *types.TaggedMeasurement
}

func (f *fakeInstrument) Serial() string                     { return "SIM-1" }
func (f *fakeInstrument) IsCompoundDevice() bool             { return false }
func (f *fakeInstrument) Info() types.Info                   { return types.Info{Ports: 2, SupportsVNA: true} }
func (f *fakeInstrument) Status() types.Status               { return f.status }
func (f *fakeInstrument) Mode() instrument.Mode              { return instrument.ModeVNA }
func (f *fakeInstrument) Stats() instrument.Stats            { return f.stats }
func (f *fakeInstrument) Latest() *types.TaggedMeasurement   { return f.latest }
func (f *fakeInstrument) AvailableVNAMeasurements() []string { return []string{"S11", "S21"} }
func (f *fakeInstrument) AvailableSAMeasurements() []string  { return nil }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatus(t *testing.T) {
	inst := &fakeInstrument{
		stats:  instrument.Stats{Generation: 3, Fused: 10},
		status: types.Status{StatusString: "Ready"},
	}
	h := NewServer(0, inst).Handler()

	rec := get(t, h, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /status = %d", rec.Code)
	}
	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Serial != "SIM-1" || resp.Mode != "vna" || resp.Status.StatusString != "Ready" || resp.Stats.Fused != 10 {
		t.Errorf("status = %+v", resp)
	}

	if rec := get(t, h, "/"); rec.Code != http.StatusFound || rec.Header().Get("Location") != "/status" {
		t.Errorf("GET / = %d, %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestInfo(t *testing.T) {
	h := NewServer(0, &fakeInstrument{}).Handler()
	var resp infoResponse
	if err := json.NewDecoder(get(t, h, "/info").Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Info.Ports != 2 || len(resp.VNAMeasurements) != 2 || resp.Compound {
		t.Errorf("info = %+v", resp)
	}
}

func TestLatestMeasurement(t *testing.T) {
	inst := &fakeInstrument{}
	h := NewServer(0, inst).Handler()

	if rec := get(t, h, "/measurements/latest"); rec.Code != http.StatusNoContent {
		t.Errorf("GET /measurements/latest without data = %d", rec.Code)
	}

	inst.latest = &types.TaggedMeasurement{
		Serial: "SIM-1",
		VNA: &types.VNAMeasurement{
			PointNum:     4,
			Frequency:    1e9,
			Z0:           50,
			Measurements: map[string]complex128{"S21": complex(0.5, -0.25)},
		},
	}
	rec := get(t, h, "/measurements/latest")
	var resp struct {
		Kind         string                `json:"kind"`
		Point        uint32                `json:"point"`
		Measurements map[string][2]float64 `json:"measurements"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Kind != "vna" || resp.Point != 4 || resp.Measurements["S21"] != [2]float64{0.5, -0.25} {
		t.Errorf("measurement = %+v", resp)
	}

	inst.latest = &types.TaggedMeasurement{
		Serial: "SIM-1",
		SA:     &types.SAMeasurement{PointNum: 1, Frequency: 2e9, Measurements: map[string]float64{"PORT1": -42}},
	}
	body, _ := io.ReadAll(get(t, h, "/measurements/latest").Body)
	if !strings.Contains(string(body), `"kind":"sa"`) || !strings.Contains(string(body), `"PORT1":-42`) {
		t.Errorf("measurement = %s", body)
	}
}

func TestMetrics(t *testing.T) {
	inst := &fakeInstrument{
		stats:  instrument.Stats{Fused: 7, Abandoned: 2, Generation: 5},
		status: types.Status{Unlevel: true},
	}
	collectors := newCollectors(inst)
	tests := []struct {
		index int
		want  float64
	}{
		{0, 7},
		{1, 2},
		{7, 5},
		{8, 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(collectors[tt.index]); got != tt.want {
			t.Errorf("collector %d = %v, want %v", tt.index, got, tt.want)
		}
	}

	s := NewServer(0, inst)
	families, err := s.Registry().Gather()
	if err != nil || len(families) != 9 {
		t.Errorf("Gather() = %d families, %v, want 9", len(families), err)
	}
	body, _ := io.ReadAll(get(t, s.Handler(), "/metrics").Body)
	if !strings.Contains(string(body), `vnacore_points_fused_total{instrument="SIM-1"} 7`) {
		t.Errorf("metrics missing fused counter:\n%s", body)
	}
}
