package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/seir-lattice/internal/archive"
	"github.com/talgya/seir-lattice/internal/engine"
	"github.com/talgya/seir-lattice/internal/entropy"
	"github.com/talgya/seir-lattice/internal/persistence"
	"github.com/talgya/seir-lattice/internal/stats"
)

func newTestServer(t *testing.T, days int, opts ...func(*Server)) (*Server, *httptest.Server) {
	t.Helper()
	sim, err := engine.NewSimulation(engine.SmallTestConfig(), entropy.NewRand(3))
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	sim.RunID = "live"
	if _, err := sim.Run(days); err != nil {
		t.Fatalf("Run: %v", err)
	}
	s := &Server{Sim: sim, Eng: engine.NewEngine(sim), AdminKey: "secret"}
	for _, opt := range opts {
		opt(s)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestStatusAndStats(t *testing.T) {
	s, ts := newTestServer(t, 4)

	var status struct {
		RunID      string    `json:"run_id"`
		Day        int       `json:"day"`
		Population int       `json:"population"`
		Latest     stats.Row `json:"latest"`
		Current    stats.Row `json:"current"`
		Running    bool      `json:"running"`
	}
	if code := getJSON(t, ts.URL+"/api/v1/status", &status); code != http.StatusOK {
		t.Fatalf("status: %d", code)
	}
	if status.RunID != "live" || status.Day != 4 || status.Population != 120 || status.Running {
		t.Fatalf("status: %+v", status)
	}
	if status.Latest.Day != 3 || status.Latest.Total() != 120 {
		t.Fatalf("latest row: %+v", status.Latest)
	}
	if status.Current != status.Latest {
		t.Fatalf("current %+v differs from latest %+v", status.Current, status.Latest)
	}

	var table stats.Table
	if code := getJSON(t, ts.URL+"/api/v1/stats", &table); code != http.StatusOK {
		t.Fatalf("stats: %d", code)
	}
	want := s.Sim.Rows()
	if len(table) != len(want) {
		t.Fatalf("stats rows: got %d want %d", len(table), len(want))
	}
	for i := range want {
		if table[i] != want[i] {
			t.Fatalf("row %d: got %+v want %+v", i, table[i], want[i])
		}
	}

	if code := getJSON(t, ts.URL+"/api/v1/stats?run=other", nil); code != http.StatusNotFound {
		t.Fatalf("stats for another run without db: got %d", code)
	}
}

func TestStatusBeforeFirstDay(t *testing.T) {
	_, ts := newTestServer(t, 0)

	var status map[string]json.RawMessage
	if code := getJSON(t, ts.URL+"/api/v1/status", &status); code != http.StatusOK {
		t.Fatalf("status: %d", code)
	}
	for _, key := range []string{"current", "latest", "peak"} {
		if _, ok := status[key]; ok {
			t.Fatalf("%q reported before any day ran: %s", key, status[key])
		}
	}
	var initial map[string]int
	if err := json.Unmarshal(status["initial"], &initial); err != nil {
		t.Fatalf("decode initial: %v", err)
	}
	if _, ok := initial["day"]; ok {
		t.Fatalf("placement counts carry a day: %v", initial)
	}
	if initial["susceptible"]+initial["exposed"]+initial["infectious"]+initial["removed"] != 120 || initial["infectious"] != 2 {
		t.Fatalf("initial counts: %v", initial)
	}
}

func TestLattice(t *testing.T) {
	s, ts := newTestServer(t, 3)

	var resp latticeResponse
	if code := getJSON(t, ts.URL+"/api/v1/lattice/1", &resp); code != http.StatusOK {
		t.Fatalf("lattice/1: %d", code)
	}
	snap, _ := s.Sim.Snapshot(1)
	cells, err := archive.DecodeRLE(resp.Cells, resp.Width*resp.Height)
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	if resp.Day != 1 || resp.Width != 20 || resp.Height != 20 || len(cells) != len(snap.Cells) {
		t.Fatalf("lattice header: day %d %dx%d cells %d", resp.Day, resp.Width, resp.Height, len(cells))
	}
	for i := range cells {
		if cells[i] != snap.Cells[i] {
			t.Fatalf("cell %d: got %d want %d", i, cells[i], snap.Cells[i])
		}
	}
	if resp.Counts != stats.FromSnapshot(1, snap) {
		t.Fatalf("counts: %+v", resp.Counts)
	}

	if code := getJSON(t, ts.URL+"/api/v1/lattice", &resp); code != http.StatusOK || resp.Day != 2 {
		t.Fatalf("live lattice: code %d day %d", code, resp.Day)
	}
	if code := getJSON(t, ts.URL+"/api/v1/lattice/3", nil); code != http.StatusNotFound {
		t.Fatalf("future day: got %d", code)
	}
	if code := getJSON(t, ts.URL+"/api/v1/lattice/abc", nil); code != http.StatusBadRequest {
		t.Fatalf("bad day: got %d", code)
	}
}

func TestRuns(t *testing.T) {
	_, bare := newTestServer(t, 2)
	if code := getJSON(t, bare.URL+"/api/v1/runs", nil); code != http.StatusNotFound {
		t.Fatalf("runs without db: got %d", code)
	}

	db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if err := db.SaveRun(persistence.Run{ID: "old", Seed: 5, ConfigJSON: "{}"}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := db.SaveTable("old", stats.Table{{Day: 0, Susceptible: 3, Infectious: 1}}); err != nil {
		t.Fatalf("SaveTable: %v", err)
	}
	_, ts := newTestServer(t, 2, func(s *Server) { s.DB = db })

	var runs []persistence.Run
	if code := getJSON(t, ts.URL+"/api/v1/runs", &runs); code != http.StatusOK {
		t.Fatalf("runs: %d", code)
	}
	if len(runs) != 1 || runs[0].ID != "old" || runs[0].Seed != 5 {
		t.Fatalf("runs: %+v", runs)
	}
	if code := getJSON(t, ts.URL+"/api/v1/runs?limit=0", nil); code != http.StatusBadRequest {
		t.Fatalf("limit=0: got %d", code)
	}

	var table stats.Table
	if code := getJSON(t, ts.URL+"/api/v1/stats?run=old", &table); code != http.StatusOK {
		t.Fatalf("stats?run=old: %d", code)
	}
	if len(table) != 1 || table[0].Susceptible != 3 {
		t.Fatalf("persisted table: %+v", table)
	}
}

func TestSpeedRequiresAdmin(t *testing.T) {
	s, ts := newTestServer(t, 0)

	post := func(token, body string) int {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/speed", strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST speed: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := post("", `{"speed":2}`); code != http.StatusUnauthorized {
		t.Fatalf("no token: got %d", code)
	}
	if code := post("wrong", `{"speed":2}`); code != http.StatusUnauthorized {
		t.Fatalf("wrong token: got %d", code)
	}
	if code := post("secret", `{"speed":5000}`); code != http.StatusBadRequest {
		t.Fatalf("out of range: got %d", code)
	}
	if code := post("secret", `{"speed":2.5}`); code != http.StatusOK {
		t.Fatalf("valid: got %d", code)
	}
	if got := s.Eng.Speed(); got != 2.5 {
		t.Fatalf("engine speed: got %v", got)
	}

	var body map[string]float64
	if code := getJSON(t, ts.URL+"/api/v1/speed", &body); code != http.StatusOK || body["speed"] != 2.5 {
		t.Fatalf("GET speed: %d %v", code, body)
	}
}

func TestSpeedDisabledWithoutAdminKey(t *testing.T) {
	_, ts := newTestServer(t, 0, func(s *Server) { s.AdminKey = "" })
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/speed", strings.NewReader(`{"speed":1}`))
	req.Header.Set("Authorization", "Bearer ")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST speed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("admin disabled: got %d", resp.StatusCode)
	}
}

func TestStreamDeliversDayReports(t *testing.T) {
	s, ts := newTestServer(t, 0)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 2; i++ {
		if _, err := s.Sim.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}

	for day := 0; day < 2; day++ {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		var rep engine.DayReport
		if err := json.Unmarshal(msg, &rep); err != nil {
			t.Fatalf("decode report: %v", err)
		}
		if rep.Row.Day != day || rep.RunID != "live" || rep.Row.Total() != 120 {
			t.Fatalf("report %d: %+v", day, rep)
		}
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatalf("first two requests denied")
	}
	if rl.Allow("a") {
		t.Fatalf("third request allowed")
	}
	if !rl.Allow("b") {
		t.Fatalf("other ip denied")
	}
	if got := rl.RetryAfter("a"); got != 61 {
		t.Fatalf("RetryAfter: got %d want 61", got)
	}

	now = now.Add(time.Minute)
	if !rl.Allow("a") {
		t.Fatalf("request after window denied")
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:5555"
	if got := clientIP(r); got != "10.0.0.7" {
		t.Fatalf("remote addr: got %q", got)
	}
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientIP(r); got != "203.0.113.9" {
		t.Fatalf("forwarded: got %q", got)
	}
}
