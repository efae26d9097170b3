package dashboard

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nodiggity/zonewatch/internal/metrics"
	"github.com/nodiggity/zonewatch/internal/state"
	"github.com/nodiggity/zonewatch/pkg/model"
)

type serverFixture struct {
	store     *state.Store
	snapshots *state.SnapshotIndex
	ts        *httptest.Server
	alertLog  string
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	store := state.NewStore(50)
	snapshots, err := state.NewSnapshotIndex(t.TempDir(), 100)
	if err != nil {
		t.Fatalf("snapshot index: %v", err)
	}
	b := NewBroadcaster(store, metrics.New(), 20*time.Millisecond)
	t.Cleanup(b.Stop)

	alertLog := filepath.Join(t.TempDir(), "alerts.log")
	srv := NewServer(store, snapshots, b, alertLog)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &serverFixture{store: store, snapshots: snapshots, ts: ts, alertLog: alertLog}
}

func (f *serverFixture) getJSON(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(f.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp
}

func TestStatsEndpoint(t *testing.T) {
	f := newServerFixture(t)
	f.store.RecordFrameCaptured()
	f.store.RecordDetection(2, true, 15*time.Millisecond)

	var stats model.Stats
	resp := f.getJSON(t, "/api/stats", &stats)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if stats.FramesCaptured != 1 || stats.DetectionsReceived != 1 || stats.ElevatedCount != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestAlertsEndpointLimit(t *testing.T) {
	f := newServerFixture(t)
	for i := 0; i < 10; i++ {
		f.store.RecordAlert(model.Alert{
			ID:        fmt.Sprintf("a-%02d", i),
			Timestamp: time.Unix(int64(1000+i), 0),
		})
	}

	var body struct {
		Alerts []model.Alert `json:"alerts"`
	}
	f.getJSON(t, "/api/alerts?limit=3", &body)
	if len(body.Alerts) != 3 {
		t.Fatalf("limit=3 returned %d alerts", len(body.Alerts))
	}
	if body.Alerts[0].ID != "a-07" || body.Alerts[2].ID != "a-09" {
		t.Fatalf("alerts not newest-3 ascending: %s..%s", body.Alerts[0].ID, body.Alerts[2].ID)
	}

	resp, err := http.Get(f.ts.URL + "/api/alerts?limit=0")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("limit=0 status = %d, want 400", resp.StatusCode)
	}
}

func TestSnapshotEndpoints(t *testing.T) {
	f := newServerFixture(t)

	name := "20260831_120000_000_Couch.jpg"
	path := filepath.Join(f.snapshots.Dir(), name)
	if err := os.WriteFile(path, []byte{0xff, 0xd8, 0xff, 0xd9}, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	f.snapshots.Register(model.Snapshot{Filename: name, Timestamp: time.Now(), Zones: []string{"Couch"}, Size: 4})

	var body struct {
		Snapshots []model.Snapshot `json:"snapshots"`
	}
	f.getJSON(t, "/api/snapshots", &body)
	if len(body.Snapshots) != 1 || body.Snapshots[0].Filename != name {
		t.Fatalf("snapshots = %+v", body.Snapshots)
	}

	resp, err := http.Get(f.ts.URL + "/snapshots/" + name)
	if err != nil {
		t.Fatalf("GET image: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("image status = %d", resp.StatusCode)
	}

	resp, err = http.Get(f.ts.URL + "/snapshots/absent.jpg")
	if err != nil {
		t.Fatalf("GET absent: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown snapshot status = %d, want 404", resp.StatusCode)
	}
}

func TestAlertLogEndpoint(t *testing.T) {
	f := newServerFixture(t)

	var lines []string
	for i := 0; i < 120; i++ {
		lines = append(lines, fmt.Sprintf("line %03d", i))
	}
	if err := os.WriteFile(f.alertLog, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	var body struct {
		Log []string `json:"log"`
	}
	f.getJSON(t, "/api/alert_log", &body)
	if len(body.Log) != 100 {
		t.Fatalf("log tail = %d lines, want 100", len(body.Log))
	}
	if body.Log[0] != "line 020" || body.Log[99] != "line 119" {
		t.Fatalf("wrong tail: %s..%s", body.Log[0], body.Log[99])
	}
}

func TestStateEndpoint(t *testing.T) {
	f := newServerFixture(t)
	f.store.RecordAlert(model.Alert{ID: "s1", Timestamp: time.Now()})
	f.store.SetStatus(state.StatusConnected)

	var ui state.UIState
	f.getJSON(t, "/api/state", &ui)
	if ui.ServerStatus != state.StatusConnected {
		t.Fatalf("server_status = %q", ui.ServerStatus)
	}
	if len(ui.RecentAlerts) != 1 || ui.RecentAlerts[0].ID != "s1" {
		t.Fatalf("recent_alerts = %+v", ui.RecentAlerts)
	}
}

func TestSSEDeliversInitialState(t *testing.T) {
	f := newServerFixture(t)
	f.store.RecordAlert(model.Alert{ID: "sse1", Timestamp: time.Now()})

	resp, err := http.Get(f.ts.URL + "/api/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	eventLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read event line: %v", err)
	}
	if strings.TrimSpace(eventLine) != "event: initial_state" {
		t.Fatalf("first line = %q", eventLine)
	}
	dataLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read data line: %v", err)
	}
	var ui state.UIState
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(dataLine), "data: ")), &ui); err != nil {
		t.Fatalf("decode initial state: %v", err)
	}
	if len(ui.RecentAlerts) != 1 || ui.RecentAlerts[0].ID != "sse1" {
		t.Fatalf("initial state alerts = %+v", ui.RecentAlerts)
	}
}

func TestWebSocketDeliversEvents(t *testing.T) {
	f := newServerFixture(t)

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var initial Event
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if initial.Event != EventInitialState {
		t.Fatalf("first ws event = %q", initial.Event)
	}

	f.store.RecordAlert(model.Alert{ID: "ws1", Timestamp: time.Now()})
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if ev.Event == EventNewAlert {
			data, _ := json.Marshal(ev.Data)
			var alert model.Alert
			if err := json.Unmarshal(data, &alert); err != nil || alert.ID != "ws1" {
				t.Fatalf("new_alert payload = %v (err %v)", ev.Data, err)
			}
			return
		}
	}
}

func TestHealthz(t *testing.T) {
	f := newServerFixture(t)
	var body map[string]string
	resp := f.getJSON(t, "/healthz", &body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", resp.StatusCode, body)
	}
}
