package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"statuswatch/internal/publisher"
	"statuswatch/internal/scheduler"
	"statuswatch/internal/storage"
)

type fakeStatus struct{ snap scheduler.Snapshot }

func (f *fakeStatus) Snapshot() scheduler.Snapshot { return f.snap }

type fakePublisher struct {
	stats  publisher.Stats
	ledger *publisher.Ledger
}

func (f *fakePublisher) Stats() publisher.Stats { return f.stats }
func (f *fakePublisher) Ledger() *publisher.Ledger { return f.ledger }

type fakeEvents struct {
	records []*storage.EventRecord
	err     error

	gotSince   int64
	gotLimit   int
	gotFilters *storage.EventFilters
}

func (f *fakeEvents) GetEvents(sinceID int64, limit int, filters *storage.EventFilters) ([]*storage.EventRecord, error) {
	f.gotSince, f.gotLimit, f.gotFilters = sinceID, limit, filters
	if f.err != nil {
		return nil, f.err
	}
	var out []*storage.EventRecord
	for _, r := range f.records {
		if r.ID > sinceID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeEvents) GetLatestEventID() (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if len(f.records) == 0 {
		return 0, nil
	}
	return f.records[len(f.records)-1].ID, nil
}

type fixture struct {
	status *fakeStatus
	pub    *fakePublisher
	events *fakeEvents
	server *Server
}

func newFixture() *fixture {
	f := &fixture{
		status: &fakeStatus{},
		pub:    &fakePublisher{ledger: publisher.NewLedger(nil)},
		events: &fakeEvents{},
	}
	f.server = NewServer(NewHandler(f.status, f.pub, f.events), ":0")
	return f
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("解析响应失败: %v, body=%s", err, w.Body.String())
	}
	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture()

	w := f.do(t, http.MethodGet, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /healthz = %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("应返回 X-Request-ID")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("缺少安全头")
	}

	if w := f.do(t, http.MethodHead, "/healthz"); w.Code != http.StatusOK {
		t.Fatalf("HEAD /healthz = %d", w.Code)
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	f := newFixture()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc123")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "abc123" {
		t.Fatalf("X-Request-ID = %q, want abc123", got)
	}
}

func TestGetStatus(t *testing.T) {
	f := newFixture()
	f.status.snap = scheduler.Snapshot{
		Cycle:            7,
		ReferenceSuccess: true,
		Tasks: []scheduler.TaskStatus{
			{Name: "Ref", Category: "Reference", Scheme: "http", LastSuccess: true, RawSuccess: true},
			{Name: "API", Category: "Normal", Scheme: "tcp", LastSuccess: false},
		},
	}
	f.pub.stats = publisher.Stats{Published: 3, QueueDepth: 2, OpenIncidents: 1}

	w := f.do(t, http.MethodGet, "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[StatusResponse](t, w)
	if resp.Cycle != 7 || !resp.ReferenceSuccess || len(resp.Tasks) != 2 {
		t.Fatalf("快照不一致: %+v", resp.Snapshot)
	}
	if resp.Tasks[1].Name != "API" || resp.Tasks[1].LastSuccess {
		t.Fatalf("Tasks[1] = %+v", resp.Tasks[1])
	}
	if resp.Publisher.Published != 3 || resp.Publisher.QueueDepth != 2 {
		t.Fatalf("Publisher = %+v", resp.Publisher)
	}
}

func TestGetIncidents(t *testing.T) {
	f := newFixture()
	opened := time.Now().Add(-90 * time.Second).UTC()
	f.pub.ledger.Put(publisher.Entry{Service: "DB", Path: "content/issues/db.md", Version: "v2", Content: "secret", OpenedAt: opened})
	f.pub.ledger.Put(publisher.Entry{Service: "API", Path: "content/issues/api.md", Version: "v1", OpenedAt: opened})

	w := f.do(t, http.MethodGet, "/api/incidents")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[IncidentsResponse](t, w)
	if resp.Count != 2 || resp.Incidents[0].Service != "API" || resp.Incidents[1].Service != "DB" {
		t.Fatalf("Incidents = %+v", resp.Incidents)
	}
	if resp.Incidents[1].Version != "v2" || resp.Incidents[1].Duration == "" {
		t.Fatalf("Incidents[1] = %+v", resp.Incidents[1])
	}
}

func TestGetEventsPagination(t *testing.T) {
	f := newFixture()
	for i := int64(1); i <= 5; i++ {
		f.events.records = append(f.events.records, &storage.EventRecord{
			ID: i, EventID: "ev", Kind: "OFFLINE", Service: "API", Status: storage.EventStatusPublished,
		})
	}

	w := f.do(t, http.MethodGet, "/api/events?since_id=1&limit=2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", w.Code, w.Body.String())
	}
	resp := decode[EventsResponse](t, w)
	if resp.Meta.Count != 2 || !resp.Meta.HasMore || resp.Meta.NextSinceID != 3 {
		t.Fatalf("Meta = %+v", resp.Meta)
	}
	if resp.Events[0].ID != 2 || resp.Events[1].ID != 3 {
		t.Fatalf("Events = %+v", resp.Events)
	}
	// 多取一条判断 has_more
	if f.events.gotLimit != 3 {
		t.Fatalf("存储层 limit = %d, want 3", f.events.gotLimit)
	}

	w = f.do(t, http.MethodGet, "/api/events?since_id=3&limit=5")
	resp = decode[EventsResponse](t, w)
	if resp.Meta.Count != 2 || resp.Meta.HasMore || resp.Meta.NextSinceID != 5 {
		t.Fatalf("Meta = %+v", resp.Meta)
	}

	w = f.do(t, http.MethodGet, "/api/events?since_id=5")
	resp = decode[EventsResponse](t, w)
	if resp.Meta.Count != 0 || resp.Meta.NextSinceID != 5 || resp.Events == nil {
		t.Fatalf("空页 = %+v", resp)
	}
}

func TestGetEventsFilters(t *testing.T) {
	f := newFixture()

	w := f.do(t, http.MethodGet, "/api/events?service=API&kind=offline,bogus,ONLINE&status=dead_letter&limit=1000")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", w.Code, w.Body.String())
	}
	got := f.events.gotFilters
	if got.Service != "API" || got.Status != storage.EventStatusDeadLetter {
		t.Fatalf("filters = %+v", got)
	}
	if len(got.Kinds) != 2 || got.Kinds[0] != "OFFLINE" || got.Kinds[1] != "ONLINE" {
		t.Fatalf("Kinds = %v", got.Kinds)
	}
	if f.events.gotLimit != maxEventsLimit+1 {
		t.Fatalf("limit 应被截断到 %d, got %d", maxEventsLimit, f.events.gotLimit-1)
	}
}

func TestGetEventsBadRequest(t *testing.T) {
	f := newFixture()

	for _, target := range []string{
		"/api/events?since_id=-1",
		"/api/events?since_id=abc",
		"/api/events?limit=0",
		"/api/events?status=unknown",
	} {
		if w := f.do(t, http.MethodGet, target); w.Code != http.StatusBadRequest {
			t.Errorf("%s = %d, want 400", target, w.Code)
		}
	}
}

func TestGetEventsStorageError(t *testing.T) {
	f := newFixture()
	f.events.err = errors.New("database is locked")

	if w := f.do(t, http.MethodGet, "/api/events"); w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/events/latest"); w.Code != http.StatusInternalServerError {
		t.Fatalf("latest status = %d, want 500", w.Code)
	}
}

func TestGetLatestEventID(t *testing.T) {
	f := newFixture()
	f.events.records = []*storage.EventRecord{{ID: 4}, {ID: 9}}

	w := f.do(t, http.MethodGet, "/api/events/latest")
	resp := decode[LatestEventResponse](t, w)
	if resp.LatestID != 9 {
		t.Fatalf("LatestID = %d, want 9", resp.LatestID)
	}
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	f := newFixture()

	w := f.do(t, http.MethodGet, "/api/nope")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	decode[map[string]string](t, w)
}

func TestVersionEndpoint(t *testing.T) {
	f := newFixture()

	resp := decode[map[string]string](t, f.do(t, http.MethodGet, "/api/version"))
	if resp["version"] == "" || resp["go_version"] == "" {
		t.Fatalf("version = %+v", resp)
	}
}
