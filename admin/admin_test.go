package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/fenetre/host/hosttest"
	"github.com/hazyhaar/fenetre/kvstore"
	"github.com/hazyhaar/fenetre/session"
	"github.com/hazyhaar/fenetre/tracker"
)

func newTestServer(t *testing.T, passwordHash string) (*Server, *tracker.Tracker, *hosttest.Fake) {
	t.Helper()
	fake := hosttest.New()
	tr := tracker.New(tracker.DefaultConfig(), fake, kvstore.NewMem(kvstore.AreaLocal), nil)
	return NewServer(tr, passwordHash, nil), tr, fake
}

func seedSnapshot(t *testing.T, tr *tracker.Tracker, id session.LogicalWindowID, title string) {
	t.Helper()
	snap := &session.Snapshot{
		Timestamp: 1700000000000,
		Tabs: []session.TabRecord{
			{URL: "https://a.example/", Title: title, GroupID: session.GroupNone},
		},
	}
	if err := tr.Snapshots().Put(context.Background(), id, snap); err != nil {
		t.Fatal(err)
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAPI_ListAndDelete(t *testing.T) {
	s, tr, _ := newTestServer(t, "")
	seedSnapshot(t, tr, "u1", "Docs")
	r := s.Router()

	w := doJSON(t, r, http.MethodGet, "/api/snapshots", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status: %d", w.Code)
	}
	var out struct {
		Snapshots session.SnapshotMap `json:"snapshots"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Snapshots) != 1 || out.Snapshots["u1"] == nil {
		t.Fatalf("snapshots: %v", out.Snapshots)
	}

	w = doJSON(t, r, http.MethodDelete, "/api/snapshots/u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status: %d, body: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/api/snapshots", nil)
	out.Snapshots = nil // Unmarshal merges into a non-nil map; reset to decode fresh.
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Snapshots) != 0 {
		t.Fatalf("snapshots after delete: %v", out.Snapshots)
	}

	// Undo within the window brings it back.
	w = doJSON(t, r, http.MethodPost, "/api/snapshots/u1/undo", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("undo status: %d", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, "/api/snapshots/u1/undo", nil)
	if w.Code != http.StatusGone {
		t.Fatalf("second undo status: %d, want 410", w.Code)
	}
}

func TestAPI_RenameSanitizesHTML(t *testing.T) {
	s, tr, _ := newTestServer(t, "")
	seedSnapshot(t, tr, "u1", "Docs")
	r := s.Router()

	w := doJSON(t, r, http.MethodPost, "/api/snapshots/u1/rename",
		map[string]string{"name": `<script>alert(1)</script>Work`})
	if w.Code != http.StatusOK {
		t.Fatalf("rename status: %d", w.Code)
	}
	var out struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.Name, "<script>") || !strings.Contains(out.Name, "Work") {
		t.Fatalf("sanitized name: %q", out.Name)
	}

	snap, ok, err := tr.Snapshots().Get(context.Background(), "u1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if strings.Contains(snap.CustomName, "<") {
		t.Fatalf("stored name kept markup: %q", snap.CustomName)
	}
}

func TestAPI_StarAndStats(t *testing.T) {
	s, tr, _ := newTestServer(t, "")
	seedSnapshot(t, tr, "u1", "Docs")
	r := s.Router()

	w := doJSON(t, r, http.MethodPost, "/api/snapshots/u1/star", map[string]bool{"starred": true})
	if w.Code != http.StatusOK {
		t.Fatalf("star status: %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status: %d", w.Code)
	}
	var out struct {
		Stats struct {
			SnapshotCount int `json:"snapshot_count"`
			StarredCount  int `json:"starred_count"`
		} `json:"stats"`
		Level string `json:"level"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Stats.SnapshotCount != 1 || out.Stats.StarredCount != 1 {
		t.Fatalf("stats: %+v", out.Stats)
	}
	if out.Level == "" {
		t.Fatal("missing quota level")
	}
}

func TestAPI_ExportImportRoundTrip(t *testing.T) {
	s, tr, _ := newTestServer(t, "")
	seedSnapshot(t, tr, "u1", "Docs")
	r := s.Router()

	w := doJSON(t, r, http.MethodGet, "/api/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export status: %d", w.Code)
	}
	exported := w.Body.Bytes()

	// Import into a fresh server.
	s2, tr2, _ := newTestServer(t, "")
	r2 := s2.Router()
	req := httptest.NewRequest(http.MethodPost, "/api/import", bytes.NewReader(exported))
	w2 := httptest.NewRecorder()
	r2.ServeHTTP(w2, req)
	if w2.Code != http.StatusOK {
		t.Fatalf("import status: %d, body: %s", w2.Code, w2.Body.String())
	}

	m, _, err := tr2.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(m) != 1 || m["u1"] == nil {
		t.Fatalf("imported snapshots: %v", m)
	}
}

func TestAPI_RestoreRebuildsWindow(t *testing.T) {
	s, tr, fake := newTestServer(t, "")
	seedSnapshot(t, tr, "u1", "Docs")
	r := s.Router()

	w := doJSON(t, r, http.MethodPost, "/api/snapshots/u1/restore", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("restore status: %d, body: %s", w.Code, w.Body.String())
	}
	if fake.WindowCount() != 1 {
		t.Fatalf("windows after restore: %d", fake.WindowCount())
	}

	w = doJSON(t, r, http.MethodPost, "/api/snapshots/missing/restore", nil)
	if w.Code == http.StatusOK {
		t.Fatal("restore of unknown id succeeded")
	}
}

func TestIndex_RendersSessionList(t *testing.T) {
	s, tr, _ := newTestServer(t, "")
	seedSnapshot(t, tr, "u1", "<b>Docs</b>")
	r := s.Router()

	w := doJSON(t, r, http.MethodGet, "/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("index status: %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "u1") {
		t.Fatal("index missing session id")
	}
	if strings.Contains(body, "<b>Docs</b>") {
		t.Fatal("index kept raw markup from snapshot title")
	}
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	s, _, _ := newTestServer(t, string(hash))
	r := s.Router()

	w := doJSON(t, r, http.MethodGet, "/api/snapshots", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status: %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/snapshots", nil)
	req.SetBasicAuth("anyone", "wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status: %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/snapshots", nil)
	req.SetBasicAuth("anyone", "s3cret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated status: %d", w.Code)
	}

	// The placeholder page stays reachable without credentials.
	w = doJSON(t, r, http.MethodGet, "/placeholder?state=bm9wZQ", nil)
	if w.Code == http.StatusUnauthorized {
		t.Fatal("placeholder page requires auth")
	}
}
