package session

import (
	"strings"
	"testing"
	"time"
)

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		Timestamp: time.Now().UnixMilli(),
		Tabs: []TabRecord{
			{HostTabID: 1, URL: "https://a.example/", Title: "A", GroupID: GroupNone, Index: 0},
			{HostTabID: 2, URL: "https://b.example/", Title: "B", GroupID: 7, Index: 1, Pinned: true},
		},
		Groups: []TabGroupRecord{{GroupID: 7, Title: "work", Color: "blue"}},
	}
}

func TestValidate(t *testing.T) {
	if err := sampleSnapshot().Validate(); err != nil {
		t.Fatalf("valid snapshot rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"zero timestamp", func(s *Snapshot) { s.Timestamp = 0 }},
		{"no tabs", func(s *Snapshot) { s.Tabs = nil }},
		{"empty URL", func(s *Snapshot) { s.Tabs[0].URL = "" }},
		{"negative group id", func(s *Snapshot) { s.Tabs[1].GroupID = -5 }},
		{"negative group record id", func(s *Snapshot) { s.Groups[0].GroupID = -2 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := sampleSnapshot()
			tc.mutate(s)
			if err := s.Validate(); err == nil {
				t.Fatal("want error, got nil")
			}
		})
	}

	var nilSnap *Snapshot
	if err := nilSnap.Validate(); err == nil {
		t.Fatal("nil snapshot passed validation")
	}
}

func TestValidate_DanglingGroupReferenceAllowed(t *testing.T) {
	s := sampleSnapshot()
	s.Groups = nil // tab 1 still references group 7
	if err := s.Validate(); err != nil {
		t.Fatalf("dangling group reference rejected: %v", err)
	}
	if g := s.Group(7); g != nil {
		t.Fatalf("Group(7) = %+v, want nil", g)
	}
}

func TestGroup(t *testing.T) {
	s := sampleSnapshot()
	g := s.Group(7)
	if g == nil || g.Title != "work" {
		t.Fatalf("Group(7) = %+v", g)
	}
	g.Collapsed = true
	if !s.Groups[0].Collapsed {
		t.Fatal("Group should return a pointer into the snapshot")
	}
	if s.Group(99) != nil {
		t.Fatal("Group(99) should be nil")
	}
}

func TestTabURLs(t *testing.T) {
	urls := sampleSnapshot().TabURLs()
	if len(urls) != 2 || urls[0] != "https://a.example/" || urls[1] != "https://b.example/" {
		t.Fatalf("TabURLs = %v", urls)
	}
}

func TestContentEquals(t *testing.T) {
	a := sampleSnapshot()
	b := a.Clone()
	b.Timestamp = a.Timestamp + 5000
	if !a.ContentEquals(b) {
		t.Fatal("timestamp difference should not break content equality")
	}

	b = a.Clone()
	b.Tabs[0].Title = "changed"
	if a.ContentEquals(b) {
		t.Fatal("tab change not detected")
	}

	b = a.Clone()
	b.Starred = true
	if a.ContentEquals(b) {
		t.Fatal("star change not detected")
	}

	b = a.Clone()
	b.Groups[0].Color = "red"
	if a.ContentEquals(b) {
		t.Fatal("group style change not detected")
	}

	var nilSnap *Snapshot
	if a.ContentEquals(nilSnap) || nilSnap.ContentEquals(a) {
		t.Fatal("nil compared equal to non-nil")
	}
	if !nilSnap.ContentEquals(nil) {
		t.Fatal("nil should equal nil")
	}
}

func TestClone_IsDeep(t *testing.T) {
	a := sampleSnapshot()
	b := a.Clone()
	b.Tabs[0].URL = "https://mutated.example/"
	b.Groups[0].Title = "mutated"
	if a.Tabs[0].URL != "https://a.example/" || a.Groups[0].Title != "work" {
		t.Fatal("Clone shares backing arrays with the original")
	}
}

func TestDeletedSnapshot_Expired(t *testing.T) {
	now := time.Now()
	d := &DeletedSnapshot{ExpiresAt: now.Add(time.Minute).UnixMilli()}
	if d.Expired(now) {
		t.Fatal("not yet expired")
	}
	if !d.Expired(now.Add(2 * time.Minute)) {
		t.Fatal("should be expired")
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	m := SnapshotMap{
		"lw-1": sampleSnapshot(),
		"lw-2": {Timestamp: 42, Tabs: []TabRecord{{URL: "https://c.example/", GroupID: GroupNone}}},
	}
	data, err := ExportJSON(m)
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	got, dropped, err := ImportJSON(data)
	if err != nil {
		t.Fatalf("ImportJSON: %v", err)
	}
	if dropped != 0 {
		t.Fatalf("dropped = %d, want 0", dropped)
	}
	if len(got) != 2 {
		t.Fatalf("imported %d entries, want 2", len(got))
	}
	if !got["lw-1"].ContentEquals(m["lw-1"]) {
		t.Fatal("lw-1 did not survive the round trip")
	}
}

func TestImport_RejectsMalformedDocuments(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not JSON", `{{{{`},
		{"wrong top-level type", `[1,2,3]`},
		{"entry missing tabs", `{"lw-1":{"timestamp":42}}`},
		{"empty tabs array", `{"lw-1":{"timestamp":42,"tabs":[]}}`},
		{"tab missing url", `{"lw-1":{"timestamp":42,"tabs":[{"index":0}]}}`},
		{"zero timestamp", `{"lw-1":{"timestamp":0,"tabs":[{"url":"https://a.example/"}]}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := ImportJSON([]byte(tc.data)); err == nil {
				t.Fatal("want error, got nil")
			}
		})
	}
}

func TestImport_DropsEntriesFailingDeepValidation(t *testing.T) {
	// Schema-valid but an empty map key fails the per-entry check.
	data := `{
		"": {"timestamp": 42, "tabs": [{"url": "https://a.example/", "group_id": -1}]},
		"lw-ok": {"timestamp": 42, "tabs": [{"url": "https://b.example/", "group_id": -1}]}
	}`
	got, dropped, err := ImportJSON([]byte(data))
	if err != nil {
		t.Fatalf("ImportJSON: %v", err)
	}
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if _, ok := got["lw-ok"]; !ok || len(got) != 1 {
		t.Fatalf("surviving map = %v", got)
	}
}

func TestExport_IsIndentedJSON(t *testing.T) {
	data, err := ExportJSON(SnapshotMap{"lw-1": sampleSnapshot()})
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	if !strings.Contains(string(data), "\n  ") {
		t.Fatal("export should be human-readable indented JSON")
	}
}
