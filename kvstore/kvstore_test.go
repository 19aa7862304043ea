package kvstore

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	_ "modernc.org/sqlite"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"sqlite": OpenMemory(t, WithArea(AreaLocal)),
		"mem":    NewMem(AreaLocal),
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.Get(ctx, KeySnapshots); err != nil || ok {
				t.Fatalf("Get on empty store = ok %v, err %v", ok, err)
			}

			doc := json.RawMessage(`{"a":1}`)
			if err := s.Set(ctx, KeySnapshots, doc); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, ok, err := s.Get(ctx, KeySnapshots)
			if err != nil || !ok {
				t.Fatalf("Get after Set = ok %v, err %v", ok, err)
			}
			if !bytes.Equal(got, doc) {
				t.Fatalf("Get = %s, want %s", got, doc)
			}

			doc2 := json.RawMessage(`{"a":2}`)
			if err := s.Set(ctx, KeySnapshots, doc2); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			got, _, _ = s.Get(ctx, KeySnapshots)
			if !bytes.Equal(got, doc2) {
				t.Fatalf("Get after overwrite = %s, want %s", got, doc2)
			}

			if err := s.Delete(ctx, KeySnapshots); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, _ := s.Get(ctx, KeySnapshots); ok {
				t.Fatal("key survived Delete")
			}
			if err := s.Delete(ctx, KeySnapshots); err != nil {
				t.Fatalf("Delete of missing key: %v", err)
			}
		})
	}
}

func TestWatch_NotifiesWithOldAndNewValues(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var changes []Change
			cancel := s.Watch(func(c Change) { changes = append(changes, c) })

			if err := s.Set(ctx, KeyIdentityMap, json.RawMessage(`{"w":"lw-1"}`)); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := s.Set(ctx, KeyIdentityMap, json.RawMessage(`{"w":"lw-2"}`)); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := s.Delete(ctx, KeyIdentityMap); err != nil {
				t.Fatalf("Delete: %v", err)
			}

			if len(changes) != 3 {
				t.Fatalf("got %d changes, want 3", len(changes))
			}
			if changes[0].OldValue != nil {
				t.Errorf("first Set OldValue = %s, want nil", changes[0].OldValue)
			}
			if !bytes.Equal(changes[1].OldValue, []byte(`{"w":"lw-1"}`)) {
				t.Errorf("second Set OldValue = %s", changes[1].OldValue)
			}
			if !bytes.Equal(changes[1].NewValue, []byte(`{"w":"lw-2"}`)) {
				t.Errorf("second Set NewValue = %s", changes[1].NewValue)
			}
			if changes[2].NewValue != nil {
				t.Errorf("Delete NewValue = %s, want nil", changes[2].NewValue)
			}
			for i, c := range changes {
				if c.Area != AreaLocal || c.Key != KeyIdentityMap {
					t.Errorf("change %d tagged %s/%s", i, c.Area, c.Key)
				}
			}

			cancel()
			if err := s.Set(ctx, KeyIdentityMap, json.RawMessage(`{}`)); err != nil {
				t.Fatalf("Set after cancel: %v", err)
			}
			if len(changes) != 3 {
				t.Fatal("watcher fired after cancel")
			}
		})
	}
}

func TestWatch_DeleteOfMissingKeyIsSilent(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			fired := false
			defer s.Watch(func(Change) { fired = true })()
			if err := s.Delete(ctx, "never-set"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if fired {
				t.Fatal("watcher fired for a missing key")
			}
		})
	}
}

func TestKeys_SortedEnumeration(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{KeySnapshots, KeyIdentityMap, KeyDeleted} {
				if err := s.Set(ctx, k, json.RawMessage(`{}`)); err != nil {
					t.Fatalf("Set %s: %v", k, err)
				}
			}
			keys, err := s.Keys(ctx)
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			want := []string{KeyDeleted, KeyIdentityMap, KeySnapshots}
			if len(keys) != len(want) {
				t.Fatalf("Keys = %v, want %v", keys, want)
			}
			for i := range want {
				if keys[i] != want[i] {
					t.Fatalf("Keys = %v, want %v", keys, want)
				}
			}
		})
	}
}

func TestEstimate_TracksUsage(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			before, err := s.Estimate(ctx)
			if err != nil {
				t.Fatalf("Estimate: %v", err)
			}
			if before.TotalBytes <= 0 {
				t.Fatalf("TotalBytes = %d", before.TotalBytes)
			}

			big := json.RawMessage(`{"pad":"` + string(bytes.Repeat([]byte("x"), 8192)) + `"}`)
			if err := s.Set(ctx, KeySnapshots, big); err != nil {
				t.Fatalf("Set: %v", err)
			}
			after, err := s.Estimate(ctx)
			if err != nil {
				t.Fatalf("Estimate: %v", err)
			}
			if after.UsedBytes <= before.UsedBytes {
				t.Fatalf("UsedBytes %d -> %d, expected growth", before.UsedBytes, after.UsedBytes)
			}
		})
	}
}

func TestMemStore_SetCopiesValue(t *testing.T) {
	ctx := context.Background()
	s := NewMem(AreaSync)
	doc := json.RawMessage(`{"a":1}`)
	if err := s.Set(ctx, KeyConfig, doc); err != nil {
		t.Fatalf("Set: %v", err)
	}
	doc[2] = 'z'
	got, _, _ := s.Get(ctx, KeyConfig)
	if !bytes.Equal(got, []byte(`{"a":1}`)) {
		t.Fatalf("stored document aliased caller buffer: %s", got)
	}
}

func TestSQLite_QuotaOption(t *testing.T) {
	s := OpenMemory(t, WithQuota(1<<20))
	u, err := s.Estimate(context.Background())
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if u.TotalBytes != 1<<20 {
		t.Fatalf("TotalBytes = %d, want %d", u.TotalBytes, 1<<20)
	}
}
