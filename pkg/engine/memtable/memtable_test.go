package memtable

import "testing"

func TestMemtable_SetGet(t *testing.T) {
	m := New(4)
	if err := m.Set([]byte("a"), []byte("1"), 10); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ts, ok := m.Get([]byte("a"))
	if !ok || string(v) != "1" || ts != 10 {
		t.Fatalf("unexpected get result: %q %d %v", v, ts, ok)
	}
	if _, _, ok := m.Get([]byte("missing")); ok {
		t.Fatal("expected miss for absent key")
	}
}

func TestMemtable_ReplaceExistingDoesNotGrow(t *testing.T) {
	m := New(1)
	if err := m.Set([]byte("a"), []byte("1"), 1); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := m.Set([]byte("a"), []byte("2"), 2); err != nil {
		t.Fatalf("replace should not require capacity: %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("expected len 1, got %d", m.Len())
	}
}

func TestMemtable_FullRejectsNewKey(t *testing.T) {
	m := New(1)
	if err := m.Set([]byte("a"), []byte("1"), 1); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !m.Full() {
		t.Fatal("expected memtable to report full")
	}
	if err := m.Set([]byte("b"), []byte("2"), 2); err == nil {
		t.Fatal("expected capacity error inserting a new key")
	}
}

func TestMemtable_SnapshotIsSortedByKey(t *testing.T) {
	m := New(8)
	for _, k := range []string{"c", "a", "b"} {
		if err := m.Set([]byte(k), []byte(k), 1); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	snap := m.Snapshot()
	want := []string{"a", "b", "c"}
	for i, e := range snap {
		if string(e.Key) != want[i] {
			t.Errorf("snapshot[%d] = %q, want %q", i, e.Key, want[i])
		}
	}
}
