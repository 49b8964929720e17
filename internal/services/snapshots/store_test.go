package snapshots

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"stickerbot/internal/catalog"
	"stickerbot/internal/storage"
	"stickerbot/pkg/logx"
)

func testBackend(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func parse(t *testing.T, payload string) *catalog.Snapshot {
	t.Helper()
	snap, err := catalog.ParseSnapshot([]byte(payload))
	if err != nil {
		t.Fatalf("ParseSnapshot: %v", err)
	}
	return snap
}

func TestAcceptAndCurrent(t *testing.T) {
	s := New(nil, logx.Nop())
	if snap, _ := s.Current(); snap != nil {
		t.Fatalf("fresh store should have no snapshot")
	}

	at := time.Now()
	want := parse(t, `{"data":[{"id":1,"title":"Pack"}]}`)
	if err := s.Accept(context.Background(), want, at); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	snap, gotAt := s.Current()
	if snap != want || !gotAt.Equal(at) {
		t.Fatalf("Current returned %v at %v", snap, gotAt)
	}
}

func TestAcceptPersistsAcrossRestart(t *testing.T) {
	st := testBackend(t)
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Millisecond)

	s := New(st, logx.Nop())
	if err := s.Accept(ctx, parse(t, `{"data":[{"id":7,"title":"Pack"}]}`), at); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	fresh := New(st, logx.Nop())
	if err := fresh.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap, gotAt := fresh.Current()
	if snap == nil || !gotAt.Equal(at) {
		t.Fatalf("restore failed: snap=%v at=%v", snap, gotAt)
	}
	if snap.Find(7) == nil {
		t.Fatalf("restored snapshot lost collection 7")
	}
}

func TestLoadSkipsCorruptPayload(t *testing.T) {
	st := testBackend(t)
	ctx := context.Background()
	if err := st.SaveSnapshot(ctx, []byte(`[1,2,3]`), time.Now()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	s := New(st, logx.Nop())
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load should tolerate a corrupt payload, got %v", err)
	}
	if snap, _ := s.Current(); snap != nil {
		t.Fatalf("corrupt payload must not become the baseline")
	}
}

func TestResetClearsBaseline(t *testing.T) {
	st := testBackend(t)
	ctx := context.Background()

	s := New(st, logx.Nop())
	if err := s.Accept(ctx, parse(t, `{"data":[{"id":1}]}`), time.Now()); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if snap, _ := s.Current(); snap != nil {
		t.Fatalf("Reset left a baseline in memory")
	}

	fresh := New(st, logx.Nop())
	if err := fresh.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap, _ := fresh.Current(); snap != nil {
		t.Fatalf("Reset left a baseline in persistence")
	}
}

func TestRemoveItem(t *testing.T) {
	st := testBackend(t)
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Millisecond)

	s := New(st, logx.Nop())
	if err := s.Accept(ctx, parse(t, `{"data":[{"id":1,"title":"A"},{"id":2,"title":"B"}]}`), at); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if ok, err := s.RemoveItem(ctx, 99); ok || err != nil {
		t.Fatalf("removing an unknown id: ok=%v err=%v", ok, err)
	}
	ok, err := s.RemoveItem(ctx, 1)
	if !ok || err != nil {
		t.Fatalf("RemoveItem: ok=%v err=%v", ok, err)
	}

	fresh := New(st, logx.Nop())
	if err := fresh.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap, gotAt := fresh.Current()
	if snap == nil {
		t.Fatalf("baseline lost after item removal")
	}
	if snap.Find(1) != nil || snap.Find(2) == nil {
		t.Fatalf("wrong collection removed")
	}
	if !gotAt.Equal(at) {
		t.Fatalf("item removal must not change the acceptance time: %v vs %v", gotAt, at)
	}
}

func TestRemoveItemLeavesEarlierReadersUntouched(t *testing.T) {
	s := New(nil, logx.Nop())
	ctx := context.Background()
	if err := s.Accept(ctx, parse(t, `{"data":[{"id":1,"title":"A"},{"id":2,"title":"B"},{"id":3,"title":"C"}]}`), time.Now()); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	before, _ := s.Current()
	if ok, err := s.RemoveItem(ctx, 2); !ok || err != nil {
		t.Fatalf("RemoveItem: ok=%v err=%v", ok, err)
	}

	// The snapshot handed out before the removal must still hold all items.
	if len(before.Data) != 3 || before.Find(2) == nil {
		t.Fatalf("earlier reader's snapshot was mutated: %+v", before.Data)
	}

	after, _ := s.Current()
	if after == before {
		t.Fatalf("removal must install a fresh snapshot")
	}
	if len(after.Data) != 2 || after.Find(2) != nil {
		t.Fatalf("current snapshot should have lost item 2: %+v", after.Data)
	}
}

func TestRemoveItemWithoutBaseline(t *testing.T) {
	s := New(nil, logx.Nop())
	if ok, err := s.RemoveItem(context.Background(), 1); ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}
