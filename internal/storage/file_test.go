package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"stickerbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("driver none should disable storage, got %v, %v", st, err)
	}
	if _, err := Open(Config{Driver: "bogus"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver should error")
	}
}

func TestRecipientsRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	ids, err := st.LoadRecipients(ctx)
	if err != nil || ids != nil {
		t.Fatalf("fresh store should load empty: %v, %v", ids, err)
	}

	if err := st.SaveRecipients(ctx, []int64{30, 10, 20}); err != nil {
		t.Fatalf("SaveRecipients: %v", err)
	}
	ids, err = st.LoadRecipients(ctx)
	if err != nil {
		t.Fatalf("LoadRecipients: %v", err)
	}
	if len(ids) != 3 || ids[0] != 10 || ids[2] != 30 {
		t.Fatalf("expected sorted ids, got %v", ids)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, _, ok, err := st.LoadSnapshot(ctx); err != nil || ok {
		t.Fatalf("fresh store should have no snapshot: ok=%v err=%v", ok, err)
	}

	at := time.Now().UTC().Truncate(time.Millisecond)
	payload := []byte(`{"data":[{"id":1}]}`)
	if err := st.SaveSnapshot(ctx, payload, at); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, gotAt, ok, err := st.LoadSnapshot(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadSnapshot: ok=%v err=%v", ok, err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload mismatch: %s", got)
	}
	if !gotAt.Equal(at) {
		t.Fatalf("accepted_at mismatch: %v vs %v", gotAt, at)
	}
}

func TestSaveSnapshotRejectsEmpty(t *testing.T) {
	st := openTestStore(t)
	if err := st.SaveSnapshot(context.Background(), nil, time.Now()); err == nil {
		t.Fatalf("empty payload must be rejected")
	}
}

func TestClearSnapshot(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// Clearing an empty store is a no-op.
	if err := st.ClearSnapshot(ctx); err != nil {
		t.Fatalf("ClearSnapshot on empty store: %v", err)
	}

	if err := st.SaveSnapshot(ctx, []byte(`{}`), time.Now()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := st.ClearSnapshot(ctx); err != nil {
		t.Fatalf("ClearSnapshot: %v", err)
	}
	if _, _, ok, err := st.LoadSnapshot(ctx); err != nil || ok {
		t.Fatalf("snapshot should be gone: ok=%v err=%v", ok, err)
	}
}
