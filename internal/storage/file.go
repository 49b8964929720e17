package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"stickerbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.recipients.json
//   - <prefix>.snapshot.json
//
// Every write goes through a tmp-file + rename so a crash mid-write never
// corrupts the previous state.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	recipientsPath string
	snapshotPath   string
}

type snapshotRecord struct {
	AcceptedAt time.Time       `json:"accepted_at"`
	Payload    json.RawMessage `json:"payload"`
}

type recipientsRecord struct {
	ChatIDs []int64 `json:"chat_ids"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./stickerbot_store"
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &fileStore{
		log:            log,
		recipientsPath: prefix + ".recipients.json",
		snapshotPath:   prefix + ".snapshot.json",
	}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) SaveRecipients(ctx context.Context, ids []int64) error {
	_ = ctx
	cp := append([]int64(nil), ids...)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.recipientsPath, recipientsRecord{ChatIDs: cp})
}

func (s *fileStore) LoadRecipients(ctx context.Context) ([]int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec recipientsRecord
	if err := readJSON(s.recipientsPath, &rec); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return rec.ChatIDs, nil
}

func (s *fileStore) SaveSnapshot(ctx context.Context, payload []byte, acceptedAt time.Time) error {
	_ = ctx
	if len(payload) == 0 {
		return errors.New("empty snapshot payload")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.snapshotPath, snapshotRecord{
		AcceptedAt: acceptedAt,
		Payload:    json.RawMessage(payload),
	})
}

func (s *fileStore) LoadSnapshot(ctx context.Context) ([]byte, time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec snapshotRecord
	if err := readJSON(s.snapshotPath, &rec); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, time.Time{}, false, nil
		}
		return nil, time.Time{}, false, err
	}
	if len(rec.Payload) == 0 {
		return nil, time.Time{}, false, nil
	}
	return rec.Payload, rec.AcceptedAt, true, nil
}

func (s *fileStore) ClearSnapshot(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.snapshotPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func readJSON(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func writeJSONAtomic(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
