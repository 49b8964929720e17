package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stickerbot/internal/catalog"
	"stickerbot/pkg/logx"
)

type fakePipeline struct {
	first   bool
	changes catalog.ChangeSet
	err     error

	payload    []byte
	acceptedAt time.Time

	resets   int
	resetErr error
}

func (f *fakePipeline) IngestSnapshot(_ context.Context, payload []byte) (bool, catalog.ChangeSet, error) {
	if f.err != nil {
		return false, catalog.ChangeSet{}, f.err
	}
	return f.first, f.changes, nil
}

func (f *fakePipeline) CurrentSnapshot() ([]byte, time.Time, bool) {
	if f.payload == nil {
		return nil, time.Time{}, false
	}
	return f.payload, f.acceptedAt, true
}

func (f *fakePipeline) ResetCache(context.Context) error {
	f.resets++
	return f.resetErr
}

func newTestServer(p *fakePipeline, cfg Config) *httptest.Server {
	s := New(cfg, p, logx.Nop())
	return httptest.NewServer(s.srv.Handler)
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestIngestReportsChangeCounts(t *testing.T) {
	p := &fakePipeline{
		changes: catalog.ChangeSet{
			Added:   []catalog.Collection{{}, {}},
			Updated: []catalog.ItemChange{{}},
		},
	}
	ts := newTestServer(p, Config{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/data", "application/json", strings.NewReader(`{"data":[]}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Accepted bool           `json:"accepted"`
		First    bool           `json:"first"`
		Changes  map[string]int `json:"changes"`
	}
	decodeBody(t, resp, &body)
	if !body.Accepted || body.First {
		t.Fatalf("body = %+v", body)
	}
	if body.Changes["added"] != 2 || body.Changes["updated"] != 1 || body.Changes["removed"] != 0 {
		t.Fatalf("changes = %v", body.Changes)
	}
}

func TestIngestMalformedSnapshot(t *testing.T) {
	p := &fakePipeline{err: catalog.ErrMalformedSnapshot}
	ts := newTestServer(p, Config{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/data", "application/json", strings.NewReader(`not json`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestIngestInternalError(t *testing.T) {
	p := &fakePipeline{err: errors.New("storage down")}
	ts := newTestServer(p, Config{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/data", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestIngestBodyTooLarge(t *testing.T) {
	ts := newTestServer(&fakePipeline{}, Config{})
	defer ts.Close()

	big := bytes.Repeat([]byte("x"), maxBodyBytes+1)
	resp, err := http.Post(ts.URL+"/api/data", "application/json", bytes.NewReader(big))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
}

func TestGetData(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := &fakePipeline{payload: []byte(`{"data":[{"id":1}]}`), acceptedAt: at}
	ts := newTestServer(p, Config{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/data")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Accepted-At"); got != "2025-06-01T12:00:00Z" {
		t.Fatalf("X-Accepted-At = %q", got)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if buf.String() != string(p.payload) {
		t.Fatalf("payload = %q", buf.String())
	}
}

func TestGetDataBeforeFirstSnapshot(t *testing.T) {
	ts := newTestServer(&fakePipeline{}, Config{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/data")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestResetCache(t *testing.T) {
	p := &fakePipeline{}
	ts := newTestServer(p, Config{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/reset-cache", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || p.resets != 1 {
		t.Fatalf("status = %d, resets = %d", resp.StatusCode, p.resets)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(&fakePipeline{}, Config{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(&fakePipeline{}, Config{AllowOrigin: "https://panel.example.com"})
	defer ts.Close()

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/data", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://panel.example.com" {
		t.Fatalf("Allow-Origin = %q", got)
	}
}

func TestCORSDisabledByDefault(t *testing.T) {
	ts := newTestServer(&fakePipeline{}, Config{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected CORS header %q", got)
	}
}
