package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stratoarb/internal/domain"
	"github.com/alanyoungcy/stratoarb/internal/ledger"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memStore) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

func (m *memStore) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type fakeSource struct {
	events []domain.ExecutionEvent
	err    error
	calls  []time.Time
}

func (f *fakeSource) ListBetween(_ context.Context, from, to time.Time) ([]domain.ExecutionEvent, error) {
	f.calls = append(f.calls, from)
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.ExecutionEvent
	for _, ev := range f.events {
		if !ev.StartedAt.Before(from) && ev.StartedAt.Before(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

type fakeProfit struct{ rec ledger.Record }

func (f fakeProfit) Load(context.Context) (ledger.Record, error) { return f.rec, nil }

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func newTestArchiver(store *memStore, src *fakeSource) *Archiver {
	a := NewArchiver(store, src, fakeProfit{rec: ledger.Record{
		CumulativeProfitWei: big.NewInt(1_500_000_000_000_000_000),
		CumulativeProfitUSD: decimal.RequireFromString("1.5"),
	}}, "arbbot", discard())
	a.now = func() time.Time { return at("2025-03-15T12:00:00Z") }
	return a
}

func TestRunOnceArchivesClosedAndCurrentMonth(t *testing.T) {
	store := newMemStore()
	src := &fakeSource{events: []domain.ExecutionEvent{
		{ID: "a", Pair: "ETHST/USDST", Success: true, StartedAt: at("2025-02-03T10:00:00Z")},
		{ID: "b", Pair: "ETHST/USDST", StartedAt: at("2025-02-28T23:59:59Z")},
		{ID: "c", Pair: "WBTCST/USDST", Success: true, StartedAt: at("2025-03-01T00:00:00Z")},
	}}

	if err := newTestArchiver(store, src).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	feb := store.objects["arbbot/executions/2025-02.jsonl"]
	if got := bytes.Count(feb, []byte("\n")); got != 2 {
		t.Fatalf("february lines = %d, want 2:\n%s", got, feb)
	}
	if store.types["arbbot/executions/2025-02.jsonl"] != "application/x-ndjson" {
		t.Fatalf("content type = %q", store.types["arbbot/executions/2025-02.jsonl"])
	}

	var ev domain.ExecutionEvent
	mar := store.objects["arbbot/executions/2025-03.jsonl"]
	if err := json.Unmarshal(bytes.TrimSpace(mar), &ev); err != nil || ev.ID != "c" {
		t.Fatalf("march object = %s (err %v)", mar, err)
	}

	var snap profitSnapshot
	if err := json.Unmarshal(store.objects["arbbot/profit/2025-03-15.json"], &snap); err != nil {
		t.Fatalf("profit snapshot: %v", err)
	}
	if snap.CumulativeProfitWei != "1500000000000000000" || snap.CumulativeProfitUSD != "1.500000" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestRunOnceSkipsArchivedMonth(t *testing.T) {
	store := newMemStore()
	store.objects["arbbot/executions/2025-02.jsonl"] = []byte("{}\n")
	src := &fakeSource{}

	if err := newTestArchiver(store, src).RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(src.calls) != 1 || !src.calls[0].Equal(at("2025-03-01T00:00:00Z")) {
		t.Fatalf("queries = %v, want only the current month", src.calls)
	}
	if _, ok := store.objects["arbbot/executions/2025-03.jsonl"]; ok {
		t.Fatal("empty month must not be uploaded")
	}
	if string(store.objects["arbbot/executions/2025-02.jsonl"]) != "{}\n" {
		t.Fatal("closed month was overwritten")
	}
}

func TestRunOnceJoinsErrorsAndStillSnapshots(t *testing.T) {
	store := newMemStore()
	src := &fakeSource{err: errors.New("connection refused")}

	err := newTestArchiver(store, src).RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("err = %v", err)
	}
	if _, ok := store.objects["arbbot/profit/2025-03-15.json"]; !ok {
		t.Fatal("profit snapshot skipped after query failure")
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"https://s3.example", false, "https://s3.example"},
		{"minio:9000", false, "http://minio:9000"},
		{"e2.idrive.example", true, "https://e2.idrive.example"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.useSSL); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.useSSL, got, tt.want)
		}
	}
}
