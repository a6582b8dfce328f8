package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/stratoarb/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	bodies []string
	err    error
}

func (s *recordingSender) Send(_ context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	s.bodies = append(s.bodies, message)
	return s.err
}

func (s *recordingSender) Name() string { return "recording" }

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.titles)
}

type recordingJournal struct {
	saved []domain.ExecutionResult
}

func (j *recordingJournal) Save(_ context.Context, res domain.ExecutionResult) error {
	j.saved = append(j.saved, res)
	return nil
}

func result(success bool, err error) domain.ExecutionResult {
	return domain.ExecutionResult{
		ID:      "exec-1",
		Pair:    "ETHST-USDST",
		Success: success,
		Opportunity: domain.Opportunity{
			Direction:       domain.DirectionBuy,
			OptimalInput:    big.NewInt(2_000_000_000_000_000_000),
			ExpectedOutput:  big.NewInt(1_900_000_000_000_000_000),
			EstimatedProfit: big.NewInt(50_000_000_000_000_000),
		},
		Transactions: []domain.TxRecord{{Type: "swap", Hash: "0xfeed"}},
		ActualProfit: big.NewInt(50_000_000_000_000_000),
		Err:          err,
	}
}

func TestPublisherFansOut(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, _ := bus.Subscribe(ctx, domain.ExecutionsChannel)

	sender := &recordingSender{}
	journal := &recordingJournal{}
	p := NewPublisher(bus, journal, NewNotifier([]Sender{sender}, nil, discard()), discard())

	p.PublishExecution(ctx, result(true, nil))

	select {
	case raw := <-sub:
		var ev domain.ExecutionEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.ID != "exec-1" || !ev.Success || ev.AmountIn != "2000000000000000000" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no bus message")
	}
	if len(journal.saved) != 1 {
		t.Fatalf("journal saved %d", len(journal.saved))
	}
	if sender.count() != 1 || sender.titles[0] != "Arbitrage executed" {
		t.Fatalf("titles = %v", sender.titles)
	}
	if !strings.Contains(sender.bodies[0], "Realised: $0.05") {
		t.Fatalf("body = %q", sender.bodies[0])
	}
}

func TestPublisherSkipsBusyResults(t *testing.T) {
	sender := &recordingSender{}
	journal := &recordingJournal{}
	p := NewPublisher(NewLocalBus(), journal, NewNotifier([]Sender{sender}, nil, discard()), discard())

	p.PublishExecution(context.Background(), domain.ExecutionResult{Pair: "X", Busy: true, Err: domain.ErrBusy})
	if sender.count() != 0 || len(journal.saved) != 0 {
		t.Fatal("busy result should only reach the bus")
	}
}

func TestPublisherSuppressesRepeatFailures(t *testing.T) {
	sender := &recordingSender{}
	p := NewPublisher(nil, nil, NewNotifier([]Sender{sender}, nil, discard()), discard())
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p.dedup.now = func() time.Time { return now }

	fail := func(hash string) domain.ExecutionResult {
		return result(false, fmt.Errorf("executor: swap %s: %w", hash, domain.ErrTxFailed))
	}
	p.PublishExecution(context.Background(), fail("0x1"))
	p.PublishExecution(context.Background(), fail("0x2"))
	if n := sender.count(); n != 1 {
		t.Fatalf("alerts = %d, want 1", n)
	}

	p.PublishExecution(context.Background(), result(false, domain.ErrTxTimeout))
	if n := sender.count(); n != 2 {
		t.Fatalf("alerts = %d, want 2 (different failure kind)", n)
	}

	now = now.Add(DefaultFailureDedup)
	p.PublishExecution(context.Background(), fail("0x3"))
	if n := sender.count(); n != 3 {
		t.Fatalf("alerts = %d, want 3 (window elapsed)", n)
	}
}

func TestNotifierFiltersEvents(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier([]Sender{sender}, []string{EventExecutionFailure}, discard())
	if err := n.Notify(context.Background(), EventExecutionSuccess, "t", "m"); err != nil {
		t.Fatal(err)
	}
	if sender.count() != 0 {
		t.Fatal("filtered event was sent")
	}
	if err := n.NotifyAll(context.Background(), "t", "m"); err != nil {
		t.Fatal(err)
	}
	if sender.count() != 1 {
		t.Fatal("NotifyAll bypasses the filter")
	}
}

func TestNotifierCollectsSenderErrors(t *testing.T) {
	bad := &recordingSender{err: errors.New("down")}
	good := &recordingSender{}
	n := NewNotifier([]Sender{bad, good}, nil, discard())
	if err := n.NotifyAll(context.Background(), "t", "m"); err == nil || !strings.Contains(err.Error(), "down") {
		t.Fatalf("err = %v", err)
	}
	if good.count() != 1 {
		t.Fatal("one failing sender must not block the others")
	}
}

func TestLocalBusHistory(t *testing.T) {
	bus := NewLocalBus()
	ctx := context.Background()
	for i := 0; i < localHistory+5; i++ {
		ev, _ := json.Marshal(domain.ExecutionEvent{ID: fmt.Sprint(i)})
		_ = bus.Publish(ctx, domain.ExecutionsChannel, ev)
	}
	got, err := BusHistory{H: bus}.RecentExecutions(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{fmt.Sprint(localHistory + 4), fmt.Sprint(localHistory + 3), fmt.Sprint(localHistory + 2)}
	for i, ev := range got {
		if ev.ID != want[i] {
			t.Fatalf("recent[%d] = %s, want %s", i, ev.ID, want[i])
		}
	}
	all, _ := bus.Recent(ctx, domain.ExecutionsChannel, 1000)
	if len(all) != localHistory {
		t.Fatalf("history length = %d, want %d", len(all), localHistory)
	}
}

func TestSendersPostPayloads(t *testing.T) {
	var mu sync.Mutex
	got := map[string]map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		got[r.URL.Path] = body
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tg := NewTelegramSender("TOKEN", "42")
	tg.apiBase = srv.URL
	if err := tg.Send(context.Background(), "Arbitrage executed", "tx_hash"); err != nil {
		t.Fatal(err)
	}
	dc := NewDiscordSender(srv.URL + "/webhook")
	if err := dc.Send(context.Background(), "Arbitrage failed", "boom"); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if tgBody := got["/botTOKEN/sendMessage"]; tgBody["chat_id"] != "42" || tgBody["text"] != "*Arbitrage executed*\ntx\\_hash" {
		t.Fatalf("telegram body = %v", tgBody)
	}
	embeds, _ := got["/webhook"]["embeds"].([]any)
	if len(embeds) != 1 {
		t.Fatalf("discord body = %v", got["/webhook"])
	}
	embed, _ := embeds[0].(map[string]any)
	if embed["title"] != "Arbitrage failed" || embed["description"] != "```\nboom\n```" {
		t.Fatalf("discord embed = %v", embed)
	}
}
