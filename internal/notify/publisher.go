package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/stratoarb/internal/amm"
	"github.com/alanyoungcy/stratoarb/internal/domain"
)

// Notification event types accepted by the notify.events filter.
const (
	EventExecutionSuccess = "execution_success"
	EventExecutionFailure = "execution_failure"
)

// DefaultFailureDedup suppresses identical failure alerts for one pair.
const DefaultFailureDedup = 10 * time.Minute

// Journal persists execution results.
type Journal interface {
	Save(ctx context.Context, res domain.ExecutionResult) error
}

// Historian returns recent payloads from a bus channel, newest first.
type Historian interface {
	Recent(ctx context.Context, channel string, n int) ([][]byte, error)
}

// Publisher delivers each execution result to the signal bus, the optional
// journal and the notifier. Failures are logged; they never reach the
// executor.
type Publisher struct {
	bus      domain.SignalBus
	journal  Journal
	notifier *Notifier
	dedup    *Dedup
	logger   *slog.Logger
}

// NewPublisher creates a Publisher. journal and notifier may be nil.
func NewPublisher(bus domain.SignalBus, journal Journal, notifier *Notifier, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:      bus,
		journal:  journal,
		notifier: notifier,
		dedup:    NewDedup(DefaultFailureDedup),
		logger:   logger.With(slog.String("component", "publisher")),
	}
}

// PublishExecution fans res out.
func (p *Publisher) PublishExecution(ctx context.Context, res domain.ExecutionResult) {
	if p.bus != nil {
		payload, err := json.Marshal(res.Event())
		if err == nil {
			err = p.bus.Publish(ctx, domain.ExecutionsChannel, payload)
		}
		if err != nil {
			p.logger.WarnContext(ctx, "publish execution failed", slog.String("id", res.ID), slog.String("error", err.Error()))
		}
	}
	if res.Busy {
		return
	}
	if p.journal != nil {
		if err := p.journal.Save(ctx, res); err != nil {
			p.logger.ErrorContext(ctx, "journal execution failed", slog.String("id", res.ID), slog.String("error", err.Error()))
		}
	}
	if p.notifier == nil {
		return
	}

	event := EventExecutionSuccess
	if !res.Success {
		event = EventExecutionFailure
		if p.dedup.Seen(res.Pair + "|" + failureKind(res.Err)) {
			p.logger.DebugContext(ctx, "repeat failure alert suppressed", slog.String("pair", res.Pair))
			return
		}
	}
	title, body := Render(res)
	if err := p.notifier.Notify(ctx, event, title, body); err != nil {
		p.logger.WarnContext(ctx, "notification failed", slog.String("error", err.Error()))
	}
}

// failureKind groups failures by sentinel so a changing tx hash in the
// message does not defeat deduplication.
func failureKind(err error) string {
	for _, s := range []error{domain.ErrSubmitFailed, domain.ErrTxFailed, domain.ErrTxTimeout} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Render formats res as a notification title and body.
func Render(res domain.ExecutionResult) (title, body string) {
	opp := res.Opportunity
	var b strings.Builder
	fmt.Fprintf(&b, "Pair: %s\n", res.Pair)
	fmt.Fprintf(&b, "Direction: %s\n", opp.Direction)
	if opp.OptimalInput != nil {
		fmt.Fprintf(&b, "Input: %s\n", amm.Format(opp.OptimalInput))
	}
	if opp.EstimatedProfit != nil {
		fmt.Fprintf(&b, "Estimated profit: %s\n", amm.Format(opp.EstimatedProfit))
	}
	for _, tx := range res.Transactions {
		fmt.Fprintf(&b, "Tx (%s): %s\n", tx.Type, tx.Hash)
	}
	if res.Success {
		if res.ActualProfit != nil {
			fmt.Fprintf(&b, "Realised: $%s\n", amm.ToDecimal(res.ActualProfit).StringFixed(2))
		}
		return "Arbitrage executed", strings.TrimRight(b.String(), "\n")
	}
	fmt.Fprintf(&b, "Error: %s\n", res.Cause())
	return "Arbitrage failed", strings.TrimRight(b.String(), "\n")
}

// BusHistory reads recent execution events back from a bus that keeps
// history.
type BusHistory struct {
	H Historian
}

// RecentExecutions decodes the latest n execution events, newest first.
// Undecodable payloads are skipped.
func (bh BusHistory) RecentExecutions(ctx context.Context, n int) ([]domain.ExecutionEvent, error) {
	raw, err := bh.H.Recent(ctx, domain.ExecutionsChannel, n)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ExecutionEvent, 0, len(raw))
	for _, r := range raw {
		var ev domain.ExecutionEvent
		if json.Unmarshal(r, &ev) == nil {
			out = append(out, ev)
		}
	}
	return out, nil
}
