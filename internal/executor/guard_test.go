package executor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGuardRejectsSecondEntry(t *testing.T) {
	g := NewGuard()
	release, ok := g.TryEnter()
	if !ok {
		t.Fatal("first TryEnter should succeed")
	}
	if !g.Executing() {
		t.Fatal("Executing should be true while held")
	}
	if _, ok := g.TryEnter(); ok {
		t.Fatal("second TryEnter should fail while held")
	}
	release()
	if g.Executing() {
		t.Fatal("Executing should be false after release")
	}
	if _, ok := g.TryEnter(); !ok {
		t.Fatal("TryEnter should succeed after release")
	}
}

func TestGuardReleaseIsIdempotent(t *testing.T) {
	g := NewGuard()
	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	g.now = func() time.Time { return stamp }

	release, _ := g.TryEnter()
	release()
	next, ok := g.TryEnter()
	if !ok {
		t.Fatal("TryEnter after release failed")
	}
	// A stale release must not free the new holder.
	release()
	if !g.Executing() {
		t.Fatal("stale release cleared a newer execution")
	}
	next()
	if got := g.LastExecution(); !got.Equal(stamp) {
		t.Fatalf("LastExecution = %v, want %v", got, stamp)
	}
}

func TestGuardSingleFlightUnderContention(t *testing.T) {
	g := NewGuard()
	const workers = 64

	var (
		admitted int32
		inside   int32
		wg       sync.WaitGroup
		start    = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			release, ok := g.TryEnter()
			if !ok {
				return
			}
			defer release()
			atomic.AddInt32(&admitted, 1)
			if n := atomic.AddInt32(&inside, 1); n != 1 {
				t.Errorf("%d executions in flight", n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	close(start)
	wg.Wait()

	if admitted < 1 {
		t.Fatal("no worker was admitted")
	}
	if g.Executing() {
		t.Fatal("guard still held after all workers finished")
	}
}
