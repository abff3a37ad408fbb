package fetchguard

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time { return f.t }

func TestTryAcquireTwice(t *testing.T) {
	g := New("state", time.Hour)

	if _, ok := g.TryAcquire(context.Background()); !ok {
		t.Fatal("Expected first acquire to succeed")
	}
	if _, ok := g.TryAcquire(context.Background()); ok {
		t.Error("Expected second acquire to be denied")
	}
	if !g.Locked() {
		t.Error("Expected guard locked")
	}
}

func TestReleaseOpensGuard(t *testing.T) {
	g := New("state", time.Hour)

	lease, _ := g.TryAcquire(context.Background())
	if !lease.Release() {
		t.Error("Expected release of current lease to report true")
	}
	if lease.Context().Err() == nil {
		t.Error("Expected lease context cancelled after release")
	}
	if _, ok := g.TryAcquire(context.Background()); !ok {
		t.Error("Expected acquire after release to succeed")
	}
}

func TestRecoveryReopensGuard(t *testing.T) {
	fc := &fakeClock{t: time.Unix(0, 0)}
	var aborts int32
	g := New("state", time.Hour, WithNow(fc.Now), WithAbortHandler(func(string) {
		atomic.AddInt32(&aborts, 1)
	}))

	first, _ := g.TryAcquire(context.Background())

	fc.t = fc.t.Add(59 * time.Minute)
	if _, ok := g.TryAcquire(context.Background()); ok {
		t.Fatal("Expected acquire inside recovery window to be denied")
	}

	fc.t = fc.t.Add(time.Minute)
	second, ok := g.TryAcquire(context.Background())
	if !ok {
		t.Fatal("Expected acquire after recovery to succeed")
	}
	if first.Context().Err() == nil {
		t.Error("Expected stalled lease to be aborted")
	}
	if atomic.LoadInt32(&aborts) != 1 {
		t.Errorf("Expected 1 abort notification, got %d", aborts)
	}

	if first.Release() {
		t.Error("Expected release of superseded lease to report false")
	}
	if !g.Locked() {
		t.Error("Expected stale release to leave the new lease in place")
	}
	if !second.Release() {
		t.Error("Expected release of current lease to report true")
	}
}

func TestAutoReleaseTimer(t *testing.T) {
	aborted := make(chan string, 1)
	g := New("activity", 20*time.Millisecond, WithAbortHandler(func(name string) {
		aborted <- name
	}))

	lease, _ := g.TryAcquire(context.Background())

	select {
	case name := <-aborted:
		if name != "activity" {
			t.Errorf("Expected guard name activity, got %s", name)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected auto-release to fire")
	}

	if lease.Context().Err() == nil {
		t.Error("Expected lease context cancelled by auto-release")
	}
	if _, ok := g.TryAcquire(context.Background()); !ok {
		t.Error("Expected acquire after auto-release to succeed")
	}
}
