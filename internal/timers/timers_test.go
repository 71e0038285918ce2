package timers_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/open-ethernet/MLAG-sub002/internal/timers"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestOneShotFiresOnce(t *testing.T) {
	t.Parallel()

	var fired atomic.Int32
	var o timers.OneShot
	o.Start(10*time.Millisecond, func() { fired.Add(1) })

	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("fired = %d, want 1", got)
	}
}

// TestOneShotStopIsIdempotent covers spec property 7's timer half:
// repeated stop/no-fire calls while inactive leave no leaked callback.
func TestOneShotStopIsIdempotent(t *testing.T) {
	t.Parallel()

	var fired atomic.Int32
	var o timers.OneShot
	o.Start(20*time.Millisecond, func() { fired.Add(1) })
	o.Stop()
	o.Stop()
	o.Stop()

	time.Sleep(60 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Fatalf("fired = %d after Stop, want 0", got)
	}
}

func TestOneShotRestartReplacesPending(t *testing.T) {
	t.Parallel()

	var fired atomic.Int32
	var o timers.OneShot
	o.Start(200*time.Millisecond, func() { fired.Add(100) })
	o.Start(10*time.Millisecond, func() { fired.Add(1) })

	time.Sleep(260 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("fired = %d, want 1 (only the replacement should fire)", got)
	}
}

// TestBarrierStopBarrier covers spec property 8: stop returns within the
// bounded timeout whether or not every subsystem replies.
func TestBarrierStopBarrier(t *testing.T) {
	t.Parallel()

	b := timers.NewBarrier()
	const wantBits = 0b111

	go func() {
		b.Signal(0b001)
		b.Signal(0b010)
		// third bit never arrives
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	observed, complete := b.Wait(ctx, wantBits)
	if complete {
		t.Fatal("expected incomplete barrier (one bit missing)")
	}
	if observed&0b011 != 0b011 {
		t.Fatalf("observed = %b, want at least 0b011", observed)
	}
}

func TestBarrierCompletesEarly(t *testing.T) {
	t.Parallel()

	b := timers.NewBarrier()
	const wantBits = 0b11

	go func() {
		time.Sleep(5 * time.Millisecond)
		b.Signal(0b01)
		b.Signal(0b10)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	observed, complete := b.Wait(ctx, wantBits)
	if !complete {
		t.Fatal("expected barrier to complete")
	}
	if observed != wantBits {
		t.Fatalf("observed = %b, want %b", observed, wantBits)
	}
}

func TestBarrierResetAllowsReuse(t *testing.T) {
	t.Parallel()

	b := timers.NewBarrier()
	b.Signal(0b1)
	b.Reset()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, complete := b.Wait(ctx, 0b1)
	if complete {
		t.Fatal("expected incomplete barrier after Reset")
	}
}
