package state

import (
	"math"
	"sync"
	"testing"

	"github.com/danmuck/gema/internal/testutil/testlog"
)

func TestCellApplyDeltaReturnsNewValue(t *testing.T) {
	testlog.Start(t)
	c := NewCell()
	if got := c.ApplyDelta(5); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	if got := c.ApplyDelta(1); got != 6 {
		t.Fatalf("expected 6, got %d", got)
	}
	if got := c.ApplyDelta(-10); got != -4 {
		t.Fatalf("expected -4, got %d", got)
	}
	if got := c.Read(); got != -4 {
		t.Fatalf("unexpected read: %d", got)
	}
}

func TestCellConcurrentDeltasSum(t *testing.T) {
	testlog.Start(t)
	c := NewCell()
	const workers = 32
	const perWorker = 500

	var wg sync.WaitGroup
	var want int64
	for w := 0; w < workers; w++ {
		by := int64(w%7) - 2
		want += by * perWorker
		wg.Add(1)
		go func(by int64) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				c.ApplyDelta(by)
			}
		}(by)
	}
	wg.Wait()

	if got := c.Read(); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestCellOverflowWraps(t *testing.T) {
	testlog.Start(t)
	c := NewCell()
	c.Store(math.MaxInt64)
	if got := c.ApplyDelta(1); got != math.MinInt64 {
		t.Fatalf("expected wrap to MinInt64, got %d", got)
	}
}

func TestCellStore(t *testing.T) {
	testlog.Start(t)
	c := NewCell()
	c.Store(42)
	if got := c.ApplyDelta(1); got != 43 {
		t.Fatalf("expected 43, got %d", got)
	}
}

func TestTableGetDefaultsWithoutInserting(t *testing.T) {
	testlog.Start(t)
	tb := NewTable()
	if got := tb.Get("endpoint_x", 100); got != 100 {
		t.Fatalf("expected default, got %d", got)
	}
	if _, ok := tb.Lookup("endpoint_x"); ok {
		t.Fatalf("get must not insert")
	}
	if keys := tb.Keys(); len(keys) != 0 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestTableKeysAreTrimmedConsistently(t *testing.T) {
	testlog.Start(t)
	tb := NewTable()
	tb.Set("b", 2)
	tb.Set(" a ", 5)
	tb.Set("  ", 9)

	if got := tb.Get("a", 100); got != 5 {
		t.Fatalf("expected 5 for trimmed key, got %d", got)
	}
	if got := tb.Get(" a", 100); got != 5 {
		t.Fatalf("expected 5 for padded lookup, got %d", got)
	}
	if v, ok := tb.Lookup("b "); !ok || v != 2 {
		t.Fatalf("expected b=2, got %d,%v", v, ok)
	}
	tb.Set("b", 3)
	keys := tb.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("unexpected keys: %v", keys)
	}
	if got := tb.Get("b", 100); got != 3 {
		t.Fatalf("expected overwrite to 3, got %d", got)
	}
}
