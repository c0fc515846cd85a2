package symnet_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/studiokoppel/onair/symnet"
)

func TestCommandStats_String_NoSamples_DoesNotPanic(t *testing.T) {
	cs := symnet.NewCommandStats("GS2")

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("String() panicked with no samples: %v", r)
		}
	}()

	s := cs.String()
	if !strings.HasPrefix(s, "GS2: n=0") {
		t.Fatal("unexpected report", s)
	}
}

func TestCommandStats_String_OneSample(t *testing.T) {
	cs := symnet.NewCommandStats("CS")
	cs.Observe(time.Millisecond * 314)
	s := cs.String()
	for _, v := range []string{"n=1", "min=314ms", "mean=314ms", "max=314ms"} {
		if !strings.Contains(s, v) {
			t.Fatal("String() did not include", v, "\n", s)
		}
	}
}

func TestCommandStats_String_TwoSamples(t *testing.T) {
	cs := symnet.NewCommandStats("CS")
	cs.Observe(time.Millisecond * 100)
	cs.Observe(time.Millisecond * 300)
	s := cs.String()
	for _, v := range []string{"n=2", "min=100ms", "mean=200ms", "max=300ms"} {
		if !strings.Contains(s, v) {
			t.Fatal("String() did not include", v, "\n", s)
		}
	}
}

func TestCommandStats_ConcurrentObserve(t *testing.T) {
	cs := symnet.NewCommandStats("GS2")

	const n = 1000
	var wg sync.WaitGroup
	wg.Add(n)

	for range n {
		go func() {
			defer wg.Done()
			cs.Observe(time.Millisecond)
		}()
	}

	wg.Wait()

	s := cs.String()
	for _, v := range []string{"n=1000", "min=1ms", "mean=1ms", "max=1ms"} {
		if !strings.Contains(s, v) {
			t.Fatal("String() did not include", v, "\n", s)
		}
	}
}
