package idgen

import (
	"strings"
	"sync"
	"testing"
)

func TestNewSnowflakeRejectsInvalidWorker(t *testing.T) {
	if _, err := NewSnowflake(-1); err == nil {
		t.Fatal("expected error for negative worker id")
	}
	if _, err := NewSnowflake(maxWorkerID + 1); err == nil {
		t.Fatal("expected error for worker id overflow")
	}
}

func TestGenerateIsUniqueUnderConcurrency(t *testing.T) {
	s, err := NewSnowflake(7)
	if err != nil {
		t.Fatal(err)
	}

	const goroutines, perG = 8, 2000
	var mu sync.Mutex
	seen := make(map[int64]struct{}, goroutines*perG)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perG)
			for i := 0; i < perG; i++ {
				local = append(local, s.Generate())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != goroutines*perG {
		t.Fatalf("duplicate ids: got %d unique, want %d", len(seen), goroutines*perG)
	}
}

func TestGenerateNoPrefixes(t *testing.T) {
	cases := map[string]func() string{
		PrefixTransaction: GenerateTransactionNo,
		PrefixLedgerEntry: GenerateEntryNo,
		PrefixEvent:       GenerateEventKey,
	}
	for prefix, gen := range cases {
		no := gen()
		if !strings.HasPrefix(no, prefix) {
			t.Errorf("%q does not start with %q", no, prefix)
		}
		if len(no) != len(prefix)+14+10 {
			t.Errorf("%q has unexpected length %d", no, len(no))
		}
	}
}
