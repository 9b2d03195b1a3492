package generator_test

import (
	"regexp"
	"sync"
	"testing"

	"github.com/glizzus/delay-relay/internal/generator"
)

func TestUUIDV4Generator_Next_Concurrent(t *testing.T) {
	regex := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	gen := generator.UUIDV4Generator{}

	var mu sync.Mutex
	seen := make(map[string]struct{})

	total := 100000
	concurrency := 10
	batchSize := total / concurrency

	var wg sync.WaitGroup
	wg.Add(concurrency)

	for range concurrency {
		go func() {
			defer wg.Done()
			for range batchSize {
				id, err := gen.Next()
				if err != nil {
					t.Error("expected no error, got:", err)
					return
				}
				mu.Lock()
				if _, ok := seen[id]; ok {
					mu.Unlock()
					t.Errorf("expected a unique ID, got duplicate: %s", id)
					return
				}
				seen[id] = struct{}{}
				mu.Unlock()

				if !regex.MatchString(id) {
					t.Errorf("expected valid UUID format, got %s", id)
					return
				}
			}
		}()
	}

	wg.Wait()
}

func TestSuffixGenerator(t *testing.T) {
	gen := &generator.SuffixGenerator{Base: "Mimic-Alice"}
	want := []string{"Mimic-Alice", "Mimic-Alice0", "Mimic-Alice1", "Mimic-Alice2"}
	for i, w := range want {
		got, err := gen.Next()
		if err != nil {
			t.Fatalf("Next() #%d error = %v", i, err)
		}
		if got != w {
			t.Errorf("Next() #%d = %q, want %q", i, got, w)
		}
	}
}

func TestFirstUnused(t *testing.T) {
	taken := map[string]bool{"Echo": true, "Echo0": true}
	isTaken := func(s string) bool { return taken[s] }

	got, err := generator.FirstUnused(&generator.SuffixGenerator{Base: "Echo"}, isTaken, 10)
	if err != nil {
		t.Fatalf("FirstUnused() error = %v", err)
	}
	if got != "Echo1" {
		t.Errorf("FirstUnused() = %q, want Echo1", got)
	}

	if _, err := generator.FirstUnused(&generator.SuffixGenerator{Base: "Echo"}, isTaken, 2); err == nil {
		t.Error("FirstUnused() with too few attempts succeeded")
	}
}
