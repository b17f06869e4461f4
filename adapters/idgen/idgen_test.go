package idgen_test

import (
	"regexp"
	"sort"
	"sync"
	"testing"

	"github.com/artpar/apikit/adapters/idgen"
)

func TestUUID_New(t *testing.T) {
	id := idgen.UUID{}.New()

	// UUID v4 format: 8-4-4-4-12 hex chars
	uuidRegex := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	if !uuidRegex.MatchString(id) {
		t.Errorf("ID %s doesn't match UUID v4 format", id)
	}
}

func TestRequestID_New(t *testing.T) {
	g := idgen.RequestID{}

	v7 := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	ids := make([]string, 0, 100)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := g.New()
		if !v7.MatchString(id) {
			t.Fatalf("ID %s doesn't match UUID v7 format", id)
		}
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
		ids = append(ids, id)
	}

	if !sort.StringsAreSorted(ids) {
		t.Error("request IDs should sort by creation order")
	}
}

func TestSequential_New(t *testing.T) {
	tests := []struct {
		prefix string
		want   []string
	}{
		{"test_", []string{"test_1", "test_2", "test_3"}},
		{"", []string{"1", "2", "3"}},
	}

	for _, tt := range tests {
		g := idgen.NewSequential(tt.prefix)
		for i, want := range tt.want {
			if got := g.New(); got != want {
				t.Errorf("prefix %q call %d = %s, want %s", tt.prefix, i, got, want)
			}
		}
	}
}

func TestSequential_Reset(t *testing.T) {
	g := idgen.NewSequential("id_")

	g.New()
	g.New()
	g.Reset()

	if id := g.New(); id != "id_1" {
		t.Errorf("after reset ID = %s, want id_1", id)
	}
}

func TestSequential_ConcurrentAccess(t *testing.T) {
	g := idgen.NewSequential("c_")

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := g.New()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 1000 {
		t.Errorf("expected 1000 unique IDs, got %d", len(seen))
	}
}
