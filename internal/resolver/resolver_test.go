package resolver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"semcache-gateway/internal/cache"
	"semcache-gateway/internal/provider"
	"semcache-gateway/internal/similarity"
	"semcache-gateway/internal/store"
	"semcache-gateway/internal/usage"
)

type fakeStore struct {
	mu        sync.Mutex
	records   []store.QARecord
	listErr   error
	insertErr error
	inserts   []store.QARecord
	marked    []int64
}

func (f *fakeStore) ListAll(_ context.Context) ([]store.QARecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]store.QARecord, len(f.records))
	copy(out, f.records)
	return out, nil
}

func (f *fakeStore) Insert(_ context.Context, question, answer string, embedding []float64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	id := int64(len(f.inserts) + 1)
	f.inserts = append(f.inserts, store.QARecord{ID: id, Question: question, Answer: answer, Embedding: embedding})
	return id, nil
}

func (f *fakeStore) MarkReused(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, id)
	for i := range f.records {
		if f.records[i].ID == id {
			f.records[i].Reused = true
		}
	}
	return nil
}

func (f *fakeStore) insertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserts)
}

type scriptedProvider struct {
	mu            sync.Mutex
	embedFn       func(text string) ([]float64, error)
	completeFn    func(text string) (string, error)
	embedCalls    int
	completeCalls int
}

func (p *scriptedProvider) Embed(_ context.Context, text string) ([]float64, error) {
	p.mu.Lock()
	p.embedCalls++
	p.mu.Unlock()
	if p.embedFn != nil {
		return p.embedFn(text)
	}
	return []float64{1, 0}, nil
}

func (p *scriptedProvider) Complete(_ context.Context, text string) (string, error) {
	p.mu.Lock()
	p.completeCalls++
	p.mu.Unlock()
	if p.completeFn != nil {
		return p.completeFn(text)
	}
	return "generated answer", nil
}

func (p *scriptedProvider) calls() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.embedCalls, p.completeCalls
}

// brokenCache simulates a cache-tier outage.
type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache unreachable")
}

func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache unreachable")
}

func vecWithSimilarity(sim float64) []float64 {
	return []float64{sim, math.Sqrt(1 - sim*sim)}
}

func newTestResolver(c cache.ExactCache, st *fakeStore, p provider.Provider) (*Resolver, *usage.Collector) {
	collector := usage.NewCollector()
	engine := similarity.NewEngine(st, nil)
	r := New(Config{Threshold: 0.8}, c, st, engine, p, collector)
	return r, collector
}

func TestResolveEmptyTextRejected(t *testing.T) {
	c := cache.NewMemoryExactCache(time.Minute)
	t.Cleanup(func() { c.Close() })

	r, _ := newTestResolver(c, &fakeStore{}, &scriptedProvider{})

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := r.Resolve(context.Background(), text)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("text %q: expected ErrInvalidInput, got %v", text, err)
		}
	}
}

func TestResolveFallbackOnEmptyStore(t *testing.T) {
	c := cache.NewMemoryExactCache(time.Minute)
	t.Cleanup(func() { c.Close() })

	st := &fakeStore{}
	p := &scriptedProvider{}
	r, collector := newTestResolver(c, st, p)

	res, err := r.Resolve(context.Background(), "What is X?")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if res.Source != SourceComputed {
		t.Fatalf("expected source %q, got %q", SourceComputed, res.Source)
	}
	if res.Question != "What is X?" || res.Answer != "generated answer" {
		t.Fatalf("unexpected resolution: %+v", res)
	}

	// New record persisted with the query's embedding.
	if st.insertCount() != 1 {
		t.Fatalf("expected one persisted record, got %d", st.insertCount())
	}
	if st.inserts[0].Question != "What is X?" {
		t.Fatalf("persisted wrong question: %q", st.inserts[0].Question)
	}

	// Cache populated under the original key.
	key := cache.BuildQueryKey("What is X?").String()
	if _, hit, _ := c.Get(context.Background(), key); !hit {
		t.Fatalf("expected cache populated after fallback")
	}

	snap := collector.Snapshot()
	if snap.TotalRequests != 1 || snap.FallbackCount != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
}

func TestResolveExactCacheIdempotence(t *testing.T) {
	c := cache.NewMemoryExactCache(time.Minute)
	t.Cleanup(func() { c.Close() })

	st := &fakeStore{}
	p := &scriptedProvider{}
	r, collector := newTestResolver(c, st, p)

	first, err := r.Resolve(context.Background(), "same question")
	if err != nil {
		t.Fatalf("first Resolve failed: %v", err)
	}
	if first.Source != SourceComputed {
		t.Fatalf("first call should compute, got %q", first.Source)
	}

	second, err := r.Resolve(context.Background(), "same question")
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if second.Source != SourceCache {
		t.Fatalf("second call should hit cache, got %q", second.Source)
	}
	if second.Answer != first.Answer {
		t.Fatalf("cached answer diverged: %q vs %q", second.Answer, first.Answer)
	}

	embeds, completes := p.calls()
	if embeds != 1 || completes != 1 {
		t.Fatalf("provider should be called once, got embed=%d complete=%d", embeds, completes)
	}

	snap := collector.Snapshot()
	if snap.TotalRequests != 2 || snap.CacheHits != 1 || snap.FallbackCount != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	if snap.ReuseRate != 0.5 {
		t.Fatalf("expected reuse rate 0.5, got %v", snap.ReuseRate)
	}
}

func TestResolveSimilarityHit(t *testing.T) {
	c := cache.NewMemoryExactCache(time.Minute)
	t.Cleanup(func() { c.Close() })

	st := &fakeStore{records: []store.QARecord{
		{ID: 1, Question: "Q1", Answer: "A1", Embedding: []float64{1, 0}},
	}}
	// Query vector with cosine similarity 0.95 to the stored V1.
	p := &scriptedProvider{
		embedFn: func(string) ([]float64, error) { return vecWithSimilarity(0.95), nil },
	}
	r, collector := newTestResolver(c, st, p)

	res, err := r.Resolve(context.Background(), "a rephrased Q1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if res.Source != SourceStore {
		t.Fatalf("expected source %q, got %q", SourceStore, res.Source)
	}
	if res.Question != "Q1" || res.Answer != "A1" {
		t.Fatalf("expected the stored pair, got %+v", res)
	}
	if res.Similarity == nil || math.Abs(*res.Similarity-0.95) > 1e-9 {
		t.Fatalf("expected similarity ≈ 0.95, got %v", res.Similarity)
	}

	// Matched record marked reused.
	if !st.records[0].Reused {
		t.Fatalf("expected Q1's reused flag set")
	}

	// Cache populated under the ORIGINAL query's key, not Q1's.
	key := cache.BuildQueryKey("a rephrased Q1").String()
	raw, hit, _ := c.Get(context.Background(), key)
	if !hit {
		t.Fatalf("expected cache populated under original query key")
	}
	if string(raw) == "" {
		t.Fatalf("empty cache entry")
	}

	// No new record persisted, no completion paid for.
	if st.insertCount() != 0 {
		t.Fatalf("similarity hit must not persist a new record")
	}
	if _, completes := p.calls(); completes != 0 {
		t.Fatalf("similarity hit must not call the completion model")
	}

	snap := collector.Snapshot()
	if snap.StoreHits != 1 || snap.FallbackCount != 0 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
}

func TestResolveCacheOutageDegrades(t *testing.T) {
	st := &fakeStore{}
	p := &scriptedProvider{}
	r, _ := newTestResolver(brokenCache{}, st, p)

	res, err := r.Resolve(context.Background(), "still answerable?")
	if err != nil {
		t.Fatalf("cache outage must not fail the resolution: %v", err)
	}
	if res.Source != SourceComputed {
		t.Fatalf("expected fallback resolution, got %q", res.Source)
	}
}

func TestResolveStoreOutageDegrades(t *testing.T) {
	c := cache.NewMemoryExactCache(time.Minute)
	t.Cleanup(func() { c.Close() })

	st := &fakeStore{listErr: errors.New("connection refused")}
	p := &scriptedProvider{}
	r, _ := newTestResolver(c, st, p)

	res, err := r.Resolve(context.Background(), "question")
	if err != nil {
		t.Fatalf("store outage must not fail the resolution: %v", err)
	}
	if res.Source != SourceComputed {
		t.Fatalf("expected fallback resolution, got %q", res.Source)
	}
}

func TestResolveProviderErrorsSurface(t *testing.T) {
	c := cache.NewMemoryExactCache(time.Minute)
	t.Cleanup(func() { c.Close() })

	st := &fakeStore{}
	p := &scriptedProvider{
		completeFn: func(string) (string, error) {
			return "", fmt.Errorf("%w: upstream 429", provider.ErrRateLimited)
		},
	}
	r, _ := newTestResolver(c, st, p)

	_, err := r.Resolve(context.Background(), "throttled question")
	if !errors.Is(err, provider.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// Nothing persisted on provider failure.
	if st.insertCount() != 0 {
		t.Fatalf("no partial state may be persisted, got %d inserts", st.insertCount())
	}
}

func TestResolvePersistFailureKeepsAnswer(t *testing.T) {
	c := cache.NewMemoryExactCache(time.Minute)
	t.Cleanup(func() { c.Close() })

	st := &fakeStore{insertErr: errors.New("disk full")}
	p := &scriptedProvider{}
	r, _ := newTestResolver(c, st, p)

	res, err := r.Resolve(context.Background(), "worth keeping")
	if err != nil {
		t.Fatalf("persist failure must not discard the answer: %v", err)
	}
	if res.Answer != "generated answer" {
		t.Fatalf("expected the computed answer, got %q", res.Answer)
	}
}

func TestResolveCollapsesConcurrentIdenticalMisses(t *testing.T) {
	c := cache.NewMemoryExactCache(time.Minute)
	t.Cleanup(func() { c.Close() })

	release := make(chan struct{})
	st := &fakeStore{}
	p := &scriptedProvider{
		completeFn: func(string) (string, error) {
			<-release
			return "expensive answer", nil
		},
	}
	r, collector := newTestResolver(c, st, p)

	const n = 5
	var wg sync.WaitGroup
	results := make([]*Resolution, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Resolve(context.Background(), "hot question")
		}(i)
	}

	// Let all goroutines reach the in-flight group before the leader
	// finishes its computation.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d failed: %v", i, errs[i])
		}
		if results[i].Answer != "expensive answer" {
			t.Fatalf("request %d got wrong answer: %q", i, results[i].Answer)
		}
	}

	if _, completes := p.calls(); completes != 1 {
		t.Fatalf("expected exactly one completion for %d concurrent identical requests, got %d", n, completes)
	}
	if st.insertCount() != 1 {
		t.Fatalf("expected exactly one persisted record, got %d", st.insertCount())
	}

	if snap := collector.Snapshot(); snap.TotalRequests != n {
		t.Fatalf("each request counts toward total: %+v", snap)
	}
}
