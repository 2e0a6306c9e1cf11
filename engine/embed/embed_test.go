package embed

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nexusmem/graphrag/engine/domain"
	"github.com/nexusmem/graphrag/engine/store/cache"
)

type fakeEmbedder struct {
	dims int
	err  error
	vec  []float32
	n    int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.n++
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.n++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

func newTestCache(t *testing.T) *cache.Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return cache.NewWithClient(client, "embed-test")
}

func TestEmbedCachesResult(t *testing.T) {
	embedder := &fakeEmbedder{dims: 3, vec: []float32{1, 2, 3}}
	c := New(embedder, newTestCache(t))
	ctx := context.Background()

	if _, err := c.Embed(ctx, "hello"); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if _, err := c.Embed(ctx, "hello"); err != nil {
		t.Fatalf("embed (cached): %v", err)
	}
	if embedder.n != 1 {
		t.Fatalf("expected backing embedder called once, got %d", embedder.n)
	}
}

func TestEmbedWithoutCache(t *testing.T) {
	embedder := &fakeEmbedder{dims: 3, vec: []float32{1, 2, 3}}
	c := New(embedder, nil)
	ctx := context.Background()

	if _, err := c.Embed(ctx, "hello"); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if _, err := c.Embed(ctx, "hello"); err != nil {
		t.Fatalf("embed again: %v", err)
	}
	if embedder.n != 2 {
		t.Fatalf("expected backing embedder called twice with no cache, got %d", embedder.n)
	}
}

func TestEmbedCircuitOpensAsEmbeddingDown(t *testing.T) {
	embedder := &fakeEmbedder{dims: 3, err: errors.New("backend unreachable")}
	c := New(embedder, nil)
	ctx := context.Background()

	for i := 0; i < breakerOpts.FailThreshold; i++ {
		if _, err := c.Embed(ctx, "fails"); err == nil {
			t.Fatal("expected error from failing embedder")
		}
	}

	_, err := c.Embed(ctx, "after trip")
	if !errors.Is(err, domain.ErrEmbeddingDown) {
		t.Fatalf("expected ErrEmbeddingDown once breaker trips, got %v", err)
	}
}

func TestEmbedBatchPartitionsCacheMisses(t *testing.T) {
	embedder := &fakeEmbedder{dims: 3, vec: []float32{1, 2, 3}}
	c := New(embedder, newTestCache(t))
	ctx := context.Background()

	if _, err := c.Embed(ctx, "one"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	embedder.n = 0

	vecs, err := c.EmbedBatch(ctx, []string{"one", "two", "three"})
	if err != nil {
		t.Fatalf("embed batch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	if embedder.n != 1 {
		t.Fatalf("expected one backing call for the two misses, got %d", embedder.n)
	}
}
