package gateway

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/blevesearch/bleve"
)

// warmNoteDoc is what gets indexed into bleve for BM25 lookups over archived
// notes; the vector itself lives in the in-memory slice below since bleve
// v1 has no native ANN support, mirroring the teacher's session_object
// fusion design repurposed for cross-job warm-start (spec.md's
// supplemented warm-notes feature) instead of per-session ingestion.
type warmNoteDoc struct {
	Text string `json:"text"`
}

type warmVector struct {
	id     string
	vector []float32
}

// BleveVectorStore persists embedded text across jobs so a new job can
// retrieve relevant notes from prior runs before planning its own steps.
type BleveVectorStore struct {
	mu      sync.RWMutex
	index   bleve.Index
	vectors []warmVector
	meta    map[string]map[string]string
}

// NewBleveVectorStore opens (or creates) a bleve index at path. An empty
// path builds an in-memory-only index, useful for tests.
func NewBleveVectorStore(path string) (*BleveVectorStore, error) {
	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(bleve.NewIndexMapping())
	} else {
		idx, err = bleve.Open(path)
		if err != nil {
			idx, err = bleve.New(path, bleve.NewIndexMapping())
		}
	}
	if err != nil {
		return nil, err
	}
	return &BleveVectorStore{index: idx, meta: map[string]map[string]string{}}, nil
}

// Index implements gateway.VectorStore.
func (b *BleveVectorStore) Index(ctx context.Context, id, text string, vector []float32, metadata map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.index.Index(id, warmNoteDoc{Text: text}); err != nil {
		return err
	}
	b.vectors = append(b.vectors, warmVector{id: id, vector: vector})
	b.meta[id] = metadata
	return nil
}

// Query implements gateway.VectorStore, ranking every indexed vector by
// cosine similarity against the query vector.
func (b *BleveVectorStore) Query(ctx context.Context, vector []float32, k int) ([]VectorHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	type scored struct {
		id    string
		score float64
	}
	scoreds := make([]scored, 0, len(b.vectors))
	for _, v := range b.vectors {
		scoreds = append(scoreds, scored{id: v.id, score: cosineSimilarity(vector, v.vector)})
	}
	sort.Slice(scoreds, func(i, j int) bool { return scoreds[i].score > scoreds[j].score })

	if k <= 0 || k > len(scoreds) {
		k = len(scoreds)
	}
	out := make([]VectorHit, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, VectorHit{ID: scoreds[i].id, Score: scoreds[i].score})
	}
	return out, nil
}

// Metadata returns the metadata attached to a previously indexed vector.
func (b *BleveVectorStore) Metadata(id string) map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.meta[id]
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var _ VectorStore = (*BleveVectorStore)(nil)
