package store

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/coder/hnsw"
)

// VectorIndex is the HNSW nearest-neighbor index over chunk embeddings.
// It is a derived index: contents are rebuilt from SQLite when the
// on-disk graph is missing or out of date.
type VectorIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	dims  int

	// chunk ID <-> internal graph key
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

type vectorMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Dims    int
}

// NewVectorIndex creates an empty index for vectors of the given
// dimension.
func NewVectorIndex(dims int) *VectorIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &VectorIndex{
		graph:  graph,
		dims:   dims,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// Add inserts chunk vectors. Existing IDs are replaced via lazy
// deletion: the old node stays in the graph but is dropped from the
// mappings and filtered out of results.
func (v *VectorIndex) Add(chunkIDs []string, vectors [][]float32) error {
	if len(chunkIDs) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(chunkIDs), len(vectors))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for i, id := range chunkIDs {
		if len(vectors[i]) != v.dims {
			return fmt.Errorf("vector for %s has %d dims, index expects %d", id, len(vectors[i]), v.dims)
		}

		if oldKey, exists := v.idMap[id]; exists {
			delete(v.keyMap, oldKey)
			delete(v.idMap, id)
		}

		key := v.nextKey
		v.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		v.graph.Add(hnsw.MakeNode(key, vec))
		v.idMap[id] = key
		v.keyMap[key] = id
	}
	return nil
}

// Search returns the k nearest chunks to the query vector. Lazily
// deleted nodes are filtered, so fewer than k results may return even
// on a large index.
func (v *VectorIndex) Search(query []float32, k int) ([]*VectorResult, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(query) != v.dims {
		return nil, fmt.Errorf("query has %d dims, index expects %d", len(query), v.dims)
	}
	if v.graph.Len() == 0 {
		return nil, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	// Over-fetch to compensate for lazily deleted nodes still in the
	// graph.
	orphans := v.graph.Len() - len(v.idMap)
	nodes := v.graph.Search(normalized, k+orphans)

	results := make([]*VectorResult, 0, k)
	for _, node := range nodes {
		id, ok := v.keyMap[node.Key]
		if !ok {
			continue
		}
		results = append(results, &VectorResult{
			ChunkID:  id,
			Distance: v.graph.Distance(normalized, node.Value),
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Delete removes chunks from the index (lazy deletion).
func (v *VectorIndex) Delete(chunkIDs []string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, id := range chunkIDs {
		if key, exists := v.idMap[id]; exists {
			delete(v.keyMap, key)
			delete(v.idMap, id)
		}
	}
}

// Contains reports whether a chunk is indexed.
func (v *VectorIndex) Contains(chunkID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.idMap[chunkID]
	return ok
}

// Count returns the number of live vectors.
func (v *VectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idMap)
}

// Save persists the graph and ID mappings to path and path+".meta".
func (v *VectorIndex) Save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := v.graph.Export(w); err != nil {
		return fmt.Errorf("export graph: %w", err)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	meta, err := os.Create(path + ".meta")
	if err != nil {
		return err
	}
	defer meta.Close()

	return gob.NewEncoder(meta).Encode(vectorMetadata{
		IDMap:   v.idMap,
		NextKey: v.nextKey,
		Dims:    v.dims,
	})
}

// Load restores a saved index. Returns os.ErrNotExist when no saved
// graph is present.
func (v *VectorIndex) Load(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := v.graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	meta, err := os.Open(path + ".meta")
	if err != nil {
		return err
	}
	defer meta.Close()

	var md vectorMetadata
	if err := gob.NewDecoder(meta).Decode(&md); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}

	v.idMap = md.IDMap
	v.nextKey = md.NextKey
	v.dims = md.Dims
	v.keyMap = make(map[uint64]string, len(md.IDMap))
	for id, key := range md.IDMap {
		v.keyMap[key] = id
	}
	return nil
}

func normalizeInPlace(vec []float32) {
	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
}
