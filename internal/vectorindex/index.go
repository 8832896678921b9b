// Package vectorindex wraps a usearch HNSW index into a file-backed vector
// store: add/remove/search embeddings by uint64 key, with atomic persistence
// and approximate-search heuristics tuned for small on-device indexes.
package vectorindex

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	usearch "github.com/unum-cloud/usearch/golang"

	"github.com/ente-io/ml-core/internal/mlerr"
	"github.com/ente-io/ml-core/internal/observability"
)

// fastSearchStepCounts is the expanding candidate-count ladder
// FastSearchWithinDistance climbs until it finds a count whose furthest
// returned match is already outside the requested max distance, or it runs
// out of index to search.
var fastSearchStepCounts = []uint{200, 500, 2000, 5000, 10000}

var saveTempCounter atomic.Uint64

const keysSidecarSuffix = ".keys.json"

// Match is a single (key, distance) search result. Distance is
// inner-product distance (1 - cosine similarity for L2-normalized
// embeddings), so smaller is closer.
type Match struct {
	Key      uint64
	Distance float32
}

// Index is a file-backed approximate nearest-neighbor index over L2-
// normalized embedding vectors, keyed by uint64.
//
// The usearch Go binding exposes no way to enumerate the keys already
// stored in an index, which the brute-force exact/filtered search paths
// below need. keys mirrors the binding's key set on the Go side and is
// persisted as a JSON sidecar file next to the index file itself, kept in
// sync with every Add/Remove/Reset.
type Index struct {
	mu         sync.RWMutex
	index      *usearch.Index
	path       string
	dimensions uint
	keys       map[uint64]struct{}
}

func keysSidecarPath(indexPath string) string {
	return indexPath + keysSidecarSuffix
}

// NewVectorIndex opens the index file at path, creating it if it doesn't
// already exist, sized for the given embedding dimensionality.
func NewVectorIndex(path string, dimensions uint) (*Index, error) {
	_, statErr := os.Stat(path)
	fileExists := statErr == nil

	conf := usearch.DefaultConfig(dimensions)
	conf.Metric = usearch.InnerProduct
	conf.Quantization = usearch.F32

	idx, err := usearch.NewIndex(conf)
	if err != nil {
		return nil, mlerr.Runtime("create vector index: %v", err)
	}

	vi := &Index{index: idx, path: path, dimensions: dimensions, keys: make(map[uint64]struct{})}

	if fileExists {
		if err := idx.Load(path); err != nil {
			idx.Destroy()
			return nil, mlerr.Runtime("load vector index from %q: %v", path, err)
		}
		if err := vi.loadKeysSidecar(); err != nil {
			idx.Destroy()
			return nil, err
		}
		return vi, nil
	}

	if err := idx.Reserve(1000); err != nil {
		idx.Destroy()
		return nil, mlerr.Runtime("reserve vector index capacity: %v", err)
	}
	if err := vi.saveLocked(); err != nil {
		idx.Destroy()
		return nil, err
	}
	return vi, nil
}

func (vi *Index) loadKeysSidecar() error {
	data, err := os.ReadFile(keysSidecarPath(vi.path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return mlerr.Runtime("read vector index key sidecar: %v", err)
	}
	var keys []uint64
	if err := json.Unmarshal(data, &keys); err != nil {
		return mlerr.Runtime("parse vector index key sidecar: %v", err)
	}
	for _, k := range keys {
		vi.keys[k] = struct{}{}
	}
	return nil
}

func (vi *Index) Close() error {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	if vi.index == nil {
		return nil
	}
	err := vi.index.Destroy()
	vi.index = nil
	return err
}

// saveLocked writes the index (and its key sidecar) to unique temp files
// and renames them over the destinations, so a crash or app suspension
// mid-write never leaves a partially-written index behind. Caller must
// hold vi.mu.
func (vi *Index) saveLocked() error {
	if dir := filepath.Dir(vi.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return mlerr.Runtime("create vector index directory %q: %v", dir, err)
		}
	}

	seq := saveTempCounter.Add(1)
	tempSuffix := fmt.Sprintf(".tmp.%d.%d", os.Getpid(), seq)

	indexTemp := vi.path + tempSuffix
	if err := vi.index.Save(indexTemp); err != nil {
		os.Remove(indexTemp)
		return mlerr.Runtime("save vector index to temp file %q: %v", indexTemp, err)
	}
	if err := os.Rename(indexTemp, vi.path); err != nil {
		os.Remove(indexTemp)
		return mlerr.Runtime("atomically rename vector index %q into place: %v", indexTemp, err)
	}

	keys := make([]uint64, 0, len(vi.keys))
	for k := range vi.keys {
		keys = append(keys, k)
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return mlerr.Runtime("encode vector index key sidecar: %v", err)
	}
	sidecarPath := keysSidecarPath(vi.path)
	sidecarTemp := sidecarPath + tempSuffix
	if err := os.WriteFile(sidecarTemp, data, 0o644); err != nil {
		os.Remove(sidecarTemp)
		return mlerr.Runtime("write vector index key sidecar: %v", err)
	}
	if err := os.Rename(sidecarTemp, sidecarPath); err != nil {
		os.Remove(sidecarTemp)
		return mlerr.Runtime("atomically rename vector index key sidecar into place: %v", err)
	}
	return nil
}

// Save persists the index to disk now; Add/Remove already do this after
// every mutation, so an explicit call is only needed for a clean shutdown.
func (vi *Index) Save() error {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	return vi.saveLocked()
}

func (vi *Index) ensureCapacityLocked(margin uint) error {
	size, err := vi.index.Len()
	if err != nil {
		return mlerr.Runtime("read vector index size: %v", err)
	}
	if err := vi.index.Reserve(size + margin + 1000); err != nil {
		return mlerr.Runtime("reserve vector index capacity: %v", err)
	}
	return nil
}

// Add inserts or replaces the vector at key, then persists the index.
func (vi *Index) Add(key uint64, vector []float32) error {
	if uint(len(vector)) != vi.dimensions {
		return mlerr.InvalidRequest("vector has %d dimensions, index expects %d", len(vector), vi.dimensions)
	}

	vi.mu.Lock()
	defer vi.mu.Unlock()

	if _, exists := vi.keys[key]; exists {
		if err := vi.index.Remove(key); err != nil {
			return mlerr.Runtime("remove existing vector for key %d before re-add: %v", key, err)
		}
	} else if err := vi.ensureCapacityLocked(1); err != nil {
		return err
	}

	if err := vi.index.Add(key, vector); err != nil {
		observability.VectorIndexOperations.WithLabelValues("add", "error").Inc()
		return mlerr.Runtime("add vector for key %d: %v", key, err)
	}
	vi.keys[key] = struct{}{}
	if err := vi.saveLocked(); err != nil {
		observability.VectorIndexOperations.WithLabelValues("add", "error").Inc()
		return err
	}
	observability.VectorIndexOperations.WithLabelValues("add", "ok").Inc()
	observability.VectorIndexSize.Set(float64(len(vi.keys)))
	return nil
}

// BulkAdd inserts or replaces many vectors in one locked pass, persisting
// once at the end rather than once per vector.
func (vi *Index) BulkAdd(keys []uint64, vectors [][]float32) error {
	if len(keys) != len(vectors) {
		return mlerr.InvalidRequest("key count %d does not match vector count %d", len(keys), len(vectors))
	}

	vi.mu.Lock()
	defer vi.mu.Unlock()

	if err := vi.ensureCapacityLocked(uint(len(keys))); err != nil {
		return err
	}

	for i, key := range keys {
		if uint(len(vectors[i])) != vi.dimensions {
			return mlerr.InvalidRequest("vector for key %d has %d dimensions, index expects %d", key, len(vectors[i]), vi.dimensions)
		}
		if _, exists := vi.keys[key]; exists {
			if err := vi.index.Remove(key); err != nil {
				return mlerr.Runtime("remove existing vector for key %d before bulk add: %v", key, err)
			}
		}
		if err := vi.index.Add(key, vectors[i]); err != nil {
			return mlerr.Runtime("bulk add vector for key %d: %v", key, err)
		}
		vi.keys[key] = struct{}{}
	}

	return vi.saveLocked()
}

// Search runs approximate nearest-neighbor search for the top count
// matches.
func (vi *Index) Search(query []float32, count uint) ([]Match, error) {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	return vi.searchLocked(query, count)
}

// ExactSearch brute-forces cosine distance against every stored vector, for
// callers that need a ground-truth comparison set (the usearch Go binding
// exposes no native exact-search call, unlike the underlying C++ library,
// so this path is a linear scan).
func (vi *Index) ExactSearch(query []float32, count uint) ([]Match, error) {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	return vi.exactSearchLocked(query, count)
}

func (vi *Index) searchLocked(query []float32, count uint) ([]Match, error) {
	keys, distances, err := vi.index.Search(query, count)
	if err != nil {
		observability.VectorIndexOperations.WithLabelValues("search", "error").Inc()
		return nil, mlerr.Runtime("search vector index: %v", err)
	}
	observability.VectorIndexOperations.WithLabelValues("search", "ok").Inc()
	return zipMatches(keys, distances), nil
}

// exactSearchLocked brute-forces every key currently in the index. Intended
// only for small indexes (on-device photo libraries, not server-scale
// corpora), matching the scale this package is built for.
func (vi *Index) exactSearchLocked(query []float32, count uint) ([]Match, error) {
	matches := make([]Match, 0, len(vi.keys))
	for key := range vi.keys {
		vec, err := vi.getLocked(key)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{Key: key, Distance: innerProductDistance(query, vec)})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if uint(len(matches)) > count {
		matches = matches[:count]
	}
	return matches, nil
}

// SearchWithinSimilarity runs FastSearchWithinDistance with max distance
// derived from the requested minimum cosine similarity (distance = 1 -
// similarity for inner-product space on normalized vectors).
func (vi *Index) SearchWithinSimilarity(query []float32, minimumSimilarity float32) ([]Match, error) {
	if !isFinite(minimumSimilarity) {
		return nil, nil
	}
	maxDistance := 1.0 - minimumSimilarity
	if !isFinite(maxDistance) || maxDistance < 0 {
		return nil, nil
	}
	return vi.FastSearchWithinDistance(query, maxDistance)
}

// FastSearchWithinDistance climbs fastSearchStepCounts while a step's
// furthest result still falls within maxDistance, stopping at the first step
// whose furthest result lies beyond it (meaning a wider search wouldn't
// surface anything else within range), or once the whole index has been
// searched.
// This avoids over-fetching on indexes far smaller than any individual step.
func (vi *Index) FastSearchWithinDistance(query []float32, maxDistance float32) ([]Match, error) {
	vi.mu.RLock()
	defer vi.mu.RUnlock()

	indexSize, err := vi.index.Len()
	if err != nil {
		return nil, mlerr.Runtime("read vector index size: %v", err)
	}
	if indexSize == 0 {
		return nil, nil
	}

	var previousCount uint
	for _, step := range fastSearchStepCounts {
		count := step
		if count > indexSize {
			count = indexSize
		}
		if count <= previousCount {
			continue
		}
		previousCount = count

		matches, err := vi.searchLocked(query, count)
		if err != nil {
			return nil, err
		}

		shouldExpand := count < indexSize && len(matches) > 0 && matches[len(matches)-1].Distance <= maxDistance
		if shouldExpand {
			continue
		}
		return truncateWithinDistance(matches, maxDistance), nil
	}

	if previousCount < indexSize {
		matches, err := vi.searchLocked(query, indexSize)
		if err != nil {
			return nil, err
		}
		return truncateWithinDistance(matches, maxDistance), nil
	}

	return nil, nil
}

// FilteredSearchWithinDistance restricts candidates to the keys in allowed.
// The usearch Go binding has no native filtered-search predicate callback,
// so this brute-forces distances against just the allowed subset rather
// than the whole index — still far cheaper than a full exact search
// whenever allowed is a small slice of the index.
func (vi *Index) FilteredSearchWithinDistance(query []float32, allowed map[uint64]bool, maxDistance float32, count uint) ([]Match, error) {
	vi.mu.RLock()
	defer vi.mu.RUnlock()

	if len(allowed) == 0 || count == 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(allowed))
	for key, ok := range allowed {
		if !ok {
			continue
		}
		if _, exists := vi.keys[key]; !exists {
			continue
		}
		vec, err := vi.getLocked(key)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{Key: key, Distance: innerProductDistance(query, vec)})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if uint(len(matches)) > count {
		matches = matches[:count]
	}
	return truncateWithinDistance(matches, maxDistance), nil
}

func truncateWithinDistance(matches []Match, maxDistance float32) []Match {
	keep := sort.Search(len(matches), func(i int) bool { return matches[i].Distance > maxDistance })
	return matches[:keep]
}

// Contains reports whether key has a stored vector.
func (vi *Index) Contains(key uint64) bool {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	_, exists := vi.keys[key]
	return exists
}

// Get returns the stored vector for key.
func (vi *Index) Get(key uint64) ([]float32, error) {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	if _, exists := vi.keys[key]; !exists {
		return nil, mlerr.InvalidRequest("no vector stored for key %d", key)
	}
	return vi.getLocked(key)
}

func (vi *Index) getLocked(key uint64) ([]float32, error) {
	vectors, err := vi.index.Get(key, 1)
	if err != nil {
		return nil, mlerr.Runtime("get vector for key %d: %v", key, err)
	}
	if len(vectors) == 0 {
		return nil, mlerr.InvalidRequest("no vector stored for key %d", key)
	}
	return vectors[0], nil
}

// BulkGet returns the stored vectors for any of keys that are present, plus
// the subset of keys actually found, in matching order.
func (vi *Index) BulkGet(keys []uint64) ([]uint64, [][]float32, error) {
	vi.mu.RLock()
	defer vi.mu.RUnlock()

	foundKeys := make([]uint64, 0, len(keys))
	vectors := make([][]float32, 0, len(keys))
	for _, key := range keys {
		if _, exists := vi.keys[key]; !exists {
			continue
		}
		vec, err := vi.getLocked(key)
		if err != nil {
			return nil, nil, err
		}
		foundKeys = append(foundKeys, key)
		vectors = append(vectors, vec)
	}
	return foundKeys, vectors, nil
}

// Remove deletes the vector at key, if present, then persists the index.
func (vi *Index) Remove(key uint64) error {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	if _, exists := vi.keys[key]; !exists {
		return nil
	}
	if err := vi.index.Remove(key); err != nil {
		observability.VectorIndexOperations.WithLabelValues("remove", "error").Inc()
		return mlerr.Runtime("remove vector for key %d: %v", key, err)
	}
	delete(vi.keys, key)
	if err := vi.saveLocked(); err != nil {
		observability.VectorIndexOperations.WithLabelValues("remove", "error").Inc()
		return err
	}
	observability.VectorIndexOperations.WithLabelValues("remove", "ok").Inc()
	observability.VectorIndexSize.Set(float64(len(vi.keys)))
	return nil
}

// BulkRemove deletes many keys in one locked pass, persisting once.
func (vi *Index) BulkRemove(keys []uint64) error {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	for _, key := range keys {
		if _, exists := vi.keys[key]; !exists {
			continue
		}
		if err := vi.index.Remove(key); err != nil {
			return mlerr.Runtime("bulk remove vector for key %d: %v", key, err)
		}
		delete(vi.keys, key)
	}
	return vi.saveLocked()
}

// Reset drops every stored vector, re-reserves initial capacity, and
// persists the now-empty index.
func (vi *Index) Reset() error {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	if err := vi.index.Reset(); err != nil {
		return mlerr.Runtime("reset vector index: %v", err)
	}
	if err := vi.index.Reserve(1000); err != nil {
		return mlerr.Runtime("reserve vector index capacity after reset: %v", err)
	}
	vi.keys = make(map[uint64]struct{})
	return vi.saveLocked()
}

// Stats reports the index's current size and dimensionality. Capacity,
// SerializedLength, MemoryUsage, ExpansionAdd and ExpansionSearch are not
// reported: the usearch Go binding doesn't expose accessors for them (only
// the underlying C++ library does), so they're left at their zero value
// rather than faked.
type Stats struct {
	Size             uint
	Dimensions       uint
	Capacity         uint
	SerializedLength uint
	MemoryUsage      uint
	ExpansionAdd     uint
	ExpansionSearch  uint
}

func (vi *Index) Stats() (Stats, error) {
	vi.mu.RLock()
	defer vi.mu.RUnlock()

	size, err := vi.index.Len()
	if err != nil {
		return Stats{}, mlerr.Runtime("read vector index size: %v", err)
	}
	return Stats{Size: size, Dimensions: vi.dimensions}, nil
}

func zipMatches(keys []uint64, distances []float32) []Match {
	n := len(keys)
	if len(distances) < n {
		n = len(distances)
	}
	matches := make([]Match, n)
	for i := 0; i < n; i++ {
		matches[i] = Match{Key: keys[i], Distance: distances[i]}
	}
	return matches
}

func innerProductDistance(a, b []float32) float32 {
	var dot float32
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	return 1 - dot
}

func isFinite(v float32) bool {
	return v == v && v > -1e38 && v < 1e38
}
