// Package membership implements the approximate membership filter used to
// suppress re-enqueue of already-seen URLs. It is a scalable Bloom filter:
// when the active filter's estimated fill crosses its capacity, a fresh
// filter is layered on top rather than growing the existing one in place
// (growing a Bloom filter's bit array invalidates its hash mapping).
package membership

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// GrowthMode selects how the target false-positive rate of each successive
// layer is chosen as the filter scales.
type GrowthMode int

const (
	// GrowthConstant keeps every new layer at the same target false-positive
	// rate as the first.
	GrowthConstant GrowthMode = iota
	// GrowthTightening tightens the false-positive rate of each new layer by
	// TighteningRatio, bounding the compounded false-positive rate of the
	// whole scalable filter as it grows (the standard scalable-Bloom-filter
	// technique).
	GrowthTightening
)

// Config parametrises the filter's initial layer and growth behaviour.
type Config struct {
	InitialCapacity uint
	TargetFP        float64
	Growth          GrowthMode
	// TighteningRatio is used only when Growth == GrowthTightening. A
	// typical value is 0.5; the default is applied when zero.
	TighteningRatio float64
}

// Filter is a scalable Bloom filter, safe for concurrent use. Reads
// (Contains) take the read lock; writes (Add) take the write lock, matching
// spec.md 4.2's "many concurrent readers, serialised writers" contract.
type Filter struct {
	mu     sync.RWMutex
	cfg    Config
	layers []*bloom.BloomFilter
	counts []uint // approximate number of adds per layer, for growth decisions
	full   bool   // set once growth has hit its ceiling; reported by Full
}

const defaultTighteningRatio = 0.5

// maxLayers bounds how many times the filter will scale before Full reports
// true and the filter keeps operating on its last layer (degraded false
// positive rate, never a false negative).
const maxLayers = 32

// New creates a scalable Bloom filter with the given parameters.
func New(cfg Config) *Filter {
	if cfg.InitialCapacity == 0 {
		cfg.InitialCapacity = 10000
	}
	if cfg.TargetFP <= 0 {
		cfg.TargetFP = 0.01
	}
	if cfg.TighteningRatio <= 0 {
		cfg.TighteningRatio = defaultTighteningRatio
	}

	f := &Filter{cfg: cfg}
	f.layers = append(f.layers, bloom.NewWithEstimates(cfg.InitialCapacity, cfg.TargetFP))
	f.counts = append(f.counts, 0)
	return f
}

// Add inserts u into the filter. Idempotent: adding an already-present URL
// is a no-op in effect (Contains still returns true).
func (f *Filter) Add(u string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b := []byte(u)
	top := len(f.layers) - 1
	f.layers[top].Add(b)
	f.counts[top]++

	if f.counts[top] >= f.cfg.InitialCapacity<<uint(top) && !f.full {
		f.grow()
	}
}

// grow appends a new, larger layer on top of the current one. Must be
// called with the write lock held.
func (f *Filter) grow() {
	if len(f.layers) >= maxLayers {
		f.full = true
		return
	}

	nextCapacity := f.cfg.InitialCapacity << uint(len(f.layers))
	nextFP := f.cfg.TargetFP
	if f.cfg.Growth == GrowthTightening {
		for i := 0; i < len(f.layers); i++ {
			nextFP *= f.cfg.TighteningRatio
		}
	}
	f.layers = append(f.layers, bloom.NewWithEstimates(nextCapacity, nextFP))
	f.counts = append(f.counts, 0)
}

// Contains reports whether u has (probably) been added before. False
// positives are possible up to the configured rate; false negatives never
// occur.
func (f *Filter) Contains(u string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	b := []byte(u)
	for _, l := range f.layers {
		if l.Test(b) {
			return true
		}
	}
	return false
}

// Full reports whether the filter has hit its layer ceiling (maxLayers).
// Callers should log this as a warning (crawlerr.ErrMembershipFull) and
// continue: correctness is unaffected, only the false-positive rate
// degrades further as more items are added to the saturated top layer.
func (f *Filter) Full() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.full
}

// Layers returns the number of Bloom filter layers currently in use, mostly
// useful for tests and metrics.
func (f *Filter) Layers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.layers)
}
