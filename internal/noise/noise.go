package noise

import (
	"errors"
	"fmt"
	"math"

	"github.com/dgraph-io/ristretto"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
)

var (
	// ErrExceedsChannelCapacity means a source's configuration could leak
	// more information than the source type allows.
	ErrExceedsChannelCapacity = errors.New("noise: exceeds max channel capacity")

	// ErrExceedsTriggerStateCardinality means the output space is too large
	// to sample from.
	ErrExceedsTriggerStateCardinality = errors.New("noise: exceeds max trigger state cardinality")
)

// Params describes the randomized response for one trigger-spec shape.
type Params struct {
	// States is the number of possible event-level outputs.
	States uint64
	// Rate is the probability of answering with a uniformly random output.
	Rate float64
	// Capacity is the information gain in bits of the noised channel.
	Capacity float64
}

type shape struct {
	cardinality uint64
	windows     uint64
	maxReports  uint64
	epsilon     float64
}

// Calculator derives Params and memoizes them per shape. Most sources use
// the default specs, so the cache hit rate is high.
type Calculator struct {
	cache *ristretto.Cache
}

// NewCalculator creates a Calculator with a small bounded cache.
func NewCalculator() (*Calculator, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10000,
		MaxCost:     1000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("noise cache: %w", err)
	}
	return &Calculator{cache: cache}, nil
}

// Close releases the cache.
func (c *Calculator) Close() error {
	c.cache.Close()
	return nil
}

// Compute returns the randomized response parameters for specs. specs must
// hold exactly one spec.
func (c *Calculator) Compute(specs attribution.TriggerSpecs, epsilon float64) (Params, error) {
	spec, err := specs.Single()
	if err != nil {
		return Params{}, err
	}
	key := shape{
		cardinality: uint64(len(spec.TriggerData)),
		windows:     uint64(len(spec.Windows.Ends)),
		maxReports:  uint64(specs.MaxEventLevelReports),
		epsilon:     epsilon,
	}
	cacheKey := fmt.Sprintf("%d/%d/%d/%g", key.cardinality, key.windows, key.maxReports, key.epsilon)
	if v, ok := c.cache.Get(cacheKey); ok {
		return v.(Params), nil
	}

	p, err := computeParams(key)
	if err != nil {
		return Params{}, err
	}
	c.cache.Set(cacheKey, p, 1)
	return p, nil
}

func computeParams(s shape) (Params, error) {
	bars, ok := mulChecked(s.cardinality, s.windows)
	if !ok {
		return Params{}, ErrExceedsTriggerStateCardinality
	}
	if bars+s.maxReports < bars {
		return Params{}, ErrExceedsTriggerStateCardinality
	}
	states, ok := binomial(bars+s.maxReports, s.maxReports)
	if !ok {
		return Params{}, ErrExceedsTriggerStateCardinality
	}
	rate := RandomizedResponseRate(states, s.epsilon)
	return Params{
		States:   states,
		Rate:     rate,
		Capacity: ChannelCapacity(states, rate),
	}, nil
}

// Check enforces the information gain and cardinality bounds.
func (p Params) Check(maxInfoGain float64, maxCardinality uint64) error {
	if p.States > maxCardinality {
		return ErrExceedsTriggerStateCardinality
	}
	if p.Capacity > maxInfoGain {
		return ErrExceedsChannelCapacity
	}
	return nil
}

// RandomizedResponseRate is the k-ary randomized response flip probability
// for epsilon-differential privacy over states outputs.
func RandomizedResponseRate(states uint64, epsilon float64) float64 {
	n := float64(states)
	return n / (n + math.Exp(epsilon) - 1)
}

// ChannelCapacity is the capacity in bits of a q-ary symmetric channel
// with the given flip probability.
func ChannelCapacity(states uint64, rate float64) float64 {
	if states <= 1 || rate >= 1 {
		return 0
	}
	q := float64(states)
	p := rate * (q - 1) / q
	return math.Log2(q) - binaryEntropy(p) - p*math.Log2(q-1)
}

func binaryEntropy(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	return -p*math.Log2(p) - (1-p)*math.Log2(1-p)
}

func mulChecked(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	c := a * b
	return c, c/b == a
}
