// Package abtest runs two-arm caption/overlay experiments: uniform assignment
// per call and accumulate-only outcome recording, so historical results
// survive restarts.
package abtest

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/osifo/clipgate/pkg/kv"
)

// Test is one two-arm experiment.
type Test struct {
	ID       string               `json:"id"`
	VariantA string               `json:"variantA"`
	VariantB string               `json:"variantB"`
	Results  map[string][]Outcome `json:"results"`
}

// Outcome is one recorded metric for a variant.
type Outcome struct {
	Metric string    `json:"metric"`
	Value  float64   `json:"value"`
	At     time.Time `json:"at"`
}

// Picker assigns variants and appends outcomes in the KV store.
type Picker struct {
	store kv.Store
	kb    *kv.KeyBuilder
	log   *zap.Logger
	rng   *rand.Rand
	mu    sync.Mutex
}

// NewPicker creates a Picker.
func NewPicker(store kv.Store, log *zap.Logger) *Picker {
	return &Picker{
		store: store,
		kb:    kv.NewKeyBuilder("abtest"),
		log:   log.With(zap.String("module", "abtest")),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Pick assigns one arm uniformly. Assignment is not persisted beyond what the
// caller records.
func (p *Picker) Pick(test Test) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rng.Intn(2) == 0 {
		return test.VariantA
	}
	return test.VariantB
}

// Record appends an outcome under the chosen arm. Results only ever grow;
// nothing is overwritten.
func (p *Picker) Record(ctx context.Context, testID, variant, metric string, value float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := p.kb.Build("results", testID)
	results := make(map[string][]Outcome)
	if _, err := p.store.Get(ctx, key, &results); err != nil {
		return err
	}
	results[variant] = append(results[variant], Outcome{
		Metric: metric,
		Value:  value,
		At:     time.Now().UTC(),
	})
	return p.store.Put(ctx, key, results, 0)
}

// Results returns the accumulated outcomes for a test.
func (p *Picker) Results(ctx context.Context, testID string) (map[string][]Outcome, error) {
	results := make(map[string][]Outcome)
	if _, err := p.store.Get(ctx, p.kb.Build("results", testID), &results); err != nil {
		return nil, err
	}
	return results, nil
}
