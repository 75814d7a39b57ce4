package semcache

import (
	"context"
	"time"
)

type Metadata struct {
	GeneratedAt time.Time `json:"generated_at"`
}

// Entry is one cached model exchange.
type Entry struct {
	Prompt   string   `json:"prompt"`
	Response string   `json:"response"`
	Metadata Metadata `json:"metadata"`
}

// Cache looks up model responses by semantic similarity of the prompt.
// Check consults at most the single nearest entry and reports a hit only when
// its distance to prompt is within threshold.
type Cache interface {
	Check(ctx context.Context, prompt string, threshold float64) (Entry, bool, error)
	Store(ctx context.Context, entry Entry) error
}

// distanceTolerance absorbs float rounding so that an identical prompt is a
// hit even at threshold 0.
const distanceTolerance = 1e-9

// WithinThreshold reports whether distance counts as a hit for threshold.
func WithinThreshold(distance, threshold float64) bool {
	return distance <= threshold+distanceTolerance
}

// Purger removes entries generated before a cutoff.
type Purger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Disabled never hits and discards stores.
type Disabled struct{}

func (Disabled) Check(context.Context, string, float64) (Entry, bool, error) {
	return Entry{}, false, nil
}

func (Disabled) Store(context.Context, Entry) error {
	return nil
}
