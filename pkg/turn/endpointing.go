package turn

import (
	"fmt"
	"time"
)

// Endpointing holds the silence delays used once the user stops speaking.
// Min applies when the detector believes the turn is over, Max when it does not.
type Endpointing struct {
	Min time.Duration
	Max time.Duration
}

// DefaultEndpointing is the tutor's tuning.
var DefaultEndpointing = Endpointing{
	Min: 500 * time.Millisecond,
	Max: 5 * time.Second,
}

// Validate checks 0 < Min <= Max.
func (e Endpointing) Validate() error {
	if e.Min <= 0 {
		return fmt.Errorf("turn: min endpointing delay must be positive, got %s", e.Min)
	}
	if e.Max < e.Min {
		return fmt.Errorf("turn: max endpointing delay %s is below min %s", e.Max, e.Min)
	}
	return nil
}

// Delay picks the wait for an end-of-turn probability and the language's
// unlikely threshold.
func (e Endpointing) Delay(probability, unlikelyThreshold float64) time.Duration {
	if probability < unlikelyThreshold {
		return e.Max
	}
	return e.Min
}
