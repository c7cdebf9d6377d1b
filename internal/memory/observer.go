package memory

import "time"

// Observer receives engine events. internal/metrics implements it with
// Prometheus collectors.
type Observer interface {
	ObserveSearch(mode string, elapsed time.Duration, hits int, err error)
	ObserveUpsert(outcome UpsertOutcome)
	ObserveSkippedDimension(n int)
}

type nopObserver struct{}

func (nopObserver) ObserveSearch(string, time.Duration, int, error) {}
func (nopObserver) ObserveUpsert(UpsertOutcome)                     {}
func (nopObserver) ObserveSkippedDimension(int)                     {}
