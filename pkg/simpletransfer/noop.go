package simpletransfer

import "time"

// NoopObserver is a no-operation implementation of Observer
// Useful when metrics are disabled or for testing
type NoopObserver struct{}

// NewNoopObserver creates a new no-operation observer
func NewNoopObserver() Observer {
	return &NoopObserver{}
}

// RecordOperation does nothing
func (n *NoopObserver) RecordOperation(operation string, duration time.Duration, err error) {}
