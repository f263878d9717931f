// Package repository defines the score ledger interface and its ring-buffer implementation.
package repository

// Option applies a configuration option to the RingStore.
type Option func(*RingStore)

// WithCapacity sets how many events the ledger retains.
func WithCapacity(capacity int) Option {
	return func(s *RingStore) {
		if capacity > 0 {
			s.capacity = capacity
		}
	}
}

// WithInitialID sets the id the first appended event receives.
func WithInitialID(id uint64) Option {
	return func(s *RingStore) {
		s.nextID = id
	}
}
