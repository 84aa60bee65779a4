package query

import "time"

// DefaultGCTime is the GCTime of DefaultConfig.
const DefaultGCTime = 5 * time.Minute

// Config tunes staleness and garbage collection.
type Config struct {
	// StaleTime is how long a successful value counts as fresh. Zero means
	// values never go stale by age; they only go stale through Refetch or
	// Invalidate.
	StaleTime time.Duration `env:"STALE_TIME" envDefault:"0s"`
	// GCTime is how long an entry without subscribers is kept before it is
	// evicted. Zero evicts as soon as the key goes idle; a negative value
	// disables garbage collection.
	GCTime time.Duration `env:"GC_TIME" envDefault:"5m"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{GCTime: DefaultGCTime}
}
