package config

import "time"

// Central place for all application-wide timing constants and other
// defaults. Changing a value here immediately affects all components that
// import github.com/anaghasid/CacheSim/internal/config.

const (
	// Simulation geometry
	DefaultNumCores   = 2
	DefaultCacheSize  = 2
	DefaultMemorySize = 24

	// Protocol timing
	SleepTime      = 5 * time.Millisecond             // Snoop agent idle poll interval
	ResponseWindow = SleepTime + 200*time.Millisecond // Executor read-response window
	DrainPeriod    = 2 * time.Second                  // Grace period before posting STOP

	// Telemetry
	PublishTimeout = 5 * time.Second // MQTT publish
)
