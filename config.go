package eventbus

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AuditVerbosity controls how much detail an AuditSink receives.
type AuditVerbosity string

const (
	// AuditNone disables audit emission entirely (the default sink is a
	// no-op regardless, but this also skips building event payloads).
	AuditNone AuditVerbosity = "none"
	// AuditLifecycle emits subscribe/unsubscribe/handler-failure events;
	// publish events are suppressed.
	AuditLifecycle AuditVerbosity = "lifecycle"
	// AuditFull emits subscribe/unsubscribe/publish/handler-failure events.
	AuditFull AuditVerbosity = "full"
)

// allowsLifecycle reports whether v permits subscribe, unsubscribe, and
// handler-failure events to reach the bus's AuditSink.
func (v AuditVerbosity) allowsLifecycle() bool { return v != AuditNone }

// allowsFull reports whether v additionally permits publish events to
// reach the bus's AuditSink.
func (v AuditVerbosity) allowsFull() bool { return v == AuditFull }

// Config holds the bus's ambient, hot-reloadable settings. It has no
// effect on dispatch ordering, one-shot atomicity, or any other core
// invariant from the package doc — only on panic handling and
// observability verbosity.
type Config struct {
	// RecoverPanics converts a handler panic into a HandlerError returned
	// from Publish/Subscribe instead of crashing the calling goroutine.
	// When false, a handler panic propagates unrecovered.
	RecoverPanics bool `yaml:"recoverPanics"`

	// AuditVerbosity gates which lifecycle transitions reach the
	// configured AuditSink.
	AuditVerbosity AuditVerbosity `yaml:"auditVerbosity"`

	// JanitorSchedule is a cron expression for the janitor. StartJanitor
	// takes its schedule as an argument and does not read this field.
	JanitorSchedule string `yaml:"janitorSchedule"`
}

// DefaultConfig returns the Config a Bus constructed with New() starts
// with: panics recovered, full audit detail, and a JanitorSchedule of
// every minute. New does not start a janitor.
func DefaultConfig() Config {
	return Config{
		RecoverPanics:   true,
		AuditVerbosity:  AuditFull,
		JanitorSchedule: "@every 1m",
	}
}

// Validate reports whether c has a recognized AuditVerbosity.
// JanitorSchedule is not checked here; the cron library validates a
// schedule when StartJanitor is given one.
func (c Config) Validate() error {
	switch c.AuditVerbosity {
	case AuditNone, AuditLifecycle, AuditFull:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAuditVerbosity, c.AuditVerbosity)
	}
	return nil
}

// LoadConfig reads and validates a Config from a YAML file. The file is
// unmarshaled on top of DefaultConfig, so fields absent from the file keep
// DefaultConfig's values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("eventbus: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("eventbus: parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
