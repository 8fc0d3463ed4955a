package ecur

import (
	"context"
	"time"

	"github.com/imdario/mergo"
)

// SessionFactory instantiates Sessions against a target device.
type SessionFactory interface {
	// NewSession dials target and returns a ready-to-use Session.
	NewSession(ctx context.Context, target string, opts ...Option) (*Session, error)
}

// NewFactory delivers a new session factory.
func NewFactory() SessionFactory {
	return &factoryImpl{}
}

type factoryImpl struct{}

func (f *factoryImpl) NewSession(ctx context.Context, target string, opts ...Option) (*Session, error) {
	return Open(ctx, target, opts...)
}

// Option configures a Session at construction time.
type Option func(*SessionConfig)

// WithTimeout sets the per-attempt reply deadline. Default is 1s,
// matching spec §4.1.
func WithTimeout(d time.Duration) Option {
	return func(c *SessionConfig) {
		c.timeout = d
	}
}

// WithAttempts sets the total number of times a request is sent
// before giving up, including the first try. Default is 3.
func WithAttempts(n int) Option {
	return func(c *SessionConfig) {
		c.attempts = n
	}
}

// WithNetwork sets the dial network, normally "udp".
func WithNetwork(network string) Option {
	return func(c *SessionConfig) {
		c.network = network
	}
}

// WithTrace installs a set of trace hooks, merged over NoOpTrace so
// that unset fields never panic.
func WithTrace(trace *SessionTrace) Option {
	return func(c *SessionConfig) {
		c.trace = trace
	}
}

// WithVerbosity sets the diagnostic verbosity level: 0 is silent
// beyond DefaultTrace's error logging, >0 selects DiagnosticTrace
// unless WithTrace overrides it explicitly.
func WithVerbosity(level int) Option {
	return func(c *SessionConfig) {
		c.verbosity = level
	}
}

// SessionConfig holds the properties controlling Session behaviour.
type SessionConfig struct {
	// network is the dial network, typically "udp".
	network string
	// address is the target's host:port.
	address string
	// timeout is the per-attempt deadline for a reply.
	timeout time.Duration
	// attempts is the total number of times a request is sent,
	// including the first try, before giving up. See spec §4.1.
	attempts int
	// verbosity selects the default trace tier when trace is unset.
	verbosity int
	// trace holds the hooks fired at each stage of a transfer.
	trace *SessionTrace
}

// trace is left nil: Open resolves it from verbosity unless WithTrace
// was given explicitly.
var defaultConfig = SessionConfig{
	network:  "udp",
	timeout:  time.Second,
	attempts: 3,
}

// Open dials target and returns a ready-to-use Session. Callers must
// Close the Session when done.
func Open(ctx context.Context, target string, opts ...Option) (*Session, error) {
	config := defaultConfig
	config.address = target
	for _, opt := range opts {
		opt(&config)
	}
	if config.trace == nil {
		if config.verbosity > 0 {
			config.trace = DiagnosticTrace
		} else {
			config.trace = DefaultTrace
		}
	}
	_ = mergo.Merge(config.trace, NoOpTrace)

	t, err := newUDPTransport(&config)
	if err != nil {
		config.trace.Error("Open", &config, err)
		return nil, err
	}

	s := &Session{
		config:    &config,
		transport: t,
	}
	if err := s.handshake(ctx); err != nil {
		_ = t.close()
		config.trace.Error("Open/handshake", &config, err)
		return nil, err
	}
	return s, nil
}
