package ecur

import (
	"context"
	"testing"
	"time"

	assert "github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	assert.Equal(t, "udp", defaultConfig.network)
	assert.Equal(t, time.Second, defaultConfig.timeout)
	assert.Equal(t, 3, defaultConfig.attempts)
	assert.Nil(t, defaultConfig.trace, "trace is resolved from verbosity by Open")
}

func TestOptionsOverrideDefaults(t *testing.T) {
	config := defaultConfig
	for _, opt := range []Option{
		WithTimeout(5 * time.Millisecond),
		WithAttempts(1),
		WithNetwork("udp4"),
		WithVerbosity(2),
	} {
		opt(&config)
	}

	assert.Equal(t, 5*time.Millisecond, config.timeout)
	assert.Equal(t, 1, config.attempts)
	assert.Equal(t, "udp4", config.network)
	assert.Equal(t, 2, config.verbosity)
}

func TestNewFactoryOpensASession(t *testing.T) {
	target := newFakeTarget()
	addr, stop := echoServer(t, target.handle)
	defer stop()

	factory := NewFactory()
	s, err := factory.NewSession(context.Background(), addr, WithTimeout(200*time.Millisecond))
	assert.NoError(t, err)
	defer s.Close()
}

func TestOpenSelectsDefaultTraceAtZeroVerbosity(t *testing.T) {
	target := newFakeTarget()
	addr, stop := echoServer(t, target.handle)
	defer stop()

	s, err := Open(context.Background(), addr, WithTimeout(200*time.Millisecond))
	assert.NoError(t, err)
	defer s.Close()

	assert.Same(t, DefaultTrace, s.config.trace)
}

func TestOpenSelectsDiagnosticTraceAtHigherVerbosity(t *testing.T) {
	target := newFakeTarget()
	addr, stop := echoServer(t, target.handle)
	defer stop()

	s, err := Open(context.Background(), addr, WithTimeout(200*time.Millisecond), WithVerbosity(1))
	assert.NoError(t, err)
	defer s.Close()

	assert.Same(t, DiagnosticTrace, s.config.trace)
}
