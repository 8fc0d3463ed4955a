package ecur

import (
	"encoding/hex"
	"log"
	"time"
)

// SessionTrace defines a structure for handling trace events raised by
// a Session. Hooks are optional; an unset hook is never called.
type SessionTrace struct {
	// ConnectStart is called before establishing the UDP endpoint.
	ConnectStart func(config *SessionConfig)

	// ConnectDone is called once the endpoint is bound and connected,
	// with err indicating whether it succeeded.
	ConnectDone func(config *SessionConfig, err error, d time.Duration)

	// Error is called after an error condition has been detected.
	Error func(location string, config *SessionConfig, err error)

	// TransferDone is called after one request/reply round-trip
	// attempt (possibly a retry) completes.
	TransferDone func(config *SessionConfig, out, in []byte, err error, d time.Duration)

	// BatchDone is called after Execute has dispatched all Readers for
	// one batch, with the resulting element count or error code.
	BatchDone func(config *SessionConfig, nelems int, err error)
}

// DefaultTrace reports only errors, unconditionally, to the standard
// error stream via the "log" package.
var DefaultTrace = &SessionTrace{
	Error: func(location string, config *SessionConfig, err error) {
		log.Printf("ecur-Error context:%s target:%s err:%v\n", location, config.address, err)
	},
}

// DiagnosticTrace logs every connect, transfer, and batch event,
// including hex dumps of the wire traffic. Open selects it when
// verbosity > 0 and no WithTrace option is given.
var DiagnosticTrace = &SessionTrace{
	ConnectStart: func(config *SessionConfig) {
		log.Printf("ecur-ConnectStart target:%s\n", config.address)
	},
	ConnectDone: func(config *SessionConfig, err error, d time.Duration) {
		log.Printf("ecur-ConnectDone target:%s err:%v took:%dms\n", config.address, err, d.Milliseconds())
	},
	Error: DefaultTrace.Error,
	TransferDone: func(config *SessionConfig, out, in []byte, err error, d time.Duration) {
		log.Printf("ecur-TransferDone target:%s err:%v took:%dms out:%s in:%s\n",
			config.address, err, d.Milliseconds(), hex.EncodeToString(out), hex.EncodeToString(in))
	},
	BatchDone: func(config *SessionConfig, nelems int, err error) {
		log.Printf("ecur-BatchDone target:%s nelems:%d err:%v\n", config.address, nelems, err)
	},
}

// NoOpTrace is a set of hooks that do nothing. Open merges it under the
// selected trace set (DefaultTrace, DiagnosticTrace, or the one given
// via WithTrace) so that every hook left unset there is a no-op.
var NoOpTrace = &SessionTrace{
	ConnectStart: func(config *SessionConfig) {},
	ConnectDone:  func(config *SessionConfig, err error, d time.Duration) {},
	Error:        func(location string, config *SessionConfig, err error) {},
	TransferDone: func(config *SessionConfig, out, in []byte, err error, d time.Duration) {},
	BatchDone:    func(config *SessionConfig, nelems int, err error) {},
}
