package ecur

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

// transport delivers one request datagram and obtains one reply,
// hiding transient loss behind bounded retries. See spec §4.1.
type transport interface {
	transfer(out []byte) ([]byte, error)
	close() error
}

// udpTransport is the default transport: a single bound, connected UDP
// endpoint to one target. Grounded on snmp.newConnection/sessionImpl's
// write+read retry loop, adapted to spec §4.1's fixed per-attempt
// timeout and fixed retry count (rather than a caller context
// deadline).
type udpTransport struct {
	conn    net.Conn
	config  *SessionConfig
	inbuf   []byte
	attempts int
	timeout time.Duration
}

func newUDPTransport(config *SessionConfig) (*udpTransport, error) {
	config.trace.ConnectStart(config)

	begin := time.Now()
	conn, err := net.Dial(config.network, config.address)
	config.trace.ConnectDone(config, err, time.Since(begin))
	if err != nil {
		return nil, errors.Wrap(err, "ecur: dial failed")
	}

	return &udpTransport{
		conn:    conn,
		config:  config,
		inbuf:   make([]byte, maxPayload),
		attempts: config.attempts,
		timeout: config.timeout,
	}, nil
}

func (t *udpTransport) transfer(out []byte) ([]byte, error) {
	var reply []byte
	var err error

	for attempt := 0; attempt < t.attempts; attempt++ {
		begin := time.Now()
		reply, err = t.attempt(out)
		t.config.trace.TransferDone(t.config, out, reply, err, time.Since(begin))

		if err == nil {
			return reply, nil
		}
		if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
			return nil, err
		}
	}
	// Exhausted all retries with no reply: spec §4.1.
	return nil, nil
}

func (t *udpTransport) attempt(out []byte) ([]byte, error) {
	if _, err := t.conn.Write(out); err != nil {
		return nil, errors.Wrap(err, "ecur: send failed")
	}

	if err := t.conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
		return nil, errors.Wrap(err, "ecur: set deadline failed")
	}

	n, err := t.conn.Read(t.inbuf)
	if err != nil {
		return nil, err
	}
	return t.inbuf[:n], nil
}

func (t *udpTransport) close() error {
	return t.conn.Close()
}
