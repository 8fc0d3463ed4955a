package ecur

import (
	"net"
	"testing"
	"time"

	assert "github.com/stretchr/testify/require"
)

// echoServer is a minimal UDP responder used to exercise udpTransport
// without mocking net.Conn: each received datagram is handed to
// respond, whose return value (if non-nil) is written back to the
// sender. Grounded on snmp/server.go's listen loop, adapted to a
// connectionless request/response round trip instead of trap ingestion.
func echoServer(t *testing.T, respond func(req []byte) []byte) (addr string, stop func()) {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	assert.NoError(t, err)

	done := make(chan struct{})
	go func() {
		buf := make([]byte, maxPayload)
		for {
			n, from, err := conn.ReadFrom(buf)
			if err != nil {
				close(done)
				return
			}
			reply := respond(append([]byte(nil), buf[:n]...))
			if reply != nil {
				_, _ = conn.WriteTo(reply, from)
			}
		}
	}()

	return conn.LocalAddr().String(), func() {
		_ = conn.Close()
		<-done
	}
}

func testConfig(address string) *SessionConfig {
	return &SessionConfig{
		network:  "udp",
		address:  address,
		timeout:  100 * time.Millisecond,
		attempts: 3,
		trace:    NoOpTrace,
	}
}

func TestUDPTransportRoundTrip(t *testing.T) {
	addr, stop := echoServer(t, func(req []byte) []byte {
		return append([]byte{0xaa, 0xbb}, req...)
	})
	defer stop()

	tr, err := newUDPTransport(testConfig(addr))
	assert.NoError(t, err)
	defer tr.close()

	reply, err := tr.transfer([]byte{1, 2, 3})
	assert.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0xbb, 1, 2, 3}, reply)
}

func TestUDPTransportRetriesOnTimeoutThenSucceeds(t *testing.T) {
	var received int
	addr, stop := echoServer(t, func(req []byte) []byte {
		received++
		if received < 2 {
			return nil // drop the first attempt to force a retry
		}
		return []byte{0x01}
	})
	defer stop()

	tr, err := newUDPTransport(testConfig(addr))
	assert.NoError(t, err)
	defer tr.close()

	reply, err := tr.transfer([]byte{0x00})
	assert.NoError(t, err)
	assert.Equal(t, []byte{0x01}, reply)
	assert.Equal(t, 2, received)
}

func TestUDPTransportExhaustsRetriesWithNoReply(t *testing.T) {
	addr, stop := echoServer(t, func(req []byte) []byte { return nil })
	defer stop()

	config := testConfig(addr)
	config.attempts = 2
	config.timeout = 20 * time.Millisecond

	tr, err := newUDPTransport(config)
	assert.NoError(t, err)
	defer tr.close()

	begin := time.Now()
	reply, err := tr.transfer([]byte{0x00})
	elapsed := time.Since(begin)

	assert.NoError(t, err)
	assert.Empty(t, reply)
	assert.GreaterOrEqual(t, elapsed, 2*config.timeout)
}

func TestNewUDPTransportDialFailure(t *testing.T) {
	config := testConfig("")
	config.network = "not-a-network"

	_, err := newUDPTransport(config)
	assert.Error(t, err)
}
