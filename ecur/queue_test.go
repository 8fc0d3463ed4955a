package ecur

import (
	"testing"

	assert "github.com/stretchr/testify/require"
)

func TestReaderDecode32(t *testing.T) {
	dst := make([]uint32, 2)
	var gotN int
	r := reader{kind: kindD32, dst32: dst, cb: func(n int, _ any) { gotN = n }}

	payload := []byte{0xEF, 0xBE, 0xAD, 0xDE, 0xBB, 0xAA, 0xDD, 0xCC}
	n := r.decode(payload)

	assert.Equal(t, 2, n)
	assert.Equal(t, 2, gotN)
	assert.Equal(t, []uint32{0xDEADBEEF, 0xCCDDAABB}, dst)
}

func TestReaderDecodeCapsAtDestinationCapacity(t *testing.T) {
	dst := make([]uint16, 1)
	r := reader{kind: kindD16, dst16: dst}

	// enough payload for 2 elements, but destination only holds 1.
	n := r.decode([]byte{0x01, 0x00, 0x02, 0x00})
	assert.Equal(t, 1, n)
	assert.Equal(t, uint16(1), dst[0])
}

func TestReaderDecodeByteLaneUsesLowByteOnly(t *testing.T) {
	dst := make([]uint8, 2)
	r := reader{kind: kindD8, dst8: dst}

	n := r.decode([]byte{0x21, 0xff, 0x43, 0xff})
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint8{0x21, 0x43}, dst)
}

func TestReaderFlushInvokesCallbackWithNegativeCode(t *testing.T) {
	var gotN int
	r := reader{cb: func(n int, _ any) { gotN = n }}
	r.flush(ErrIO)
	assert.Equal(t, int(ErrIO), gotN)
}

func TestReaderInvokeToleratesNilCallback(t *testing.T) {
	r := reader{}
	assert.NotPanics(t, func() { r.flush(ErrInternal) })
}

func TestQueueDispatchInOrder(t *testing.T) {
	var q queue
	var firstN, secondN int
	dst1 := make([]uint32, 1)
	dst2 := make([]uint16, 2)

	q.add(reader{kind: kindD32, dst32: dst1, cb: func(n int, _ any) { firstN = n }})
	q.add(reader{kind: kindD16, dst16: dst2, cb: func(n int, _ any) { secondN = n }})

	payload := []byte{
		0x21, 0x43, 0x65, 0x87, // dst1[0] = 0x87654321
		0xBB, 0xAA, 0xDD, 0xCC, // dst2 = [0xAABB, 0xCCDD]
	}
	satisfied, leftover := q.dispatch(payload)

	assert.Equal(t, 2, satisfied)
	assert.Zero(t, leftover)
	assert.Equal(t, 1, firstN)
	assert.Equal(t, 2, secondN)
	assert.Equal(t, uint32(0x87654321), dst1[0])
	assert.Equal(t, []uint16{0xAABB, 0xCCDD}, dst2)
}

func TestQueueDispatchLeftoverWhenPayloadTooLong(t *testing.T) {
	var q queue
	q.add(reader{kind: kindD16, dst16: make([]uint16, 1)})

	satisfied, leftover := q.dispatch([]byte{0x01, 0x00, 0x02, 0x00})
	assert.Equal(t, 1, satisfied)
	assert.Equal(t, 2, leftover)
}

func TestQueueDispatchPartialWhenPayloadTooShort(t *testing.T) {
	var q queue
	var secondN int
	q.add(reader{kind: kindD32, dst32: make([]uint32, 1)})
	q.add(reader{kind: kindD32, dst32: make([]uint32, 1), cb: func(n int, _ any) { secondN = n }})

	satisfied, leftover := q.dispatch([]byte{0x01, 0x00, 0x00, 0x00})
	assert.Equal(t, 1, satisfied)
	assert.Zero(t, leftover)

	q.flushFrom(satisfied, ErrCode(1))
	assert.Equal(t, 1, secondN)
	assert.Zero(t, q.len(), "flushFrom clears the queue")
}

func TestQueueFull(t *testing.T) {
	var q queue
	for i := 0; i < maxReaders; i++ {
		q.add(reader{})
	}
	assert.True(t, q.full())
}

func TestQueueFlushFromTerminatesEveryReaderExactlyOnce(t *testing.T) {
	var q queue
	calls := 0
	for i := 0; i < 3; i++ {
		q.add(reader{cb: func(n int, _ any) { calls++ }})
	}
	q.flushFrom(0, ErrInternal)
	assert.Equal(t, 3, calls)
	assert.Zero(t, q.len())
}
