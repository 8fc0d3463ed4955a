package ecur

import "encoding/binary"

// ReadFunc is invoked exactly once per queued read, whether the batch
// succeeds, fails, or the Reader is flushed by a Close/new-batch
// pre-emption. nelems is the number of elements actually decoded on
// success, or a negative ErrCode on failure — mirroring the C
// library's single-int callback parameter (spec §9's callback+closure
// note). Readers left without data by a partial reply instead receive
// the reply's status-trailer element count.
type ReadFunc func(nelems int, closure any)

// reader is the per-read-operation record describing where decoded
// reply bytes land. Exactly one of dst8/dst16/dst32 is non-nil,
// selected by kind — the sum-type redesign spec §9 calls for in place
// of the C union-of-pointers-plus-tag.
type reader struct {
	cb      ReadFunc
	closure any
	kind    readerKind
	dst8    []uint8
	dst16   []uint16
	dst32   []uint32
}

func (r *reader) nelems() int {
	switch r.kind {
	case kindD8:
		return len(r.dst8)
	case kindD16:
		return len(r.dst16)
	default:
		return len(r.dst32)
	}
}

// elemWireSize is the number of wire bytes one element of r consumes:
// byte lanes are padded to 2 bytes (spec §4.2), 16-bit lanes are
// naturally 2 bytes, and 32-bit lanes are 4 bytes.
func (r *reader) elemWireSize() int {
	if r.kind == kindD32 {
		return 4
	}
	return 2
}

// decode fills up to cap elements of r's destination from payload,
// little-endian, and invokes r's callback with the number actually
// decoded. Returns that count.
func (r *reader) decode(payload []byte) int {
	n := len(payload) / r.elemWireSize()
	if want := r.nelems(); n > want {
		n = want
	}
	switch r.kind {
	case kindD8:
		for i := 0; i < n; i++ {
			r.dst8[i] = payload[2*i]
		}
	case kindD16:
		for i := 0; i < n; i++ {
			r.dst16[i] = binary.LittleEndian.Uint16(payload[2*i:])
		}
	case kindD32:
		for i := 0; i < n; i++ {
			r.dst32[i] = binary.LittleEndian.Uint32(payload[4*i:])
		}
	}
	r.invoke(n)
	return n
}

// flush terminates r with code as its single terminal callback
// invocation: a negative ErrCode on failure, or the status-trailer
// count on partial completion.
func (r *reader) flush(code ErrCode) {
	r.invoke(int(code))
}

func (r *reader) invoke(nelems int) {
	if r.cb != nil {
		r.cb(nelems, r.closure)
	}
}

// queue holds the Readers for the batch currently being assembled,
// in the order their read operations were queued.
type queue struct {
	readers []reader
}

func (q *queue) reset() {
	q.readers = q.readers[:0]
}

func (q *queue) len() int { return len(q.readers) }

func (q *queue) full() bool { return len(q.readers) >= maxReaders }

func (q *queue) add(r reader) {
	q.readers = append(q.readers, r)
}

// flushFrom invokes the terminal callback on every not-yet-dispatched
// Reader starting at from, then clears the queue. This is the single
// termination path described in spec §4.3: called on success-tail
// partial completion, on error, and on batch pre-emption.
func (q *queue) flushFrom(from int, code ErrCode) {
	for i := from; i < len(q.readers); i++ {
		q.readers[i].flush(code)
	}
	q.reset()
}

// dispatch walks payload left to right, handing each Reader in turn as
// many bytes as it declared it needs, per spec §4.3. It returns the
// number of Readers that were at least partially satisfied and the
// number of leftover payload bytes (non-zero leftover means the reply
// carried more data than the queue expected — INVALID_REP).
func (q *queue) dispatch(payload []byte) (satisfied int, leftover int) {
	idx := 0
	for satisfied < len(q.readers) && idx < len(payload) {
		r := &q.readers[satisfied]
		need := r.nelems() * r.elemWireSize()
		end := idx + need
		if end > len(payload) {
			end = len(payload)
		}
		r.decode(payload[idx:end])
		idx = end
		satisfied++
	}
	return satisfied, len(payload) - idx
}
