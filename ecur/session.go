package ecur

import (
	"context"

	"github.com/pkg/errors"
)

// Session is the top-level engine handle: one Transport, the codec's
// outbound buffer, the pending-read Queue, the rolling sequence
// counter, and the configuration it was opened with. See spec §3, §4.4.
type Session struct {
	config    *SessionConfig
	transport transport

	out       []byte
	inPayload int // projected reply payload bytes for readers queued so far
	seq       uint8
	readers   queue
}

// handshake issues the VERSION request and validates the reply's
// protocol version nibble, per spec §4.4's Open description.
func (s *Session) handshake(_ context.Context) error {
	hdr := make([]byte, headerSize)
	encodeHeader(hdr, cmdVersion, s.seq)

	reply, err := s.transport.transfer(hdr)
	if err != nil {
		return errors.Wrap(err, "ecur: handshake transfer failed")
	}
	if len(reply) < headerSize {
		return ErrInvalidRep
	}
	cmd, version, _ := decodeHeader(reply)
	if cmd != cmdVersion || version != protocolVersion {
		return ErrInvalidRep
	}
	return nil
}

// Close flushes any pending Readers with INTERNAL and releases the
// endpoint. See spec §4.4.
func (s *Session) Close() error {
	s.readers.flushFrom(0, ErrInternal)
	return s.transport.close()
}

// selectLane picks the lane code for a width-w access at addr, per the
// table in spec §3 and the alignment rules in spec §4.4.
func selectLane(addr uint32, width int) (LaneCode, error) {
	switch width {
	case 1:
		return LaneCode(addr & 3), nil
	case 2:
		if addr&1 != 0 {
			return 0, ErrInvalidAddr
		}
		if addr&3 == 2 {
			return LaneW1, nil
		}
		return LaneW0, nil
	default: // 4
		if addr&3 != 0 {
			return 0, ErrInvalidAddr
		}
		return LaneDW, nil
	}
}

// ensureBatch starts a new batch (writing the header and advancing the
// sequence counter) if none is in progress, first flushing any Readers
// left behind by a batch that was never executed.
func (s *Session) ensureBatch() {
	if len(s.out) != 0 {
		return
	}
	if s.readers.len() > 0 {
		s.readers.flushFrom(0, ErrInternal)
	}
	hdr := make([]byte, headerSize)
	encodeHeader(hdr, cmdBatch, s.seq)
	s.seq = (s.seq + 1) & 0x0f
	s.out = append(s.out[:0], hdr...)
	s.inPayload = 0
}

// appendDescriptor validates burst and address and appends one
// operation descriptor to the outbound buffer. Callers must have
// already called ensureBatch and, for writes, verified total space
// with checkOutSpace so a rejected op leaves s.out untouched.
func (s *Session) appendDescriptor(read bool, addr uint32, n int, lane LaneCode) error {
	if n < minBurst || n > maxBurst {
		return ErrInvalidCount
	}
	wordAddr := addr >> 2
	if wordAddr > maxWordAddr {
		return ErrInvalidAddr
	}
	var buf [4]byte
	encodeDescriptor(buf[:], read, lane, n, wordAddr)
	s.out = append(s.out, buf[:]...)
	return nil
}

// checkOutSpace reports whether a further descriptor plus nbytes of
// payload would still fit in the outbound buffer, without mutating
// s.out. Mirrors ecur.c's ecurQOp computing reqSz = 4 + datSz and
// checking it atomically before writing anything, so a rejected
// operation leaves the in-progress batch intact (spec §7).
func (s *Session) checkOutSpace(nbytes int) error {
	if len(s.out)+4+nbytes > maxPayload {
		return ErrNoSpaceReq
	}
	return nil
}

// appendWritePayload reserves nbytes at the tail of the outbound
// buffer and hands them to fill for lane-specific packing. Callers
// must have already validated space with checkOutSpace.
func (s *Session) appendWritePayload(nbytes int, fill func([]byte)) {
	start := len(s.out)
	s.out = append(s.out, make([]byte, nbytes)...)
	fill(s.out[start:])
}

// checkReaderSpace reports whether one more Reader expecting elemBytes
// of reply payload would still fit, without mutating any state. Called
// before appendDescriptor so a rejected read leaves the batch untouched
// (spec §7: NOSPACE_REP leaves the in-progress batch intact).
func (s *Session) checkReaderSpace(elemBytes int) error {
	if s.readers.full() {
		return ErrNoSpaceRep
	}
	if headerSize+s.inPayload+elemBytes+statusSize > maxPayload {
		return ErrNoSpaceRep
	}
	return nil
}

// commitReader records r as the destination for the next read result.
// Callers must have already validated space with checkReaderSpace.
func (s *Session) commitReader(r reader, elemBytes int) {
	s.inPayload += elemBytes
	s.readers.add(r)
}

// QueueRead8 appends an 8-bit-lane read of len(dest) elements at addr.
// Any byte address is valid; the lane is selected by addr&3.
func (s *Session) QueueRead8(addr uint32, dest []uint8, cb ReadFunc, closure any) error {
	lane, err := selectLane(addr, 1)
	if err != nil {
		return err
	}
	s.ensureBatch()
	if err := s.checkOutSpace(0); err != nil {
		return err
	}
	elemBytes := len(dest) * wireElementSize(lane)
	if err := s.checkReaderSpace(elemBytes); err != nil {
		return err
	}
	if err := s.appendDescriptor(true, addr, len(dest), lane); err != nil {
		return err
	}
	s.commitReader(reader{cb: cb, closure: closure, kind: kindOf(lane), dst8: dest}, elemBytes)
	return nil
}

// QueueRead16 appends a 16-bit-lane read of len(dest) elements at addr.
// addr must be even.
func (s *Session) QueueRead16(addr uint32, dest []uint16, cb ReadFunc, closure any) error {
	lane, err := selectLane(addr, 2)
	if err != nil {
		return err
	}
	s.ensureBatch()
	if err := s.checkOutSpace(0); err != nil {
		return err
	}
	elemBytes := len(dest) * wireElementSize(lane)
	if err := s.checkReaderSpace(elemBytes); err != nil {
		return err
	}
	if err := s.appendDescriptor(true, addr, len(dest), lane); err != nil {
		return err
	}
	s.commitReader(reader{cb: cb, closure: closure, kind: kindOf(lane), dst16: dest}, elemBytes)
	return nil
}

// QueueRead32 appends a double-word read of len(dest) elements at addr.
// addr must be a multiple of 4.
func (s *Session) QueueRead32(addr uint32, dest []uint32, cb ReadFunc, closure any) error {
	lane, err := selectLane(addr, 4)
	if err != nil {
		return err
	}
	s.ensureBatch()
	if err := s.checkOutSpace(0); err != nil {
		return err
	}
	elemBytes := len(dest) * wireElementSize(lane)
	if err := s.checkReaderSpace(elemBytes); err != nil {
		return err
	}
	if err := s.appendDescriptor(true, addr, len(dest), lane); err != nil {
		return err
	}
	s.commitReader(reader{cb: cb, closure: closure, kind: kindOf(lane), dst32: dest}, elemBytes)
	return nil
}

// QueueWrite8 appends an 8-bit-lane write of src at addr.
func (s *Session) QueueWrite8(addr uint32, src []uint8) error {
	lane, err := selectLane(addr, 1)
	if err != nil {
		return err
	}
	s.ensureBatch()
	nbytes := len(src) * 2
	if err := s.checkOutSpace(nbytes); err != nil {
		return err
	}
	if err := s.appendDescriptor(false, addr, len(src), lane); err != nil {
		return err
	}
	s.appendWritePayload(nbytes, func(buf []byte) { packByteLane(buf, src) })
	return nil
}

// QueueWrite16 appends a 16-bit-lane write of src at addr. addr must be
// even.
func (s *Session) QueueWrite16(addr uint32, src []uint16) error {
	lane, err := selectLane(addr, 2)
	if err != nil {
		return err
	}
	s.ensureBatch()
	nbytes := len(src) * 2
	if err := s.checkOutSpace(nbytes); err != nil {
		return err
	}
	if err := s.appendDescriptor(false, addr, len(src), lane); err != nil {
		return err
	}
	s.appendWritePayload(nbytes, func(buf []byte) { packWordLane(buf, src) })
	return nil
}

// QueueWrite32 appends a double-word write of src at addr. addr must be
// a multiple of 4.
func (s *Session) QueueWrite32(addr uint32, src []uint32) error {
	lane, err := selectLane(addr, 4)
	if err != nil {
		return err
	}
	s.ensureBatch()
	nbytes := len(src) * 4
	if err := s.checkOutSpace(nbytes); err != nil {
		return err
	}
	if err := s.appendDescriptor(false, addr, len(src), lane); err != nil {
		return err
	}
	s.appendWritePayload(nbytes, func(buf []byte) { packDwordLane(buf, src) })
	return nil
}

// Execute ships the current batch, if any, dispatches the reply to
// queued Readers, and returns the status-trailer element count or a
// negative ErrCode. See spec §4.4, §4.3.
func (s *Session) Execute() (int, error) {
	if len(s.out) == 0 {
		return 0, nil
	}
	out := s.out
	s.out = s.out[:0]
	s.inPayload = 0

	reply, err := s.transport.transfer(out)
	if err != nil {
		s.readers.flushFrom(0, ErrIO)
		s.config.trace.BatchDone(s.config, int(ErrIO), ErrIO)
		return int(ErrIO), ErrIO
	}

	nelems, rerr := s.processReply(reply)
	s.config.trace.BatchDone(s.config, nelems, rerr)
	return nelems, rerr
}

// processReply validates and dispatches one reply datagram against the
// pending Readers, per spec §4.3.
func (s *Session) processReply(reply []byte) (int, error) {
	if len(reply) == 0 {
		s.readers.flushFrom(0, ErrIO)
		return int(ErrIO), ErrIO
	}
	if len(reply) < headerSize+statusSize {
		s.readers.flushFrom(0, ErrInvalidRep)
		return int(ErrInvalidRep), ErrInvalidRep
	}

	trailer := reply[len(reply)-statusSize:]
	errBit, nelems := replyStatus(trailer)
	if errBit {
		s.readers.flushFrom(0, ErrInvalidRep)
		return int(ErrInvalidRep), ErrInvalidRep
	}

	payload := reply[headerSize : len(reply)-statusSize]
	satisfied, leftover := s.readers.dispatch(payload)
	if leftover > 0 {
		s.readers.flushFrom(satisfied, ErrInvalidRep)
		return int(ErrInvalidRep), ErrInvalidRep
	}
	if satisfied < s.readers.len() {
		// Partial completion: the target processed fewer elements than
		// queued. The remaining Readers are flushed with that count.
		s.readers.flushFrom(satisfied, ErrCode(nelems))
	}
	s.readers.reset()
	return nelems, nil
}

func countOf(err error) int {
	if ec, ok := err.(ErrCode); ok {
		return int(ec)
	}
	return 0
}

// Read8 queues and executes a single 8-bit-lane read.
func (s *Session) Read8(addr uint32, dest []uint8) (int, error) {
	if err := s.QueueRead8(addr, dest, nil, nil); err != nil {
		return countOf(err), err
	}
	return s.Execute()
}

// Read16 queues and executes a single 16-bit-lane read.
func (s *Session) Read16(addr uint32, dest []uint16) (int, error) {
	if err := s.QueueRead16(addr, dest, nil, nil); err != nil {
		return countOf(err), err
	}
	return s.Execute()
}

// Read32 queues and executes a single double-word read.
func (s *Session) Read32(addr uint32, dest []uint32) (int, error) {
	if err := s.QueueRead32(addr, dest, nil, nil); err != nil {
		return countOf(err), err
	}
	return s.Execute()
}

// Write8 queues and executes a single 8-bit-lane write.
func (s *Session) Write8(addr uint32, src []uint8) (int, error) {
	if err := s.QueueWrite8(addr, src); err != nil {
		return countOf(err), err
	}
	return s.Execute()
}

// Write16 queues and executes a single 16-bit-lane write.
func (s *Session) Write16(addr uint32, src []uint16) (int, error) {
	if err := s.QueueWrite16(addr, src); err != nil {
		return countOf(err), err
	}
	return s.Execute()
}

// Write32 queues and executes a single double-word write.
func (s *Session) Write32(addr uint32, src []uint32) (int, error) {
	if err := s.QueueWrite32(addr, src); err != nil {
		return countOf(err), err
	}
	return s.Execute()
}
