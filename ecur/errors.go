package ecur

import "strconv"

// ErrCode is the engine's error/status channel. Readers' callbacks and
// Execute report success as a non-negative element count and failure
// as one of the negative codes below, mirroring the C library's
// single-int return convention.
type ErrCode int

const (
	// ErrInvalidCount means a queued burst count fell outside [1,256].
	ErrInvalidCount ErrCode = -1
	// ErrInvalidAddr means a word address didn't fit in 20 bits, or
	// wasn't aligned to the requested access width.
	ErrInvalidAddr ErrCode = -2
	// ErrNoSpaceReq means the request would overflow the outbound buffer.
	ErrNoSpaceReq ErrCode = -3
	// ErrNoSpaceRep means the reply would overflow the inbound buffer,
	// or the Reader list is full.
	ErrNoSpaceRep ErrCode = -4
	// ErrInvalidRep means the reply was malformed: too short, the
	// target's error bit was set, or it carried more data than expected.
	ErrInvalidRep ErrCode = -5
	// ErrIO means the transport failed, or no reply arrived after retries.
	ErrIO ErrCode = -6
	// ErrInternal flags an invariant breach — used when flushing
	// Readers left behind by a batch that was never executed.
	ErrInternal ErrCode = -7
)

var errCodeText = map[ErrCode]string{
	ErrInvalidCount: "invalid burst count",
	ErrInvalidAddr:  "invalid or misaligned address",
	ErrNoSpaceReq:   "request does not fit in outbound buffer",
	ErrNoSpaceRep:   "reply would not fit in inbound buffer",
	ErrInvalidRep:   "malformed or error reply",
	ErrIO:           "transport failure",
	ErrInternal:     "internal invariant breach",
}

func (c ErrCode) Error() string {
	if s, ok := errCodeText[c]; ok {
		return s
	}
	return "ecur: unrecognised error code " + strconv.Itoa(int(c))
}
