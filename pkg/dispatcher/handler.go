package dispatcher

// FragmentResult tells a subscription what to do with a handled fragment.
type FragmentResult int

const (
	// ConsumeFragment consumes the fragment and continues.
	ConsumeFragment FragmentResult = iota
	// ConsumeAndStop consumes the fragment and ends the read.
	ConsumeAndStop
	// FailedFragment flags the fragment as failed in place and consumes it.
	FailedFragment
	// PostponeFragment ends the read without consuming the fragment.
	PostponeFragment
)

func (r FragmentResult) String() string {
	switch r {
	case ConsumeFragment:
		return "CONSUME"
	case ConsumeAndStop:
		return "CONSUME_AND_STOP"
	case FailedFragment:
		return "FAILED"
	case PostponeFragment:
		return "POSTPONE"
	default:
		return "UNKNOWN"
	}
}

// FragmentHandler receives committed fragments. buf is the partition memory
// itself; the payload is buf[offset:offset+length] and is only valid for
// the duration of the call.
type FragmentHandler interface {
	OnFragment(buf []byte, offset, length int, streamID int32, failed bool) FragmentResult
}

type FragmentHandlerFunc func(buf []byte, offset, length int, streamID int32, failed bool) FragmentResult

func (f FragmentHandlerFunc) OnFragment(buf []byte, offset, length int, streamID int32, failed bool) FragmentResult {
	return f(buf, offset, length, streamID, failed)
}
