package logbuffer

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// Frame header layout (12 bytes, native byte order):
//
//	int32  length   // 0 = unwritten, <0 = reserved, >0 = committed framed length
//	uint8  version
//	uint8  flags    // BATCH_BEGIN | BATCH_END | FAILED
//	uint16 type     // MESSAGE | PADDING
//	int32  streamID
//
// The length word is only ever accessed atomically. Version, flags and type
// share one 32-bit word that is also accessed atomically, so that a reader
// can set FAILED on a committed frame while other readers load it.
const (
	HeaderLength   = 12
	FrameAlignment = 8

	lengthOffset   = 0
	typeWordOffset = 4
	streamIDOffset = 8

	frameVersion = 0
)

type FrameType uint16

const (
	TypeMessage FrameType = 0
	TypePadding FrameType = 1
)

func (t FrameType) String() string {
	switch t {
	case TypeMessage:
		return "MESSAGE"
	case TypePadding:
		return "PADDING"
	default:
		return "UNKNOWN"
	}
}

const (
	FlagBatchBegin uint8 = 0x80
	FlagBatchEnd   uint8 = 0x40
	FlagFailed     uint8 = 0x20
)

// Align rounds value up to the next multiple of alignment (a power of two).
func Align(value, alignment int) int {
	return (value + alignment - 1) &^ (alignment - 1)
}

// FramedLength is the header plus payload length of a frame.
func FramedLength(payloadLength int) int {
	return HeaderLength + payloadLength
}

// AlignedLength returns the space a frame of the given framed length occupies.
func AlignedLength(framedLength int) int {
	return Align(framedLength, FrameAlignment)
}

// AlignedFramedLength returns the space a payload of the given length occupies.
func AlignedFramedLength(payloadLength int) int {
	return AlignedLength(FramedLength(payloadLength))
}

// MessageOffset returns the payload offset of the frame starting at frameOffset.
func MessageOffset(frameOffset int) int {
	return frameOffset + HeaderLength
}

// MessageLength returns the payload length of a frame.
func MessageLength(framedLength int) int {
	return framedLength - HeaderLength
}

func lengthAddr(buf []byte, frameOffset int) *int32 {
	return (*int32)(unsafe.Pointer(&buf[frameOffset+lengthOffset]))
}

func typeWordAddr(buf []byte, frameOffset int) *uint32 {
	return (*uint32)(unsafe.Pointer(&buf[frameOffset+typeWordOffset]))
}

// LoadLength reads the length word of the frame at frameOffset with acquire
// semantics. Header fields and payload may only be trusted after this
// returned a positive value.
func LoadLength(buf []byte, frameOffset int) int32 {
	return atomic.LoadInt32(lengthAddr(buf, frameOffset))
}

// StoreLength publishes the length word of the frame at frameOffset with
// release semantics.
func StoreLength(buf []byte, frameOffset int, length int32) {
	atomic.StoreInt32(lengthAddr(buf, frameOffset), length)
}

func encodeTypeWord(flags uint8, frameType FrameType) uint32 {
	var b [4]byte
	b[0] = frameVersion
	b[1] = flags
	binary.NativeEndian.PutUint16(b[2:], uint16(frameType))
	return binary.NativeEndian.Uint32(b[:])
}

func decodeTypeWord(word uint32) (flags uint8, frameType FrameType) {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], word)
	return b[1], FrameType(binary.NativeEndian.Uint16(b[2:]))
}

// FrameTypeAt returns the type of the frame at frameOffset.
func FrameTypeAt(buf []byte, frameOffset int) FrameType {
	_, t := decodeTypeWord(atomic.LoadUint32(typeWordAddr(buf, frameOffset)))
	return t
}

// FlagsAt returns the flags of the frame at frameOffset.
func FlagsAt(buf []byte, frameOffset int) uint8 {
	f, _ := decodeTypeWord(atomic.LoadUint32(typeWordAddr(buf, frameOffset)))
	return f
}

// StreamIDAt returns the stream id of the frame at frameOffset.
func StreamIDAt(buf []byte, frameOffset int) int32 {
	return int32(binary.NativeEndian.Uint32(buf[frameOffset+streamIDOffset:]))
}

func putType(buf []byte, frameOffset int, flags uint8, frameType FrameType) {
	atomic.StoreUint32(typeWordAddr(buf, frameOffset), encodeTypeWord(flags, frameType))
}

func putStreamID(buf []byte, frameOffset int, streamID int32) {
	binary.NativeEndian.PutUint32(buf[frameOffset+streamIDOffset:], uint32(streamID))
}

// SetFlags ORs mask into the flags of the frame at frameOffset, leaving type
// and version untouched.
func SetFlags(buf []byte, frameOffset int, mask uint8) {
	addr := typeWordAddr(buf, frameOffset)
	for {
		old := atomic.LoadUint32(addr)
		flags, t := decodeTypeWord(old)
		if flags&mask == mask {
			return
		}
		if atomic.CompareAndSwapUint32(addr, old, encodeTypeWord(flags|mask, t)) {
			return
		}
	}
}

// SetType replaces the type of the frame at frameOffset, keeping its flags.
func SetType(buf []byte, frameOffset int, frameType FrameType) {
	addr := typeWordAddr(buf, frameOffset)
	for {
		old := atomic.LoadUint32(addr)
		flags, _ := decodeTypeWord(old)
		if atomic.CompareAndSwapUint32(addr, old, encodeTypeWord(flags, frameType)) {
			return
		}
	}
}

func IsBatchBegin(flags uint8) bool { return flags&FlagBatchBegin != 0 }
func IsBatchEnd(flags uint8) bool   { return flags&FlagBatchEnd != 0 }
func IsFailed(flags uint8) bool     { return flags&FlagFailed != 0 }

// writeReservedHeader marks the frame at frameOffset as reserved (negative
// length) before writing its type and stream id. The atomic store orders the
// reservation marker before every following header or payload write.
func writeReservedHeader(buf []byte, frameOffset, framedLength int, frameType FrameType, streamID int32) {
	StoreLength(buf, frameOffset, -int32(framedLength))
	putType(buf, frameOffset, 0, frameType)
	putStreamID(buf, frameOffset, streamID)
}

// writePadding writes a committed padding frame of padLength bytes.
func writePadding(buf []byte, frameOffset, padLength int) {
	StoreLength(buf, frameOffset, -int32(padLength))
	putType(buf, frameOffset, 0, TypePadding)
	StoreLength(buf, frameOffset, int32(padLength))
}
