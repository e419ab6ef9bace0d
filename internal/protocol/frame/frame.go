package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/edgemq/internal/protocol"
)

// Frame types.
const (
	TypeMethod    byte = 1
	TypeHeader    byte = 2
	TypeBody      byte = 3
	TypeHeartbeat byte = 8
)

const (
	// End terminates every frame on the wire.
	End byte = 0xCE

	// HeaderLen is type(1) + channel(2) + payload length(4).
	HeaderLen = 7

	// EmptyFrameSize is the framing overhead of a frame with no payload.
	EmptyFrameSize = 8
)

var (
	ErrShortHeader     = errors.New("frame: short header")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrNeedMoreData    = errors.New("frame: need more data")
)

// Frame is one complete wire frame.
type Frame struct {
	Type    byte
	Channel uint16
	Payload []byte
}

// Limits constrains frame decode memory use.
type Limits struct {
	// MaxPayloadBytes bounds a single frame payload. Zero means unbounded.
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 128*1024 - EmptyFrameSize}
}

// LimitsForFrameMax derives payload limits from a negotiated frame_max.
func LimitsForFrameMax(frameMax uint32) Limits {
	if frameMax == 0 {
		return Limits{}
	}
	return Limits{MaxPayloadBytes: frameMax - EmptyFrameSize}
}

// CheckEmptyFrameSize verifies the computed framing overhead matches
// EmptyFrameSize. A mismatch means the codec was built inconsistently.
func CheckEmptyFrameSize() error {
	if got := len(Encode(Frame{Type: TypeHeartbeat})); got != EmptyFrameSize {
		return fmt.Errorf("%w: computed=%d expected=%d", protocol.ErrFrameSizeMismatch, got, EmptyFrameSize)
	}
	return nil
}

func (f Frame) String() string {
	return fmt.Sprintf("frame{type=%s channel=%d len=%d}", TypeName(f.Type), f.Channel, len(f.Payload))
}

func TypeName(t byte) string {
	switch t {
	case TypeMethod:
		return "method"
	case TypeHeader:
		return "header"
	case TypeBody:
		return "body"
	case TypeHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// ReadFrame reads exactly one frame from r, blocking until it is complete.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	typ, channel, size := DecodeHeader(fixed[:])
	if err := checkHeader(typ, channel, size, limits); err != nil {
		return Frame{}, err
	}

	buf := make([]byte, int(size)+1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Frame{}, err
	}
	if buf[size] != End {
		return Frame{}, malformedEnd(buf[size])
	}
	return Frame{Type: typ, Channel: channel, Payload: buf[:size]}, nil
}

func WriteFrame(w io.Writer, f Frame) error {
	_, err := w.Write(Encode(f))
	return err
}

// Encode returns the wire bytes of f.
func Encode(f Frame) []byte {
	return AppendFrame(make([]byte, 0, EmptyFrameSize+len(f.Payload)), f)
}

// AppendFrame appends the wire bytes of f to dst.
func AppendFrame(dst []byte, f Frame) []byte {
	var hdr [HeaderLen]byte
	EncodeHeader(hdr[:], f.Type, f.Channel, uint32(len(f.Payload)))
	dst = append(dst, hdr[:]...)
	dst = append(dst, f.Payload...)
	return append(dst, End)
}

func EncodeHeader(buf []byte, typ byte, channel uint16, size uint32) {
	buf[0] = typ
	binary.BigEndian.PutUint16(buf[1:3], channel)
	binary.BigEndian.PutUint32(buf[3:7], size)
}

func DecodeHeader(b []byte) (typ byte, channel uint16, size uint32) {
	return b[0], binary.BigEndian.Uint16(b[1:3]), binary.BigEndian.Uint32(b[3:7])
}

func malformedEnd(b byte) error {
	return protocol.Malformed("bad frame end 0x%02x", b)
}

func checkHeader(typ byte, channel uint16, size uint32, limits Limits) error {
	switch typ {
	case TypeMethod, TypeHeader, TypeBody:
	case TypeHeartbeat:
		if channel != 0 {
			return protocol.Malformed("heartbeat on channel %d", channel)
		}
	default:
		return protocol.Malformed("unknown frame type %d", typ)
	}
	if limits.MaxPayloadBytes > 0 && size > limits.MaxPayloadBytes {
		return protocol.Malformed("%v: %d > %d", ErrPayloadTooLarge, size, limits.MaxPayloadBytes)
	}
	return nil
}
