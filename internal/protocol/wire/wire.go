package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrShortValue         = errors.New("wire: short value")
	ErrShortStringTooLong = errors.New("wire: short string longer than 255 bytes")
	ErrUnsupportedType    = errors.New("wire: unsupported field value type")
	ErrUnknownFieldType   = errors.New("wire: unknown field type tag")
)

// Table is an AMQP field table.
type Table map[string]any

// Decimal is the AMQP decimal-value field type.
type Decimal struct {
	Scale uint8
	Value int32
}

// Writer appends AMQP primitives to a growing buffer. Consecutive bit writes
// are packed into a single octet, flushed by the next non-bit write.
type Writer struct {
	buf   []byte
	bits  byte
	nbits uint
}

func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded buffer, flushing pending bits.
func (w *Writer) Bytes() []byte {
	w.flushBits()
	return w.buf
}

func (w *Writer) Len() int {
	w.flushBits()
	return len(w.buf)
}

func (w *Writer) flushBits() {
	if w.nbits == 0 {
		return
	}
	w.buf = append(w.buf, w.bits)
	w.bits, w.nbits = 0, 0
}

func (w *Writer) WriteBit(v bool) {
	if w.nbits == 8 {
		w.flushBits()
	}
	if v {
		w.bits |= 1 << w.nbits
	}
	w.nbits++
}

func (w *Writer) WriteOctet(v uint8) {
	w.flushBits()
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteShort(v uint16) {
	w.flushBits()
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteLong(v uint32) {
	w.flushBits()
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteLongLong(v uint64) {
	w.flushBits()
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteShortStr(s string) error {
	if len(s) > math.MaxUint8 {
		return fmt.Errorf("%w: %d", ErrShortStringTooLong, len(s))
	}
	w.WriteOctet(uint8(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

func (w *Writer) WriteLongStr(b []byte) {
	w.WriteLong(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *Writer) WriteTimestamp(t time.Time) {
	w.WriteLongLong(uint64(t.Unix()))
}

func (w *Writer) WriteTable(t Table) error {
	inner := NewWriter(64)
	for k, v := range t {
		if err := inner.WriteShortStr(k); err != nil {
			return err
		}
		if err := inner.writeFieldValue(v); err != nil {
			return fmt.Errorf("table key %q: %w", k, err)
		}
	}
	w.WriteLongStr(inner.Bytes())
	return nil
}

func (w *Writer) writeArray(items []any) error {
	inner := NewWriter(32)
	for i, v := range items {
		if err := inner.writeFieldValue(v); err != nil {
			return fmt.Errorf("array index %d: %w", i, err)
		}
	}
	w.WriteLongStr(inner.Bytes())
	return nil
}

func (w *Writer) writeFieldValue(v any) error {
	switch val := v.(type) {
	case nil:
		w.WriteOctet('V')
	case bool:
		w.WriteOctet('t')
		if val {
			w.WriteOctet(1)
		} else {
			w.WriteOctet(0)
		}
	case int8:
		w.WriteOctet('b')
		w.WriteOctet(uint8(val))
	case uint8:
		w.WriteOctet('B')
		w.WriteOctet(val)
	case int16:
		w.WriteOctet('s')
		w.WriteShort(uint16(val))
	case uint16:
		w.WriteOctet('u')
		w.WriteShort(val)
	case int32:
		w.WriteOctet('I')
		w.WriteLong(uint32(val))
	case uint32:
		w.WriteOctet('i')
		w.WriteLong(val)
	case int:
		w.WriteOctet('l')
		w.WriteLongLong(uint64(val))
	case int64:
		w.WriteOctet('l')
		w.WriteLongLong(uint64(val))
	case float32:
		w.WriteOctet('f')
		w.WriteLong(math.Float32bits(val))
	case float64:
		w.WriteOctet('d')
		w.WriteLongLong(math.Float64bits(val))
	case Decimal:
		w.WriteOctet('D')
		w.WriteOctet(val.Scale)
		w.WriteLong(uint32(val.Value))
	case string:
		w.WriteOctet('S')
		w.WriteLongStr([]byte(val))
	case []byte:
		w.WriteOctet('x')
		w.WriteLongStr(val)
	case time.Time:
		w.WriteOctet('T')
		w.WriteTimestamp(val)
	case Table:
		w.WriteOctet('F')
		return w.WriteTable(val)
	case map[string]any:
		w.WriteOctet('F')
		return w.WriteTable(Table(val))
	case []any:
		w.WriteOctet('A')
		return w.writeArray(val)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	return nil
}

// Reader consumes AMQP primitives from a byte slice.
type Reader struct {
	buf    []byte
	off    int
	bits   byte
	bitPos uint
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b, bitPos: 8}
}

// Remaining reports the unread byte count.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) take(n int) ([]byte, error) {
	r.bitPos = 8
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d have %d", ErrShortValue, n, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) ReadBit() (bool, error) {
	if r.bitPos == 8 {
		b, err := r.take(1)
		if err != nil {
			return false, err
		}
		r.bits, r.bitPos = b[0], 0
	}
	v := r.bits&(1<<r.bitPos) != 0
	r.bitPos++
	return v, nil
}

func (r *Reader) ReadOctet() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadShort() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadLong() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadLongLong() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) ReadShortStr() (string, error) {
	n, err := r.ReadOctet()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) ReadLongStr() ([]byte, error) {
	n, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (r *Reader) ReadTimestamp() (time.Time, error) {
	v, err := r.ReadLongLong()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(v), 0), nil
}

func (r *Reader) ReadTable() (Table, error) {
	raw, err := r.ReadLongStr()
	if err != nil {
		return nil, err
	}
	inner := NewReader(raw)
	t := Table{}
	for inner.Remaining() > 0 {
		key, err := inner.ReadShortStr()
		if err != nil {
			return nil, err
		}
		v, err := inner.readFieldValue()
		if err != nil {
			return nil, fmt.Errorf("table key %q: %w", key, err)
		}
		t[key] = v
	}
	return t, nil
}

func (r *Reader) readArray() ([]any, error) {
	raw, err := r.ReadLongStr()
	if err != nil {
		return nil, err
	}
	inner := NewReader(raw)
	out := make([]any, 0)
	for inner.Remaining() > 0 {
		v, err := inner.readFieldValue()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *Reader) readFieldValue() (any, error) {
	tag, err := r.ReadOctet()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 'V':
		return nil, nil
	case 't':
		b, err := r.ReadOctet()
		return b != 0, err
	case 'b':
		b, err := r.ReadOctet()
		return int8(b), err
	case 'B':
		return r.ReadOctet()
	case 's':
		v, err := r.ReadShort()
		return int16(v), err
	case 'u':
		return r.ReadShort()
	case 'I':
		v, err := r.ReadLong()
		return int32(v), err
	case 'i':
		return r.ReadLong()
	case 'l':
		v, err := r.ReadLongLong()
		return int64(v), err
	case 'f':
		v, err := r.ReadLong()
		return math.Float32frombits(v), err
	case 'd':
		v, err := r.ReadLongLong()
		return math.Float64frombits(v), err
	case 'D':
		scale, err := r.ReadOctet()
		if err != nil {
			return nil, err
		}
		v, err := r.ReadLong()
		return Decimal{Scale: scale, Value: int32(v)}, err
	case 'S':
		b, err := r.ReadLongStr()
		return string(b), err
	case 'x':
		return r.ReadLongStr()
	case 'T':
		return r.ReadTimestamp()
	case 'F':
		return r.ReadTable()
	case 'A':
		return r.readArray()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFieldType, tag)
	}
}
