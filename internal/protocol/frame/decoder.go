package frame

// Decoder reassembles frames from arbitrarily split chunks of inbound bytes.
// It is fed by a transport's receive callback and drained by a single reader.
type Decoder struct {
	limits Limits
	buf    []byte
}

func NewDecoder(limits Limits) *Decoder {
	return &Decoder{limits: limits}
}

// SetLimits replaces the payload limits, e.g. after frame_max negotiation.
func (d *Decoder) SetLimits(limits Limits) {
	d.limits = limits
}

// Feed appends received bytes to the pending buffer.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Buffered reports how many undecoded bytes are pending.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next decodes one frame from the pending buffer. It returns ErrNeedMoreData
// when the buffer holds only a partial frame; a malformed frame yields a
// *protocol.ProtocolError and leaves the decoder unusable.
func (d *Decoder) Next() (Frame, error) {
	if len(d.buf) < HeaderLen {
		return Frame{}, ErrNeedMoreData
	}
	typ, channel, size := DecodeHeader(d.buf)
	if err := checkHeader(typ, channel, size, d.limits); err != nil {
		return Frame{}, err
	}
	total := HeaderLen + int(size) + 1
	if len(d.buf) < total {
		return Frame{}, ErrNeedMoreData
	}
	if end := d.buf[total-1]; end != End {
		return Frame{}, malformedEnd(end)
	}

	payload := make([]byte, size)
	copy(payload, d.buf[HeaderLen:HeaderLen+int(size)])

	rest := copy(d.buf, d.buf[total:])
	d.buf = d.buf[:rest]
	return Frame{Type: typ, Channel: channel, Payload: payload}, nil
}
