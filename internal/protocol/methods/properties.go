package methods

import (
	"time"

	"github.com/danmuck/edgemq/internal/protocol"
	"github.com/danmuck/edgemq/internal/protocol/wire"
)

// Property presence flags, most significant bit first.
const (
	flagContentType     uint16 = 0x8000
	flagContentEncoding uint16 = 0x4000
	flagHeaders         uint16 = 0x2000
	flagDeliveryMode    uint16 = 0x1000
	flagPriority        uint16 = 0x0800
	flagCorrelationID   uint16 = 0x0400
	flagReplyTo         uint16 = 0x0200
	flagExpiration      uint16 = 0x0100
	flagMessageID       uint16 = 0x0080
	flagTimestamp       uint16 = 0x0040
	flagType            uint16 = 0x0020
	flagUserID          uint16 = 0x0010
	flagAppID           uint16 = 0x0008
	flagClusterID       uint16 = 0x0004
)

// Properties are the basic-class content properties carried by a header frame.
type Properties struct {
	ContentType     string
	ContentEncoding string
	Headers         wire.Table
	DeliveryMode    uint8
	Priority        uint8
	CorrelationID   string
	ReplyTo         string
	Expiration      string
	MessageID       string
	Timestamp       time.Time
	Type            string
	UserID          string
	AppID           string
	ClusterID       string
}

// Header is a decoded content header frame payload.
type Header struct {
	ClassID    uint16
	BodySize   uint64
	Properties Properties
}

func (p *Properties) flags() uint16 {
	var f uint16
	set := func(cond bool, bit uint16) {
		if cond {
			f |= bit
		}
	}
	set(p.ContentType != "", flagContentType)
	set(p.ContentEncoding != "", flagContentEncoding)
	set(len(p.Headers) > 0, flagHeaders)
	set(p.DeliveryMode != 0, flagDeliveryMode)
	set(p.Priority != 0, flagPriority)
	set(p.CorrelationID != "", flagCorrelationID)
	set(p.ReplyTo != "", flagReplyTo)
	set(p.Expiration != "", flagExpiration)
	set(p.MessageID != "", flagMessageID)
	set(!p.Timestamp.IsZero(), flagTimestamp)
	set(p.Type != "", flagType)
	set(p.UserID != "", flagUserID)
	set(p.AppID != "", flagAppID)
	set(p.ClusterID != "", flagClusterID)
	return f
}

// MarshalHeader encodes a content header frame payload.
func MarshalHeader(h Header) ([]byte, error) {
	p := &h.Properties
	flags := p.flags()
	w := wire.NewWriter(14 + 64)
	w.WriteShort(h.ClassID)
	w.WriteShort(0)
	w.WriteLongLong(h.BodySize)
	w.WriteShort(flags)

	shortStrs := []struct {
		bit uint16
		val string
	}{
		{flagContentType, p.ContentType},
		{flagContentEncoding, p.ContentEncoding},
	}
	for _, s := range shortStrs {
		if flags&s.bit != 0 {
			if err := w.WriteShortStr(s.val); err != nil {
				return nil, err
			}
		}
	}
	if flags&flagHeaders != 0 {
		if err := w.WriteTable(p.Headers); err != nil {
			return nil, err
		}
	}
	if flags&flagDeliveryMode != 0 {
		w.WriteOctet(p.DeliveryMode)
	}
	if flags&flagPriority != 0 {
		w.WriteOctet(p.Priority)
	}
	for _, s := range []struct {
		bit uint16
		val string
	}{
		{flagCorrelationID, p.CorrelationID},
		{flagReplyTo, p.ReplyTo},
		{flagExpiration, p.Expiration},
		{flagMessageID, p.MessageID},
	} {
		if flags&s.bit != 0 {
			if err := w.WriteShortStr(s.val); err != nil {
				return nil, err
			}
		}
	}
	if flags&flagTimestamp != 0 {
		w.WriteTimestamp(p.Timestamp)
	}
	for _, s := range []struct {
		bit uint16
		val string
	}{
		{flagType, p.Type},
		{flagUserID, p.UserID},
		{flagAppID, p.AppID},
		{flagClusterID, p.ClusterID},
	} {
		if flags&s.bit != 0 {
			if err := w.WriteShortStr(s.val); err != nil {
				return nil, err
			}
		}
	}
	return w.Bytes(), nil
}

// UnmarshalHeader decodes a content header frame payload.
func UnmarshalHeader(payload []byte) (Header, error) {
	r := wire.NewReader(payload)
	var h Header
	var err error
	if h.ClassID, err = r.ReadShort(); err != nil {
		return Header{}, protocol.Malformed("content header: %v", err)
	}
	if _, err = r.ReadShort(); err != nil {
		return Header{}, protocol.Malformed("content header: %v", err)
	}
	if h.BodySize, err = r.ReadLongLong(); err != nil {
		return Header{}, protocol.Malformed("content header: %v", err)
	}
	flags, err := r.ReadShort()
	if err != nil {
		return Header{}, protocol.Malformed("content header: %v", err)
	}
	if err := h.Properties.decode(r, flags); err != nil {
		return Header{}, protocol.Malformed("content properties: %v", err)
	}
	return h, nil
}

func (p *Properties) decode(r *wire.Reader, flags uint16) error {
	str := func(bit uint16, dst *string) error {
		if flags&bit == 0 {
			return nil
		}
		v, err := r.ReadShortStr()
		*dst = v
		return err
	}
	oct := func(bit uint16, dst *uint8) error {
		if flags&bit == 0 {
			return nil
		}
		v, err := r.ReadOctet()
		*dst = v
		return err
	}
	steps := []func() error{
		func() error { return str(flagContentType, &p.ContentType) },
		func() error { return str(flagContentEncoding, &p.ContentEncoding) },
		func() error {
			if flags&flagHeaders == 0 {
				return nil
			}
			t, err := r.ReadTable()
			p.Headers = t
			return err
		},
		func() error { return oct(flagDeliveryMode, &p.DeliveryMode) },
		func() error { return oct(flagPriority, &p.Priority) },
		func() error { return str(flagCorrelationID, &p.CorrelationID) },
		func() error { return str(flagReplyTo, &p.ReplyTo) },
		func() error { return str(flagExpiration, &p.Expiration) },
		func() error { return str(flagMessageID, &p.MessageID) },
		func() error {
			if flags&flagTimestamp == 0 {
				return nil
			}
			ts, err := r.ReadTimestamp()
			p.Timestamp = ts
			return err
		},
		func() error { return str(flagType, &p.Type) },
		func() error { return str(flagUserID, &p.UserID) },
		func() error { return str(flagAppID, &p.AppID) },
		func() error { return str(flagClusterID, &p.ClusterID) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
