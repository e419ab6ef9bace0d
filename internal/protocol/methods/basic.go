package methods

import (
	"github.com/danmuck/edgemq/internal/protocol"
	"github.com/danmuck/edgemq/internal/protocol/wire"
)

type BasicQos struct {
	noContent
	PrefetchSize  uint32
	PrefetchCount uint16
	Global        bool
}

func (*BasicQos) ClassID() uint16   { return protocol.ClassBasic }
func (*BasicQos) MethodID() uint16  { return 10 }
func (*BasicQos) EstimateSize() int { return 7 }

func (m *BasicQos) Encode(w *wire.Writer) error {
	w.WriteLong(m.PrefetchSize)
	w.WriteShort(m.PrefetchCount)
	w.WriteBit(m.Global)
	return nil
}

func (m *BasicQos) Decode(r *wire.Reader) (err error) {
	if m.PrefetchSize, err = r.ReadLong(); err != nil {
		return err
	}
	if m.PrefetchCount, err = r.ReadShort(); err != nil {
		return err
	}
	m.Global, err = r.ReadBit()
	return err
}

type BasicQosOk struct {
	noContent
}

func (*BasicQosOk) ClassID() uint16           { return protocol.ClassBasic }
func (*BasicQosOk) MethodID() uint16          { return 11 }
func (*BasicQosOk) EstimateSize() int         { return 0 }
func (*BasicQosOk) Encode(*wire.Writer) error { return nil }
func (*BasicQosOk) Decode(*wire.Reader) error { return nil }

type BasicConsume struct {
	noContent
	Queue       string
	ConsumerTag string
	NoLocal     bool
	NoAck       bool
	Exclusive   bool
	NoWait      bool
	Arguments   wire.Table
}

func (*BasicConsume) ClassID() uint16  { return protocol.ClassBasic }
func (*BasicConsume) MethodID() uint16 { return 20 }
func (m *BasicConsume) EstimateSize() int {
	return 2 + 2 + len(m.Queue) + len(m.ConsumerTag) + 1 + 4 + 32*len(m.Arguments)
}

func (m *BasicConsume) Encode(w *wire.Writer) error {
	w.WriteShort(0)
	if err := w.WriteShortStr(m.Queue); err != nil {
		return err
	}
	if err := w.WriteShortStr(m.ConsumerTag); err != nil {
		return err
	}
	w.WriteBit(m.NoLocal)
	w.WriteBit(m.NoAck)
	w.WriteBit(m.Exclusive)
	w.WriteBit(m.NoWait)
	return w.WriteTable(m.Arguments)
}

func (m *BasicConsume) Decode(r *wire.Reader) (err error) {
	if _, err = r.ReadShort(); err != nil {
		return err
	}
	if m.Queue, err = r.ReadShortStr(); err != nil {
		return err
	}
	if m.ConsumerTag, err = r.ReadShortStr(); err != nil {
		return err
	}
	bits, err := readBits(r, 4)
	if err != nil {
		return err
	}
	m.NoLocal, m.NoAck, m.Exclusive, m.NoWait = bits[0], bits[1], bits[2], bits[3]
	m.Arguments, err = r.ReadTable()
	return err
}

type BasicConsumeOk struct {
	noContent
	ConsumerTag string
}

func (*BasicConsumeOk) ClassID() uint16               { return protocol.ClassBasic }
func (*BasicConsumeOk) MethodID() uint16              { return 21 }
func (m *BasicConsumeOk) EstimateSize() int           { return 1 + len(m.ConsumerTag) }
func (m *BasicConsumeOk) Encode(w *wire.Writer) error { return w.WriteShortStr(m.ConsumerTag) }

func (m *BasicConsumeOk) Decode(r *wire.Reader) (err error) {
	m.ConsumerTag, err = r.ReadShortStr()
	return err
}

type BasicCancel struct {
	noContent
	ConsumerTag string
	NoWait      bool
}

func (*BasicCancel) ClassID() uint16     { return protocol.ClassBasic }
func (*BasicCancel) MethodID() uint16    { return 30 }
func (m *BasicCancel) EstimateSize() int { return 2 + len(m.ConsumerTag) }

func (m *BasicCancel) Encode(w *wire.Writer) error {
	if err := w.WriteShortStr(m.ConsumerTag); err != nil {
		return err
	}
	w.WriteBit(m.NoWait)
	return nil
}

func (m *BasicCancel) Decode(r *wire.Reader) (err error) {
	if m.ConsumerTag, err = r.ReadShortStr(); err != nil {
		return err
	}
	m.NoWait, err = r.ReadBit()
	return err
}

type BasicCancelOk struct {
	noContent
	ConsumerTag string
}

func (*BasicCancelOk) ClassID() uint16               { return protocol.ClassBasic }
func (*BasicCancelOk) MethodID() uint16              { return 31 }
func (m *BasicCancelOk) EstimateSize() int           { return 1 + len(m.ConsumerTag) }
func (m *BasicCancelOk) Encode(w *wire.Writer) error { return w.WriteShortStr(m.ConsumerTag) }

func (m *BasicCancelOk) Decode(r *wire.Reader) (err error) {
	m.ConsumerTag, err = r.ReadShortStr()
	return err
}

type BasicPublish struct {
	withContent
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Immediate  bool
}

func (*BasicPublish) ClassID() uint16     { return protocol.ClassBasic }
func (*BasicPublish) MethodID() uint16    { return 40 }
func (m *BasicPublish) EstimateSize() int { return 2 + 2 + len(m.Exchange) + len(m.RoutingKey) + 1 }

func (m *BasicPublish) Encode(w *wire.Writer) error {
	w.WriteShort(0)
	if err := w.WriteShortStr(m.Exchange); err != nil {
		return err
	}
	if err := w.WriteShortStr(m.RoutingKey); err != nil {
		return err
	}
	w.WriteBit(m.Mandatory)
	w.WriteBit(m.Immediate)
	return nil
}

func (m *BasicPublish) Decode(r *wire.Reader) (err error) {
	if _, err = r.ReadShort(); err != nil {
		return err
	}
	if m.Exchange, err = r.ReadShortStr(); err != nil {
		return err
	}
	if m.RoutingKey, err = r.ReadShortStr(); err != nil {
		return err
	}
	if m.Mandatory, err = r.ReadBit(); err != nil {
		return err
	}
	m.Immediate, err = r.ReadBit()
	return err
}

type BasicReturn struct {
	withContent
	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string
}

func (*BasicReturn) ClassID() uint16  { return protocol.ClassBasic }
func (*BasicReturn) MethodID() uint16 { return 50 }
func (m *BasicReturn) EstimateSize() int {
	return 2 + 3 + len(m.ReplyText) + len(m.Exchange) + len(m.RoutingKey)
}

func (m *BasicReturn) Encode(w *wire.Writer) error {
	w.WriteShort(m.ReplyCode)
	for _, s := range []string{m.ReplyText, m.Exchange, m.RoutingKey} {
		if err := w.WriteShortStr(s); err != nil {
			return err
		}
	}
	return nil
}

func (m *BasicReturn) Decode(r *wire.Reader) (err error) {
	if m.ReplyCode, err = r.ReadShort(); err != nil {
		return err
	}
	if m.ReplyText, err = r.ReadShortStr(); err != nil {
		return err
	}
	if m.Exchange, err = r.ReadShortStr(); err != nil {
		return err
	}
	m.RoutingKey, err = r.ReadShortStr()
	return err
}

type BasicDeliver struct {
	withContent
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string
}

func (*BasicDeliver) ClassID() uint16  { return protocol.ClassBasic }
func (*BasicDeliver) MethodID() uint16 { return 60 }
func (m *BasicDeliver) EstimateSize() int {
	return 3 + len(m.ConsumerTag) + 8 + 1 + len(m.Exchange) + len(m.RoutingKey)
}

func (m *BasicDeliver) Encode(w *wire.Writer) error {
	if err := w.WriteShortStr(m.ConsumerTag); err != nil {
		return err
	}
	w.WriteLongLong(m.DeliveryTag)
	w.WriteBit(m.Redelivered)
	if err := w.WriteShortStr(m.Exchange); err != nil {
		return err
	}
	return w.WriteShortStr(m.RoutingKey)
}

func (m *BasicDeliver) Decode(r *wire.Reader) (err error) {
	if m.ConsumerTag, err = r.ReadShortStr(); err != nil {
		return err
	}
	if m.DeliveryTag, err = r.ReadLongLong(); err != nil {
		return err
	}
	if m.Redelivered, err = r.ReadBit(); err != nil {
		return err
	}
	if m.Exchange, err = r.ReadShortStr(); err != nil {
		return err
	}
	m.RoutingKey, err = r.ReadShortStr()
	return err
}

type BasicAck struct {
	noContent
	DeliveryTag uint64
	Multiple    bool
}

func (*BasicAck) ClassID() uint16   { return protocol.ClassBasic }
func (*BasicAck) MethodID() uint16  { return 80 }
func (*BasicAck) EstimateSize() int { return 9 }

func (m *BasicAck) Encode(w *wire.Writer) error {
	w.WriteLongLong(m.DeliveryTag)
	w.WriteBit(m.Multiple)
	return nil
}

func (m *BasicAck) Decode(r *wire.Reader) (err error) {
	if m.DeliveryTag, err = r.ReadLongLong(); err != nil {
		return err
	}
	m.Multiple, err = r.ReadBit()
	return err
}

type BasicReject struct {
	noContent
	DeliveryTag uint64
	Requeue     bool
}

func (*BasicReject) ClassID() uint16   { return protocol.ClassBasic }
func (*BasicReject) MethodID() uint16  { return 90 }
func (*BasicReject) EstimateSize() int { return 9 }

func (m *BasicReject) Encode(w *wire.Writer) error {
	w.WriteLongLong(m.DeliveryTag)
	w.WriteBit(m.Requeue)
	return nil
}

func (m *BasicReject) Decode(r *wire.Reader) (err error) {
	if m.DeliveryTag, err = r.ReadLongLong(); err != nil {
		return err
	}
	m.Requeue, err = r.ReadBit()
	return err
}

type BasicNack struct {
	noContent
	DeliveryTag uint64
	Multiple    bool
	Requeue     bool
}

func (*BasicNack) ClassID() uint16   { return protocol.ClassBasic }
func (*BasicNack) MethodID() uint16  { return 120 }
func (*BasicNack) EstimateSize() int { return 9 }

func (m *BasicNack) Encode(w *wire.Writer) error {
	w.WriteLongLong(m.DeliveryTag)
	w.WriteBit(m.Multiple)
	w.WriteBit(m.Requeue)
	return nil
}

func (m *BasicNack) Decode(r *wire.Reader) (err error) {
	if m.DeliveryTag, err = r.ReadLongLong(); err != nil {
		return err
	}
	if m.Multiple, err = r.ReadBit(); err != nil {
		return err
	}
	m.Requeue, err = r.ReadBit()
	return err
}
