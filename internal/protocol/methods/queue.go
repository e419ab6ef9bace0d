package methods

import (
	"github.com/danmuck/edgemq/internal/protocol"
	"github.com/danmuck/edgemq/internal/protocol/wire"
)

type ExchangeDeclare struct {
	noContent
	Exchange   string
	Type       string
	Passive    bool
	Durable    bool
	AutoDelete bool
	Internal   bool
	NoWait     bool
	Arguments  wire.Table
}

func (*ExchangeDeclare) ClassID() uint16  { return protocol.ClassExchange }
func (*ExchangeDeclare) MethodID() uint16 { return 10 }
func (m *ExchangeDeclare) EstimateSize() int {
	return 2 + 1 + len(m.Exchange) + 1 + len(m.Type) + 1 + 4 + 32*len(m.Arguments)
}

func (m *ExchangeDeclare) Encode(w *wire.Writer) error {
	w.WriteShort(0)
	if err := w.WriteShortStr(m.Exchange); err != nil {
		return err
	}
	if err := w.WriteShortStr(m.Type); err != nil {
		return err
	}
	w.WriteBit(m.Passive)
	w.WriteBit(m.Durable)
	w.WriteBit(m.AutoDelete)
	w.WriteBit(m.Internal)
	w.WriteBit(m.NoWait)
	return w.WriteTable(m.Arguments)
}

func (m *ExchangeDeclare) Decode(r *wire.Reader) (err error) {
	if _, err = r.ReadShort(); err != nil {
		return err
	}
	if m.Exchange, err = r.ReadShortStr(); err != nil {
		return err
	}
	if m.Type, err = r.ReadShortStr(); err != nil {
		return err
	}
	bits, err := readBits(r, 5)
	if err != nil {
		return err
	}
	m.Passive, m.Durable, m.AutoDelete, m.Internal, m.NoWait = bits[0], bits[1], bits[2], bits[3], bits[4]
	m.Arguments, err = r.ReadTable()
	return err
}

type ExchangeDeclareOk struct {
	noContent
}

func (*ExchangeDeclareOk) ClassID() uint16           { return protocol.ClassExchange }
func (*ExchangeDeclareOk) MethodID() uint16          { return 11 }
func (*ExchangeDeclareOk) EstimateSize() int         { return 0 }
func (*ExchangeDeclareOk) Encode(*wire.Writer) error { return nil }
func (*ExchangeDeclareOk) Decode(*wire.Reader) error { return nil }

type QueueDeclare struct {
	noContent
	Queue      string
	Passive    bool
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	NoWait     bool
	Arguments  wire.Table
}

func (*QueueDeclare) ClassID() uint16  { return protocol.ClassQueue }
func (*QueueDeclare) MethodID() uint16 { return 10 }
func (m *QueueDeclare) EstimateSize() int {
	return 2 + 1 + len(m.Queue) + 1 + 4 + 32*len(m.Arguments)
}

func (m *QueueDeclare) Encode(w *wire.Writer) error {
	w.WriteShort(0)
	if err := w.WriteShortStr(m.Queue); err != nil {
		return err
	}
	w.WriteBit(m.Passive)
	w.WriteBit(m.Durable)
	w.WriteBit(m.Exclusive)
	w.WriteBit(m.AutoDelete)
	w.WriteBit(m.NoWait)
	return w.WriteTable(m.Arguments)
}

func (m *QueueDeclare) Decode(r *wire.Reader) (err error) {
	if _, err = r.ReadShort(); err != nil {
		return err
	}
	if m.Queue, err = r.ReadShortStr(); err != nil {
		return err
	}
	bits, err := readBits(r, 5)
	if err != nil {
		return err
	}
	m.Passive, m.Durable, m.Exclusive, m.AutoDelete, m.NoWait = bits[0], bits[1], bits[2], bits[3], bits[4]
	m.Arguments, err = r.ReadTable()
	return err
}

type QueueDeclareOk struct {
	noContent
	Queue         string
	MessageCount  uint32
	ConsumerCount uint32
}

func (*QueueDeclareOk) ClassID() uint16     { return protocol.ClassQueue }
func (*QueueDeclareOk) MethodID() uint16    { return 11 }
func (m *QueueDeclareOk) EstimateSize() int { return 1 + len(m.Queue) + 8 }

func (m *QueueDeclareOk) Encode(w *wire.Writer) error {
	if err := w.WriteShortStr(m.Queue); err != nil {
		return err
	}
	w.WriteLong(m.MessageCount)
	w.WriteLong(m.ConsumerCount)
	return nil
}

func (m *QueueDeclareOk) Decode(r *wire.Reader) (err error) {
	if m.Queue, err = r.ReadShortStr(); err != nil {
		return err
	}
	if m.MessageCount, err = r.ReadLong(); err != nil {
		return err
	}
	m.ConsumerCount, err = r.ReadLong()
	return err
}

type QueueBind struct {
	noContent
	Queue      string
	Exchange   string
	RoutingKey string
	NoWait     bool
	Arguments  wire.Table
}

func (*QueueBind) ClassID() uint16  { return protocol.ClassQueue }
func (*QueueBind) MethodID() uint16 { return 20 }
func (m *QueueBind) EstimateSize() int {
	return 2 + 3 + len(m.Queue) + len(m.Exchange) + len(m.RoutingKey) + 1 + 4 + 32*len(m.Arguments)
}

func (m *QueueBind) Encode(w *wire.Writer) error {
	w.WriteShort(0)
	for _, s := range []string{m.Queue, m.Exchange, m.RoutingKey} {
		if err := w.WriteShortStr(s); err != nil {
			return err
		}
	}
	w.WriteBit(m.NoWait)
	return w.WriteTable(m.Arguments)
}

func (m *QueueBind) Decode(r *wire.Reader) (err error) {
	if _, err = r.ReadShort(); err != nil {
		return err
	}
	if m.Queue, err = r.ReadShortStr(); err != nil {
		return err
	}
	if m.Exchange, err = r.ReadShortStr(); err != nil {
		return err
	}
	if m.RoutingKey, err = r.ReadShortStr(); err != nil {
		return err
	}
	if m.NoWait, err = r.ReadBit(); err != nil {
		return err
	}
	m.Arguments, err = r.ReadTable()
	return err
}

type QueueBindOk struct {
	noContent
}

func (*QueueBindOk) ClassID() uint16           { return protocol.ClassQueue }
func (*QueueBindOk) MethodID() uint16          { return 21 }
func (*QueueBindOk) EstimateSize() int         { return 0 }
func (*QueueBindOk) Encode(*wire.Writer) error { return nil }
func (*QueueBindOk) Decode(*wire.Reader) error { return nil }

type QueueDelete struct {
	noContent
	Queue    string
	IfUnused bool
	IfEmpty  bool
	NoWait   bool
}

func (*QueueDelete) ClassID() uint16     { return protocol.ClassQueue }
func (*QueueDelete) MethodID() uint16    { return 40 }
func (m *QueueDelete) EstimateSize() int { return 2 + 1 + len(m.Queue) + 1 }

func (m *QueueDelete) Encode(w *wire.Writer) error {
	w.WriteShort(0)
	if err := w.WriteShortStr(m.Queue); err != nil {
		return err
	}
	w.WriteBit(m.IfUnused)
	w.WriteBit(m.IfEmpty)
	w.WriteBit(m.NoWait)
	return nil
}

func (m *QueueDelete) Decode(r *wire.Reader) (err error) {
	if _, err = r.ReadShort(); err != nil {
		return err
	}
	if m.Queue, err = r.ReadShortStr(); err != nil {
		return err
	}
	bits, err := readBits(r, 3)
	if err != nil {
		return err
	}
	m.IfUnused, m.IfEmpty, m.NoWait = bits[0], bits[1], bits[2]
	return nil
}

type QueueDeleteOk struct {
	noContent
	MessageCount uint32
}

func (*QueueDeleteOk) ClassID() uint16   { return protocol.ClassQueue }
func (*QueueDeleteOk) MethodID() uint16  { return 41 }
func (*QueueDeleteOk) EstimateSize() int { return 4 }

func (m *QueueDeleteOk) Encode(w *wire.Writer) error {
	w.WriteLong(m.MessageCount)
	return nil
}

func (m *QueueDeleteOk) Decode(r *wire.Reader) (err error) {
	m.MessageCount, err = r.ReadLong()
	return err
}

func readBits(r *wire.Reader, n int) ([]bool, error) {
	out := make([]bool, n)
	for i := range out {
		v, err := r.ReadBit()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
