package methods

import (
	"github.com/danmuck/edgemq/internal/protocol"
	"github.com/danmuck/edgemq/internal/protocol/wire"
)

type ChannelOpen struct {
	noContent
}

func (*ChannelOpen) ClassID() uint16             { return protocol.ClassChannel }
func (*ChannelOpen) MethodID() uint16            { return 10 }
func (*ChannelOpen) EstimateSize() int           { return 1 }
func (*ChannelOpen) Encode(w *wire.Writer) error { return w.WriteShortStr("") }

func (*ChannelOpen) Decode(r *wire.Reader) error {
	_, err := r.ReadShortStr()
	return err
}

type ChannelOpenOk struct {
	noContent
}

func (*ChannelOpenOk) ClassID() uint16   { return protocol.ClassChannel }
func (*ChannelOpenOk) MethodID() uint16  { return 11 }
func (*ChannelOpenOk) EstimateSize() int { return 4 }

func (*ChannelOpenOk) Encode(w *wire.Writer) error {
	w.WriteLongStr(nil)
	return nil
}

func (*ChannelOpenOk) Decode(r *wire.Reader) error {
	_, err := r.ReadLongStr()
	return err
}

type ChannelFlow struct {
	noContent
	Active bool
}

func (*ChannelFlow) ClassID() uint16   { return protocol.ClassChannel }
func (*ChannelFlow) MethodID() uint16  { return 20 }
func (*ChannelFlow) EstimateSize() int { return 1 }

func (m *ChannelFlow) Encode(w *wire.Writer) error {
	w.WriteBit(m.Active)
	return nil
}

func (m *ChannelFlow) Decode(r *wire.Reader) (err error) {
	m.Active, err = r.ReadBit()
	return err
}

type ChannelFlowOk struct {
	noContent
	Active bool
}

func (*ChannelFlowOk) ClassID() uint16   { return protocol.ClassChannel }
func (*ChannelFlowOk) MethodID() uint16  { return 21 }
func (*ChannelFlowOk) EstimateSize() int { return 1 }

func (m *ChannelFlowOk) Encode(w *wire.Writer) error {
	w.WriteBit(m.Active)
	return nil
}

func (m *ChannelFlowOk) Decode(r *wire.Reader) (err error) {
	m.Active, err = r.ReadBit()
	return err
}

type ChannelClose struct {
	noContent
	ReplyCode uint16
	ReplyText string
	ClassId   uint16
	MethodId  uint16
}

func (*ChannelClose) ClassID() uint16     { return protocol.ClassChannel }
func (*ChannelClose) MethodID() uint16    { return 40 }
func (m *ChannelClose) EstimateSize() int { return 7 + len(m.ReplyText) }

func (m *ChannelClose) Encode(w *wire.Writer) error {
	return encodeClose(w, m.ReplyCode, m.ReplyText, m.ClassId, m.MethodId)
}

func (m *ChannelClose) Decode(r *wire.Reader) (err error) {
	m.ReplyCode, m.ReplyText, m.ClassId, m.MethodId, err = decodeClose(r)
	return err
}

type ChannelCloseOk struct {
	noContent
}

func (*ChannelCloseOk) ClassID() uint16           { return protocol.ClassChannel }
func (*ChannelCloseOk) MethodID() uint16          { return 41 }
func (*ChannelCloseOk) EstimateSize() int         { return 0 }
func (*ChannelCloseOk) Encode(*wire.Writer) error { return nil }
func (*ChannelCloseOk) Decode(*wire.Reader) error { return nil }

type ConfirmSelect struct {
	noContent
	NoWait bool
}

func (*ConfirmSelect) ClassID() uint16   { return protocol.ClassConfirm }
func (*ConfirmSelect) MethodID() uint16  { return 10 }
func (*ConfirmSelect) EstimateSize() int { return 1 }

func (m *ConfirmSelect) Encode(w *wire.Writer) error {
	w.WriteBit(m.NoWait)
	return nil
}

func (m *ConfirmSelect) Decode(r *wire.Reader) (err error) {
	m.NoWait, err = r.ReadBit()
	return err
}

type ConfirmSelectOk struct {
	noContent
}

func (*ConfirmSelectOk) ClassID() uint16           { return protocol.ClassConfirm }
func (*ConfirmSelectOk) MethodID() uint16          { return 11 }
func (*ConfirmSelectOk) EstimateSize() int         { return 0 }
func (*ConfirmSelectOk) Encode(*wire.Writer) error { return nil }
func (*ConfirmSelectOk) Decode(*wire.Reader) error { return nil }
