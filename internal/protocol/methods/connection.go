package methods

import (
	"github.com/danmuck/edgemq/internal/protocol"
	"github.com/danmuck/edgemq/internal/protocol/wire"
)

type ConnectionStart struct {
	noContent
	VersionMajor     uint8
	VersionMinor     uint8
	ServerProperties wire.Table
	Mechanisms       string
	Locales          string
}

func (*ConnectionStart) ClassID() uint16  { return protocol.ClassConnection }
func (*ConnectionStart) MethodID() uint16 { return 10 }
func (m *ConnectionStart) EstimateSize() int {
	return 2 + 4 + 64*len(m.ServerProperties) + 4 + len(m.Mechanisms) + 4 + len(m.Locales)
}

func (m *ConnectionStart) Encode(w *wire.Writer) error {
	w.WriteOctet(m.VersionMajor)
	w.WriteOctet(m.VersionMinor)
	if err := w.WriteTable(m.ServerProperties); err != nil {
		return err
	}
	w.WriteLongStr([]byte(m.Mechanisms))
	w.WriteLongStr([]byte(m.Locales))
	return nil
}

func (m *ConnectionStart) Decode(r *wire.Reader) (err error) {
	if m.VersionMajor, err = r.ReadOctet(); err != nil {
		return err
	}
	if m.VersionMinor, err = r.ReadOctet(); err != nil {
		return err
	}
	if m.ServerProperties, err = r.ReadTable(); err != nil {
		return err
	}
	mech, err := r.ReadLongStr()
	if err != nil {
		return err
	}
	locales, err := r.ReadLongStr()
	if err != nil {
		return err
	}
	m.Mechanisms, m.Locales = string(mech), string(locales)
	return nil
}

type ConnectionStartOk struct {
	noContent
	ClientProperties wire.Table
	Mechanism        string
	Response         string
	Locale           string
}

func (*ConnectionStartOk) ClassID() uint16  { return protocol.ClassConnection }
func (*ConnectionStartOk) MethodID() uint16 { return 11 }
func (m *ConnectionStartOk) EstimateSize() int {
	return 4 + 64*len(m.ClientProperties) + 1 + len(m.Mechanism) + 4 + len(m.Response) + 1 + len(m.Locale)
}

func (m *ConnectionStartOk) Encode(w *wire.Writer) error {
	if err := w.WriteTable(m.ClientProperties); err != nil {
		return err
	}
	if err := w.WriteShortStr(m.Mechanism); err != nil {
		return err
	}
	w.WriteLongStr([]byte(m.Response))
	return w.WriteShortStr(m.Locale)
}

func (m *ConnectionStartOk) Decode(r *wire.Reader) (err error) {
	if m.ClientProperties, err = r.ReadTable(); err != nil {
		return err
	}
	if m.Mechanism, err = r.ReadShortStr(); err != nil {
		return err
	}
	resp, err := r.ReadLongStr()
	if err != nil {
		return err
	}
	m.Response = string(resp)
	m.Locale, err = r.ReadShortStr()
	return err
}

type ConnectionTune struct {
	noContent
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

func (*ConnectionTune) ClassID() uint16   { return protocol.ClassConnection }
func (*ConnectionTune) MethodID() uint16  { return 30 }
func (*ConnectionTune) EstimateSize() int { return 8 }

func (m *ConnectionTune) Encode(w *wire.Writer) error {
	encodeTune(w, m.ChannelMax, m.FrameMax, m.Heartbeat)
	return nil
}

func (m *ConnectionTune) Decode(r *wire.Reader) (err error) {
	m.ChannelMax, m.FrameMax, m.Heartbeat, err = decodeTune(r)
	return err
}

type ConnectionTuneOk struct {
	noContent
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

func (*ConnectionTuneOk) ClassID() uint16   { return protocol.ClassConnection }
func (*ConnectionTuneOk) MethodID() uint16  { return 31 }
func (*ConnectionTuneOk) EstimateSize() int { return 8 }

func (m *ConnectionTuneOk) Encode(w *wire.Writer) error {
	encodeTune(w, m.ChannelMax, m.FrameMax, m.Heartbeat)
	return nil
}

func (m *ConnectionTuneOk) Decode(r *wire.Reader) (err error) {
	m.ChannelMax, m.FrameMax, m.Heartbeat, err = decodeTune(r)
	return err
}

func encodeTune(w *wire.Writer, channelMax uint16, frameMax uint32, heartbeat uint16) {
	w.WriteShort(channelMax)
	w.WriteLong(frameMax)
	w.WriteShort(heartbeat)
}

func decodeTune(r *wire.Reader) (channelMax uint16, frameMax uint32, heartbeat uint16, err error) {
	if channelMax, err = r.ReadShort(); err != nil {
		return
	}
	if frameMax, err = r.ReadLong(); err != nil {
		return
	}
	heartbeat, err = r.ReadShort()
	return
}

type ConnectionOpen struct {
	noContent
	VirtualHost string
}

func (*ConnectionOpen) ClassID() uint16     { return protocol.ClassConnection }
func (*ConnectionOpen) MethodID() uint16    { return 40 }
func (m *ConnectionOpen) EstimateSize() int { return 1 + len(m.VirtualHost) + 2 }

func (m *ConnectionOpen) Encode(w *wire.Writer) error {
	if err := w.WriteShortStr(m.VirtualHost); err != nil {
		return err
	}
	if err := w.WriteShortStr(""); err != nil {
		return err
	}
	w.WriteBit(false)
	return nil
}

func (m *ConnectionOpen) Decode(r *wire.Reader) (err error) {
	if m.VirtualHost, err = r.ReadShortStr(); err != nil {
		return err
	}
	if _, err = r.ReadShortStr(); err != nil {
		return err
	}
	_, err = r.ReadBit()
	return err
}

type ConnectionOpenOk struct {
	noContent
}

func (*ConnectionOpenOk) ClassID() uint16   { return protocol.ClassConnection }
func (*ConnectionOpenOk) MethodID() uint16  { return 41 }
func (*ConnectionOpenOk) EstimateSize() int { return 1 }

func (*ConnectionOpenOk) Encode(w *wire.Writer) error { return w.WriteShortStr("") }

func (*ConnectionOpenOk) Decode(r *wire.Reader) error {
	_, err := r.ReadShortStr()
	return err
}

type ConnectionClose struct {
	noContent
	ReplyCode uint16
	ReplyText string
	ClassId   uint16
	MethodId  uint16
}

func (*ConnectionClose) ClassID() uint16     { return protocol.ClassConnection }
func (*ConnectionClose) MethodID() uint16    { return 50 }
func (m *ConnectionClose) EstimateSize() int { return 7 + len(m.ReplyText) }

func (m *ConnectionClose) Encode(w *wire.Writer) error {
	return encodeClose(w, m.ReplyCode, m.ReplyText, m.ClassId, m.MethodId)
}

func (m *ConnectionClose) Decode(r *wire.Reader) (err error) {
	m.ReplyCode, m.ReplyText, m.ClassId, m.MethodId, err = decodeClose(r)
	return err
}

type ConnectionCloseOk struct {
	noContent
}

func (*ConnectionCloseOk) ClassID() uint16           { return protocol.ClassConnection }
func (*ConnectionCloseOk) MethodID() uint16          { return 51 }
func (*ConnectionCloseOk) EstimateSize() int         { return 0 }
func (*ConnectionCloseOk) Encode(*wire.Writer) error { return nil }
func (*ConnectionCloseOk) Decode(*wire.Reader) error { return nil }

type ConnectionBlocked struct {
	noContent
	Reason string
}

func (*ConnectionBlocked) ClassID() uint16               { return protocol.ClassConnection }
func (*ConnectionBlocked) MethodID() uint16              { return 60 }
func (m *ConnectionBlocked) EstimateSize() int           { return 1 + len(m.Reason) }
func (m *ConnectionBlocked) Encode(w *wire.Writer) error { return w.WriteShortStr(m.Reason) }

func (m *ConnectionBlocked) Decode(r *wire.Reader) (err error) {
	m.Reason, err = r.ReadShortStr()
	return err
}

type ConnectionUnblocked struct {
	noContent
}

func (*ConnectionUnblocked) ClassID() uint16           { return protocol.ClassConnection }
func (*ConnectionUnblocked) MethodID() uint16          { return 61 }
func (*ConnectionUnblocked) EstimateSize() int         { return 0 }
func (*ConnectionUnblocked) Encode(*wire.Writer) error { return nil }
func (*ConnectionUnblocked) Decode(*wire.Reader) error { return nil }

func encodeClose(w *wire.Writer, code uint16, text string, classID, methodID uint16) error {
	w.WriteShort(code)
	if err := w.WriteShortStr(text); err != nil {
		return err
	}
	w.WriteShort(classID)
	w.WriteShort(methodID)
	return nil
}

func decodeClose(r *wire.Reader) (code uint16, text string, classID, methodID uint16, err error) {
	if code, err = r.ReadShort(); err != nil {
		return
	}
	if text, err = r.ReadShortStr(); err != nil {
		return
	}
	if classID, err = r.ReadShort(); err != nil {
		return
	}
	methodID, err = r.ReadShort()
	return
}
