package methods

import (
	"fmt"

	"github.com/danmuck/edgemq/internal/protocol"
	"github.com/danmuck/edgemq/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

// Method is the decoded-method contract shared by every protocol method.
type Method interface {
	ClassID() uint16
	MethodID() uint16
	HasContent() bool
	Encode(w *wire.Writer) error
	Decode(r *wire.Reader) error
	// EstimateSize approximates the encoded argument length.
	EstimateSize() int
}

type noContent struct{}

func (noContent) HasContent() bool { return false }

type withContent struct{}

func (withContent) HasContent() bool { return true }

type entry struct {
	name string
	new  func() Method
}

func key(classID, methodID uint16) uint32 {
	return uint32(classID)<<16 | uint32(methodID)
}

var registry = map[uint32]entry{
	key(protocol.ClassConnection, 10): {"connection.start", func() Method { return &ConnectionStart{} }},
	key(protocol.ClassConnection, 11): {"connection.start-ok", func() Method { return &ConnectionStartOk{} }},
	key(protocol.ClassConnection, 30): {"connection.tune", func() Method { return &ConnectionTune{} }},
	key(protocol.ClassConnection, 31): {"connection.tune-ok", func() Method { return &ConnectionTuneOk{} }},
	key(protocol.ClassConnection, 40): {"connection.open", func() Method { return &ConnectionOpen{} }},
	key(protocol.ClassConnection, 41): {"connection.open-ok", func() Method { return &ConnectionOpenOk{} }},
	key(protocol.ClassConnection, 50): {"connection.close", func() Method { return &ConnectionClose{} }},
	key(protocol.ClassConnection, 51): {"connection.close-ok", func() Method { return &ConnectionCloseOk{} }},
	key(protocol.ClassConnection, 60): {"connection.blocked", func() Method { return &ConnectionBlocked{} }},
	key(protocol.ClassConnection, 61): {"connection.unblocked", func() Method { return &ConnectionUnblocked{} }},

	key(protocol.ClassChannel, 10): {"channel.open", func() Method { return &ChannelOpen{} }},
	key(protocol.ClassChannel, 11): {"channel.open-ok", func() Method { return &ChannelOpenOk{} }},
	key(protocol.ClassChannel, 20): {"channel.flow", func() Method { return &ChannelFlow{} }},
	key(protocol.ClassChannel, 21): {"channel.flow-ok", func() Method { return &ChannelFlowOk{} }},
	key(protocol.ClassChannel, 40): {"channel.close", func() Method { return &ChannelClose{} }},
	key(protocol.ClassChannel, 41): {"channel.close-ok", func() Method { return &ChannelCloseOk{} }},

	key(protocol.ClassExchange, 10): {"exchange.declare", func() Method { return &ExchangeDeclare{} }},
	key(protocol.ClassExchange, 11): {"exchange.declare-ok", func() Method { return &ExchangeDeclareOk{} }},

	key(protocol.ClassQueue, 10): {"queue.declare", func() Method { return &QueueDeclare{} }},
	key(protocol.ClassQueue, 11): {"queue.declare-ok", func() Method { return &QueueDeclareOk{} }},
	key(protocol.ClassQueue, 20): {"queue.bind", func() Method { return &QueueBind{} }},
	key(protocol.ClassQueue, 21): {"queue.bind-ok", func() Method { return &QueueBindOk{} }},
	key(protocol.ClassQueue, 40): {"queue.delete", func() Method { return &QueueDelete{} }},
	key(protocol.ClassQueue, 41): {"queue.delete-ok", func() Method { return &QueueDeleteOk{} }},

	key(protocol.ClassBasic, 10):  {"basic.qos", func() Method { return &BasicQos{} }},
	key(protocol.ClassBasic, 11):  {"basic.qos-ok", func() Method { return &BasicQosOk{} }},
	key(protocol.ClassBasic, 20):  {"basic.consume", func() Method { return &BasicConsume{} }},
	key(protocol.ClassBasic, 21):  {"basic.consume-ok", func() Method { return &BasicConsumeOk{} }},
	key(protocol.ClassBasic, 30):  {"basic.cancel", func() Method { return &BasicCancel{} }},
	key(protocol.ClassBasic, 31):  {"basic.cancel-ok", func() Method { return &BasicCancelOk{} }},
	key(protocol.ClassBasic, 40):  {"basic.publish", func() Method { return &BasicPublish{} }},
	key(protocol.ClassBasic, 50):  {"basic.return", func() Method { return &BasicReturn{} }},
	key(protocol.ClassBasic, 60):  {"basic.deliver", func() Method { return &BasicDeliver{} }},
	key(protocol.ClassBasic, 80):  {"basic.ack", func() Method { return &BasicAck{} }},
	key(protocol.ClassBasic, 90):  {"basic.reject", func() Method { return &BasicReject{} }},
	key(protocol.ClassBasic, 120): {"basic.nack", func() Method { return &BasicNack{} }},

	key(protocol.ClassConfirm, 10): {"confirm.select", func() Method { return &ConfirmSelect{} }},
	key(protocol.ClassConfirm, 11): {"confirm.select-ok", func() Method { return &ConfirmSelectOk{} }},
}

// Name returns the dotted protocol name of m, e.g. "basic.deliver".
func Name(m Method) string {
	if m == nil {
		return "<nil>"
	}
	if e, ok := registry[key(m.ClassID(), m.MethodID())]; ok {
		return e.name
	}
	return fmt.Sprintf("method(%d,%d)", m.ClassID(), m.MethodID())
}

// Is reports whether m carries the given class and method ids.
func Is(m Method, classID, methodID uint16) bool {
	return m != nil && m.ClassID() == classID && m.MethodID() == methodID
}

// Marshal encodes m as a method frame payload: class id, method id, arguments.
func Marshal(m Method) ([]byte, error) {
	w := wire.NewWriter(4 + m.EstimateSize())
	w.WriteShort(m.ClassID())
	w.WriteShort(m.MethodID())
	if err := m.Encode(w); err != nil {
		return nil, fmt.Errorf("encode %s: %w", Name(m), err)
	}
	return w.Bytes(), nil
}

// Decode parses a method frame payload into a registered Method.
func Decode(payload []byte) (Method, error) {
	r := wire.NewReader(payload)
	classID, err := r.ReadShort()
	if err != nil {
		return nil, protocol.Malformed("method frame missing class id")
	}
	methodID, err := r.ReadShort()
	if err != nil {
		return nil, protocol.Malformed("method frame missing method id")
	}
	e, ok := registry[key(classID, methodID)]
	if !ok {
		log.Debug().Uint16("class", classID).Uint16("method", methodID).Msg("methods.Decode unknown method")
		return nil, &protocol.ProtocolError{
			Code: protocol.NotImplemented,
			Text: fmt.Sprintf("class=%d method=%d", classID, methodID),
			Err:  protocol.ErrUnknownMethod,
		}
	}
	m := e.new()
	if err := m.Decode(r); err != nil {
		return nil, protocol.Malformed("decode %s: %v", e.name, err)
	}
	return m, nil
}
