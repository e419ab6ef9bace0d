package amqp

import (
	"github.com/danmuck/edgemq/internal/config"
	"github.com/danmuck/edgemq/internal/protocol/methods"
	"github.com/danmuck/edgemq/internal/protocol/wire"
)

// Config tunes a connection; see DefaultConfig.
type Config = config.Config

// Table is an AMQP field table.
type Table = wire.Table

// Properties are the basic content properties of a message.
type Properties = methods.Properties

func DefaultConfig() Config {
	return config.DefaultConfig()
}

const (
	Transient  uint8 = 1
	Persistent uint8 = 2
)

// Publishing is an outbound message.
type Publishing struct {
	Properties
	Body []byte
}

// Delivery is a message pushed to a consumer.
type Delivery struct {
	channel *Channel

	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string
	Properties
	Body []byte
}

func (d Delivery) Ack(multiple bool) error {
	return d.channel.Ack(d.DeliveryTag, multiple)
}

func (d Delivery) Nack(multiple, requeue bool) error {
	return d.channel.Nack(d.DeliveryTag, multiple, requeue)
}

func (d Delivery) Reject(requeue bool) error {
	return d.channel.Reject(d.DeliveryTag, requeue)
}

// Return is an unroutable mandatory or immediate publish sent back by the broker.
type Return struct {
	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string
	Properties
	Body []byte
}

// Confirmation is a broker ack or nack for published sequence numbers.
type Confirmation struct {
	DeliveryTag uint64
	Multiple    bool
}

// Blocking reports connection.blocked (Active) and connection.unblocked.
type Blocking struct {
	Active bool
	Reason string
}

// Queue is the broker's answer to queue.declare.
type Queue struct {
	Name      string
	Messages  int
	Consumers int
}

func propsOf(p *methods.Properties) Properties {
	if p == nil {
		return Properties{}
	}
	return *p
}
