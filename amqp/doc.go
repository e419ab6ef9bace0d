// Package amqp is an AMQP 0-9-1 client.
//
// A Connection multiplexes Channels over one Transport. Synchronous calls on
// a channel (QueueDeclare, Consume, Confirm, ...) are matched to broker
// replies in FIFO order. Inbound deliveries, cancellations and shutdown
// notices are handed to Consumers on a per-channel worker so the network
// read path never waits on user code.
//
// Observer callbacks registered with the Notify methods run on the
// connection's read goroutine and must not block on the same channel.
package amqp
