package amqp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/edgemq/internal/confirm"
	"github.com/danmuck/edgemq/internal/observability"
	"github.com/danmuck/edgemq/internal/protocol"
	"github.com/danmuck/edgemq/internal/protocol/command"
	"github.com/danmuck/edgemq/internal/protocol/methods"
)

func publishCommand(exchange, key string, mandatory, immediate bool, msg Publishing) (*command.Command, error) {
	if uint64(len(msg.Body)) > command.MaxBodySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, len(msg.Body))
	}
	return command.WithContent(&methods.BasicPublish{
		Exchange:   exchange,
		RoutingKey: key,
		Mandatory:  mandatory,
		Immediate:  immediate,
	}, msg.Properties, msg.Body), nil
}

// Publish sends a message. It blocks while the broker has paused the
// channel with channel.flow, until ctx is done.
func (ch *Channel) Publish(ctx context.Context, exchange, key string, mandatory, immediate bool, msg Publishing) error {
	cmd, err := publishCommand(exchange, key, mandatory, immediate, msg)
	if err != nil {
		return err
	}
	return ch.publish(ctx, cmd)
}

func (ch *Channel) publish(ctx context.Context, cmds ...*command.Command) error {
	if reason := ch.CloseReason(); reason != nil {
		return closedError(reason)
	}
	if err := ch.waitFlow(ctx); err != nil {
		return err
	}
	if reason := ch.CloseReason(); reason != nil {
		return closedError(reason)
	}

	// Encoding errors must surface before a sequence number is taken.
	frames, err := ch.conn.encode(ch.id, cmds)
	if err != nil {
		return err
	}

	ch.publishMu.Lock()
	defer ch.publishMu.Unlock()
	ch.confirms.Allocate(len(cmds))
	if err := ch.conn.sendFrames(frames); err != nil {
		return err
	}
	observability.RecordPublish(len(cmds))
	return nil
}

// PublishBatch collects messages that are sent back to back in one write.
type PublishBatch struct {
	ch   *Channel
	cmds []*command.Command
	err  error
}

func (ch *Channel) NewPublishBatch() *PublishBatch {
	return &PublishBatch{ch: ch}
}

func (b *PublishBatch) Add(exchange, key string, mandatory, immediate bool, msg Publishing) *PublishBatch {
	if b.err != nil {
		return b
	}
	cmd, err := publishCommand(exchange, key, mandatory, immediate, msg)
	if err != nil {
		b.err = err
		return b
	}
	b.cmds = append(b.cmds, cmd)
	return b
}

func (b *PublishBatch) Len() int {
	return len(b.cmds)
}

// Publish sends every added message. In confirm mode they receive
// consecutive sequence numbers.
func (b *PublishBatch) Publish(ctx context.Context) error {
	if b.err != nil {
		return b.err
	}
	if len(b.cmds) == 0 {
		return nil
	}
	return b.ch.publish(ctx, b.cmds...)
}

// NextPublishSeqNo is the sequence number of the next publish, or 0 when
// the channel is not in confirm mode.
func (ch *Channel) NextPublishSeqNo() uint64 {
	return ch.confirms.NextSeqNo()
}

// WaitForConfirms waits until every outstanding publish is confirmed. It
// reports true when all were acked and false if any was nacked. A zero
// timeout waits forever.
func (ch *Channel) WaitForConfirms(timeout time.Duration) (bool, error) {
	allAcked, timedOut, err := ch.confirms.Wait(timeout)
	switch {
	case errors.Is(err, confirm.ErrNotEnabled):
		return false, ErrConfirmsNotEnabled
	case err != nil:
		return false, err
	case timedOut:
		return false, fmt.Errorf("amqp: waiting for confirms: %w", ErrTimeout)
	}
	return allAcked, nil
}

// WaitForConfirmsOrDie is WaitForConfirms that closes the channel with
// precondition-failed when a publish was nacked or the wait timed out.
func (ch *Channel) WaitForConfirmsOrDie(timeout time.Duration) error {
	allAcked, err := ch.WaitForConfirms(timeout)
	var text string
	switch {
	case errors.Is(err, ErrTimeout):
		text = "timed out waiting for acks"
	case err != nil:
		return err
	case !allAcked:
		text = "nacks received"
	default:
		return nil
	}
	reason := &ShutdownError{Initiator: InitiatorLibrary, Code: protocol.PreconditionFailed, Text: text}
	if closeErr := ch.close(reason); closeErr != nil {
		ch.log.Debug().Err(closeErr).Msg("close after confirm failure")
	}
	return fmt.Errorf("%w: %w", ErrConfirmFailed, reason)
}
