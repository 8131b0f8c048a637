// Package eventbus implements the typed in-process pub/sub (C8) that
// connects IngestionPipeline and Supervisor to SessionHub. It is built on
// watermill's in-process gochannel transport — the same watermill stack the
// teacher repo uses for its AMQP router, generalized from "cross-node
// broker" to "in-process topic" — fronted by a small bounded submission
// queue so that a publish which would otherwise block on a slow subscriber
// is dropped instead, per spec.md §4.8's non-blocking-publish requirement.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/onemail/sync-core/internal/domain"
)

const (
	TopicNewMessage = "new_message"
	TopicStatus     = "status"
)

// Bus is the EventBus: non-blocking publish through one bounded submission
// queue shared by both topics, per-subscriber output buffers of the same
// length, and ordering preserved per-topic as long as no drop occurs. Drops
// happen only at the submission queue and are tallied in a single counter
// (DroppedCount); they are not counted per subscriber or per topic.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger

	submit chan *message.Message
	drops  atomic.Int64

	done chan struct{}
}

// New creates a Bus and starts its single publishing worker. queueLen bounds
// the front-door submission queue: once full, publish drops the event
// rather than blocking the caller.
func New(logger *slog.Logger, queueLen int) *Bus {
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            int64(queueLen),
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewSlogLogger(logger),
	)

	b := &Bus{
		pubsub: pubsub,
		logger: logger,
		submit: make(chan *message.Message, queueLen),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

// run is the single writer that preserves per-topic publish order: as long
// as submit never drops a message, topic ordering matches call order.
func (b *Bus) run() {
	for {
		select {
		case <-b.done:
			return
		case msg, ok := <-b.submit:
			if !ok {
				return
			}
			topic := msg.Metadata.Get("topic")
			if err := b.pubsub.Publish(topic, msg); err != nil {
				b.logger.Warn("eventbus: publish failed", "topic", topic, "err", err)
			}
		}
	}
}

// PublishNewMessage is non-blocking: if the submission queue is full, the
// event is dropped for every subscriber and the drop counter increments.
func (b *Bus) PublishNewMessage(ctx context.Context, ev domain.NewMessageEvent) {
	b.publish(ctx, TopicNewMessage, ev)
}

func (b *Bus) PublishStatus(ctx context.Context, ev domain.StatusEvent) {
	b.publish(ctx, TopicStatus, ev)
}

func (b *Bus) publish(ctx context.Context, topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("eventbus: marshal failed", "topic", topic, "err", err)
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(ctx)
	msg.Metadata.Set("topic", topic)

	select {
	case b.submit <- msg:
	default:
		b.drops.Add(1)
		b.logger.Warn("eventbus: publish dropped, queue full", "topic", topic)
	}
}

// SubscribeNewMessage hands the caller a channel of decoded NewMessageEvents.
// The returned channel closes when ctx is done.
func (b *Bus) SubscribeNewMessage(ctx context.Context) (<-chan domain.NewMessageEvent, error) {
	raw, err := b.pubsub.Subscribe(ctx, TopicNewMessage)
	if err != nil {
		return nil, err
	}
	out := make(chan domain.NewMessageEvent)
	go decodeLoop(ctx, raw, out, b.logger)
	return out, nil
}

func (b *Bus) SubscribeStatus(ctx context.Context) (<-chan domain.StatusEvent, error) {
	raw, err := b.pubsub.Subscribe(ctx, TopicStatus)
	if err != nil {
		return nil, err
	}
	out := make(chan domain.StatusEvent)
	go decodeLoop(ctx, raw, out, b.logger)
	return out, nil
}

func decodeLoop[T any](ctx context.Context, raw <-chan *message.Message, out chan<- T, logger *slog.Logger) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-raw:
			if !ok {
				return
			}
			var v T
			if err := json.Unmarshal(msg.Payload, &v); err != nil {
				logger.Error("eventbus: decode failed", "err", err)
				msg.Ack()
				continue
			}
			select {
			case out <- v:
			case <-ctx.Done():
				msg.Ack()
				return
			}
			msg.Ack()
		}
	}
}

// DroppedCount returns the total number of publishes dropped because the
// submission queue was full.
func (b *Bus) DroppedCount() int64 {
	return b.drops.Load()
}

// Close stops the publishing worker and the underlying transport.
func (b *Bus) Close() error {
	close(b.done)
	return b.pubsub.Close()
}
