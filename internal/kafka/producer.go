package kafka

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer decouples publishing from the caller: Publish only enqueues, a
// single goroutine drains the inbox and writes to the broker. A failed write
// is logged and dropped, never surfaced to the business operation that
// triggered it. The inbox channel is never closed: shutdown is signalled
// through quit, so a Publish racing shutdown drops its message instead of
// panicking.
type Producer struct {
	w        *kafka.Writer
	inbox    chan kafka.Message
	quit     chan struct{}
	closeCh  chan struct{}
	quitOnce sync.Once
}

func NewProducer(brokers []string, topic string, buf int) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
		},
		inbox:   make(chan kafka.Message, buf),
		quit:    make(chan struct{}),
		closeCh: make(chan struct{}),
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer func() {
			p.drain()
			_ = p.w.Close()
			close(p.closeCh)
		}()
		for {
			select {
			case m := <-p.inbox:
				p.write(m)
			case <-p.quit:
				return
			case <-ctx.Done():
				p.Close()
				return
			}
		}
	}()
}

// drain flushes whatever is still buffered at shutdown.
func (p *Producer) drain() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		log.Printf("kafka publish topic=%s: %v", p.w.Topic, err)
	}
}

// Publish enqueues a message. After Close the message is logged and dropped;
// Publish never blocks on a stopped producer and never panics.
func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	m := kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case p.inbox <- m:
	case <-p.quit:
		log.Printf("kafka publish topic=%s: dropped, producer closed", p.w.Topic)
	}
}

// Close signals the loop to flush remaining messages and exit. Safe to call
// more than once; context cancellation triggers the same path.
func (p *Producer) Close() {
	p.quitOnce.Do(func() { close(p.quit) })
}

// WaitClosed blocks until the loop has drained and shut down.
func (p *Producer) WaitClosed() { <-p.closeCh }
