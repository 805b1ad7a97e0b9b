package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

// A Publish that races shutdown must drop its message, never panic. This is
// the jobs-process shutdown window: context cancelled while a job is still
// mid-run and about to send a notification.
func TestPublishAfterShutdown(t *testing.T) {
	p := NewProducer([]string{"127.0.0.1:1"}, "shop.notifications", 8)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	cancel()
	p.WaitClosed()

	require.NotPanics(t, func() {
		p.Publish([]byte("k"), []byte("v"))
	})
}

func TestProducerCloseIdempotent(t *testing.T) {
	p := NewProducer([]string{"127.0.0.1:1"}, "shop.notifications", 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	// explicit Close followed by cancellation, the api shutdown order
	require.NotPanics(t, p.Close)
	cancel()
	p.WaitClosed()
	require.NotPanics(t, p.Close)
	require.NotPanics(t, func() {
		p.Publish([]byte("k"), []byte("v"))
	})
}

// A worker producing more errors than the errs buffer holds must still drain
// its jobs and exit once the dispatcher is gone.
func TestWorkerExitsWithFullErrorBuffer(t *testing.T) {
	c := NewConsumer([]string{"127.0.0.1:1"}, "test-group", "test-topic", 1)
	defer c.r.Close()

	jobs := make(chan kafkago.Message, 16)
	errs := make(chan error, 1)
	for i := 0; i < 10; i++ {
		jobs <- kafkago.Message{Value: []byte("x")}
	}
	close(jobs)

	done := make(chan struct{})
	go func() {
		c.work(context.Background(), jobs, errs, func(context.Context, kafkago.Message) error {
			return errors.New("handler failure")
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker blocked reporting errors")
	}
}
