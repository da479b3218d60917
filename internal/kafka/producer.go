package kafka

import (
	"context"
	"errors"
	"sync"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-ledger/internal/events"
	"github.com/ariefcatur/go-pos-ledger/internal/observability"
)

var (
	ErrProducerClosed = errors.New("kafka: producer closed")
	ErrProducerBusy   = errors.New("kafka: producer buffer full")
)

// Producer publishes lifecycle events asynchronously. It implements
// events.Publisher; a full buffer drops the event with ErrProducerBusy
// instead of blocking the request that committed it.
type Producer struct {
	w       *kafkago.Writer
	log     *zap.Logger
	inbox   chan kafkago.Message
	stop    chan struct{}
	once    sync.Once
	closeCh chan struct{}
}

var _ events.Publisher = (*Producer)(nil)

func NewProducer(brokers []string, buf int, logger *zap.Logger) *Producer {
	log := observability.OrNop(logger)
	if buf <= 0 {
		buf = 1024
	}
	return &Producer{
		w: &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireAll,
			Async:        true, // fire-and-forget, error dicatat lewat Completion
			Completion: func(msgs []kafkago.Message, err error) {
				if err != nil {
					log.Warn("kafka write failed", zap.Int("messages", len(msgs)), zap.Error(err))
				}
			},
		},
		log:     log,
		inbox:   make(chan kafkago.Message, buf),
		stop:    make(chan struct{}),
		closeCh: make(chan struct{}),
	}
}

// Start runs the writer loop until ctx ends or Close is called; either way
// buffered messages are flushed first.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case <-p.stop:
				p.drain()
				return
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

func (p *Producer) drain() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			if err := p.w.Close(); err != nil {
				p.log.Warn("kafka writer close", zap.Error(err))
			}
			return
		}
	}
}

func (p *Producer) write(m kafkago.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.log.Warn("kafka enqueue failed", zap.String("topic", m.Topic), zap.Error(err))
	}
}

func (p *Producer) Publish(ctx context.Context, env events.Envelope) error {
	m, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	select {
	case <-p.stop:
		return ErrProducerClosed
	default:
	}
	select {
	case p.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrProducerBusy
	}
}

// Close stops accepting messages; the loop flushes what is buffered.
func (p *Producer) Close() { p.once.Do(func() { close(p.stop) }) }

// WaitClosed blocks until the loop has flushed and closed the writer.
func (p *Producer) WaitClosed() { <-p.closeCh }
