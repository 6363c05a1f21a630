package sinks

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"hivehub.dev/common"
	"hivehub.dev/fault"
)

// AMQPSink publishes events to a durable fanout exchange so several
// consumers can tap the audit stream. Buffering mirrors RedisSink.
type AMQPSink struct {
	dropped int64
	closed  int32

	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	events   chan Event
	done     chan struct{}
}

// NewAMQPSink dials the broker and declares the exchange before
// accepting events.
func NewAMQPSink(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fault.Unavailable(err, "cannot reach rabbitmq")
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fault.Unavailable(err, "cannot open rabbitmq channel")
	}

	if err := channel.ExchangeDeclare(
		exchange,
		"fanout",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fault.Unavailable(err, "cannot declare exchange %s", exchange)
	}

	s := &AMQPSink{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		events:   make(chan Event, 256),
		done:     make(chan struct{}),
	}
	go s.forward()
	return s, nil
}

// Emit buffers the event, dropping it when the buffer is full.
func (s *AMQPSink) Emit(event Event) {
	if atomic.LoadInt32(&s.closed) == 1 {
		return
	}
	select {
	case s.events <- event:
	default:
		atomic.AddInt64(&s.dropped, 1)
	}
}

// Dropped reports events discarded because the buffer was full.
func (s *AMQPSink) Dropped() int64 {
	return atomic.LoadInt64(&s.dropped)
}

// Close flushes the buffer and closes the channel and connection.
func (s *AMQPSink) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	close(s.events)
	<-s.done
	if err := s.channel.Close(); err != nil {
		_ = s.conn.Close()
		return err
	}
	return s.conn.Close()
}

func (s *AMQPSink) forward() {
	defer close(s.done)
	for event := range s.events {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}

		if err := s.channel.Publish(
			s.exchange,
			"", // fanout ignores the routing key
			false,
			false,
			amqp.Publishing{
				ContentType: "application/json",
				Timestamp:   time.Now(),
				Body:        payload,
			},
		); err != nil {
			common.Logger.WithFields(logrus.Fields{
				"exchange": s.exchange,
				"error":    err.Error(),
			}).Warn("AMQP sink publish failed")
		}
	}
}
