package sinks

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"hivehub.dev/common"
	"hivehub.dev/fault"
)

// RedisSink appends events as JSON to a capped Redis list. Events are
// forwarded from an internal buffer so a slow backend never stalls a
// dispatch; overflow drops the event and counts it.
type RedisSink struct {
	dropped int64
	closed  int32

	client *redis.Client
	key    string
	cap    int64
	events chan Event
	done   chan struct{}
}

// NewRedisSink connects to addr and verifies it before accepting events.
// cap bounds the list length; zero keeps it unbounded.
func NewRedisSink(addr, password, key string, cap int64) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fault.Unavailable(err, "cannot reach redis at %s", addr)
	}

	s := &RedisSink{
		client: client,
		key:    key,
		cap:    cap,
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go s.forward()
	return s, nil
}

// Emit buffers the event, dropping it when the buffer is full.
func (s *RedisSink) Emit(event Event) {
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
func (s *RedisSink) Dropped() int64 {
	return atomic.LoadInt64(&s.dropped)
}

// Close flushes the buffer and closes the connection.
func (s *RedisSink) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	close(s.events)
	<-s.done
	return s.client.Close()
}

func (s *RedisSink) forward() {
	defer close(s.done)
	for event := range s.events {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pipe := s.client.Pipeline()
		pipe.RPush(ctx, s.key, payload)
		if s.cap > 0 {
			pipe.LTrim(ctx, s.key, -s.cap, -1)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			common.Logger.WithFields(logrus.Fields{
				"key":   s.key,
				"error": err.Error(),
			}).Warn("Redis sink publish failed")
		}
		cancel()
	}
}
