// Package sinks fans dispatch outcomes out to audit and metrics
// backends. Emit never blocks the dispatch path: sinks that talk to a
// backend buffer internally and drop events on overflow.
package sinks

import (
	"github.com/sirupsen/logrus"

	"hivehub.dev/common"
)

// Dispatch outcomes carried on every event.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Event is one dispatch outcome.
type Event struct {
	Time       string `json:"time"`
	Server     string `json:"server"`
	Tool       string `json:"tool"`
	Outcome    string `json:"outcome"`
	Kind       string `json:"kind,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Sink receives dispatch events.
type Sink interface {
	Emit(event Event)
	Close() error
}

// Multi fans every event out to all member sinks.
type Multi struct {
	members []Sink
}

// NewMulti combines sinks into one fanout.
func NewMulti(members ...Sink) *Multi {
	return &Multi{members: members}
}

// Add appends a sink to the fanout.
func (m *Multi) Add(sink Sink) {
	m.members = append(m.members, sink)
}

// Emit forwards the event to every member.
func (m *Multi) Emit(event Event) {
	for _, sink := range m.members {
		sink.Emit(event)
	}
}

// Close closes every member, returning the first error.
func (m *Multi) Close() error {
	var first error
	for _, sink := range m.members {
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogSink writes events to the structured log.
type LogSink struct {
	log *logrus.Logger
}

// NewLogSink creates a sink over the shared logger.
func NewLogSink() *LogSink {
	return &LogSink{log: common.Logger}
}

// Emit logs the event, failures at warn level.
func (s *LogSink) Emit(event Event) {
	fields := logrus.Fields{
		"server":      event.Server,
		"tool":        event.Tool,
		"outcome":     event.Outcome,
		"duration_ms": event.DurationMS,
	}
	if event.Kind != "" {
		fields["kind"] = event.Kind
	}
	if event.Outcome == OutcomeError {
		s.log.WithFields(fields).Warn("Tool call failed")
		return
	}
	s.log.WithFields(fields).Info("Tool call completed")
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }
