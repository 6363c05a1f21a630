package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"hivehub.dev/common"
	"hivehub.dev/mcp"
)

// maxLineBytes bounds one stdio envelope (16 MiB).
const maxLineBytes = 16 << 20

// StreamServer serves the MCP envelope protocol over a byte stream, one
// newline-delimited JSON envelope per line. It backs the stdio mode used
// by editor and agent clients that spawn the hub as a subprocess.
type StreamServer struct {
	dispatcher *mcp.Dispatcher

	writeMu sync.Mutex
	out     io.Writer
}

// NewStreamServer creates a stream transport over the dispatcher.
func NewStreamServer(d *mcp.Dispatcher, out io.Writer) *StreamServer {
	return &StreamServer{dispatcher: d, out: out}
}

// Serve reads envelopes from in until EOF or context cancellation.
// Requests are handled concurrently; writes are serialized so responses
// never interleave.
func (s *StreamServer) Serve(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var handlers sync.WaitGroup
	defer handlers.Wait()

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		req := new(Request)
		if err := json.Unmarshal([]byte(line), req); err != nil {
			s.write(errResponse(nil, codeParseError, "malformed envelope"))
			continue
		}

		handlers.Add(1)
		go func() {
			defer handlers.Done()
			s.write(Handle(ctx, s.dispatcher, req))
		}()
	}
	return scanner.Err()
}

func (s *StreamServer) write(resp *Response) {
	encoded, err := json.Marshal(resp)
	if err != nil {
		common.Logger.WithFields(logrus.Fields{"error": err.Error()}).Error("Cannot encode response")
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(encoded, '\n')); err != nil {
		common.Logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("Stream write failed")
	}
}
