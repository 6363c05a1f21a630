package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"hivehub.dev/common"
)

const (
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin policy is enforced by the CORS middleware upstream.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and serves MCP envelopes over
// it, one JSON envelope per text frame. Requests on one connection are
// handled concurrently; responses carry the request ID for correlation.
func (s *HTTPServer) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	sess := &wsSession{
		server: s,
		conn:   conn,
		send:   make(chan *Response, wsSendBuffer),
	}
	sess.run(c.Request().Context())
	return nil
}

// wsSession is one upgraded connection: a read loop dispatching
// envelopes, a sender loop serializing writes, and a ping loop.
type wsSession struct {
	server *HTTPServer
	conn   *websocket.Conn
	send   chan *Response

	closeOnce sync.Once
}

func (w *wsSession) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A dead sender cancels the session and closes the connection so the
	// read loop and any in-flight handlers unblock.
	senderDone := make(chan struct{})
	go func() {
		defer close(senderDone)
		defer w.close()
		defer cancel()
		w.senderLoop(ctx)
	}()

	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		w.pingLoop(ctx)
	}()

	w.readLoop(ctx)

	cancel()
	w.close()
	<-senderDone
	<-pingDone
}

func (w *wsSession) close() {
	w.closeOnce.Do(func() {
		if err := w.conn.Close(); err != nil {
			common.Logger.WithFields(logrus.Fields{"error": err.Error()}).Debug("WebSocket close failed")
		}
	})
}

func (w *wsSession) readLoop(ctx context.Context) {
	var handlers sync.WaitGroup
	defer handlers.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				common.Logger.WithFields(logrus.Fields{"error": err.Error()}).Debug("WebSocket read failed")
			}
			return
		}

		req := new(Request)
		if err := json.Unmarshal(data, req); err != nil {
			w.reply(ctx, errResponse(nil, codeParseError, "malformed envelope"))
			continue
		}

		handlers.Add(1)
		go func() {
			defer handlers.Done()
			w.reply(ctx, Handle(ctx, w.server.opts.Dispatcher, req))
		}()
	}
}

func (w *wsSession) reply(ctx context.Context, resp *Response) {
	select {
	case <-ctx.Done():
	case w.send <- resp:
	}
}

func (w *wsSession) senderLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-w.send:
			if !ok {
				return
			}
			if err := w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
			if err := w.conn.WriteJSON(resp); err != nil {
				common.Logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("WebSocket write failed")
				return
			}
		}
	}
}

func (w *wsSession) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				common.Logger.WithFields(logrus.Fields{"error": err.Error()}).Debug("WebSocket ping failed")
				return
			}
		}
	}
}
