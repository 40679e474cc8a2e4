package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// connectTimeout bounds TCP connect, TLS handshake, and WebSocket upgrade.
// A var, not a const, solely so tests can shrink it; there is no Config
// field for it.
var connectTimeout = 10 * time.Second

// transport is the control-plane WebSocket: a send half (serialize and
// write) and a receive half (read and dispatch) over one connection.
//
// coder/websocket answers ping frames with pong frames internally and
// surfaces a close frame as an error from Read, classifiable with
// websocket.CloseStatus — so unlike a raw frame API, there is no separate
// Ping/Pong case to dispatch here; receiveLoop only sees Text, Binary, or an
// error that is either a clean close or a transport failure.
type transport struct {
	conn *websocket.Conn
}

// dial opens the control-plane WebSocket within connectTimeout.
func dial(ctx context.Context, url string, tlsCfg *TLSConfig) (*transport, error) {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	opts := &websocket.DialOptions{}
	if tlsCfg != nil {
		cfg, err := tlsCfg.Build()
		if err != nil {
			return nil, fmt.Errorf("relay: build tls config: %w", err)
		}
		if cfg != nil {
			opts.HTTPClient = &http.Client{
				Transport: &http.Transport{TLSClientConfig: cfg},
			}
		}
	}

	conn, _, err := websocket.Dial(dialCtx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", url, err)
	}
	return &transport{conn: conn}, nil
}

// send serializes msg as a JSON text frame. Returns an error if the
// underlying connection write fails.
func (t *transport) send(ctx context.Context, msg MessageToStreamer) error {
	if t == nil || t.conn == nil {
		return fmt.Errorf("relay: no writer")
	}
	payload, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("relay: marshal message: %w", err)
	}
	if err := t.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("relay: write: %w", err)
	}
	return nil
}

// close closes the connection with a normal-closure status.
func (t *transport) close() {
	if t == nil || t.conn == nil {
		return
	}
	t.conn.Close(websocket.StatusNormalClosure, "relay stopping")
}

// receiveLoop reads frames until the connection closes or errors, invoking
// onMessage for each successfully decoded MessageToRelay. It always returns
// the error that ended the loop: a close frame, a transport failure, or an
// error from onMessage.
func (t *transport) receiveLoop(ctx context.Context, logger *slog.Logger, onMessage func(MessageToRelay) error) error {
	for {
		msgType, data, err := t.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				logger.Debug("control connection closed", "error", err)
			} else {
				logger.Debug("control connection transport error", "error", err)
			}
			return err
		}

		switch msgType {
		case websocket.MessageBinary:
			logger.Debug("ignoring binary control frame", "bytes", len(data))
			continue
		case websocket.MessageText:
			var msg MessageToRelay
			if err := json.Unmarshal(data, &msg); err != nil {
				logger.Debug("unparseable control message", "text", string(data), "error", err)
				continue
			}
			if err := onMessage(msg); err != nil {
				logger.Debug("protocol handler error", "error", err)
				return err
			}
		}
	}
}
