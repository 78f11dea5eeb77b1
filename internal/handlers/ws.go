// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/tmchess/tmchess/internal/auth"
	"github.com/tmchess/tmchess/internal/game"
	"github.com/tmchess/tmchess/internal/middleware"
	"github.com/tmchess/tmchess/internal/protocol"
)

// Subprotocol clients must request when connecting.
const Subprotocol = "tmchess"

const (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// WSHandler upgrades the HTTP connection to WebSocket, announces the
// connection's identity, enforces the client-version handshake, and
// then pumps messages between the socket and the coordinator until the
// client goes away.
func WSHandler(logger *logrus.Logger, co *game.Coordinator, requiredVersion string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{Subprotocol},
			OriginPatterns: []string{"*"}, // Adjust for production security.
		})
		if err != nil {
			logger.Warnf("WebSocket accept error from %s: %v", r.RemoteAddr, err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "Internal server error during handler exit.")

		if c.Subprotocol() != Subprotocol {
			logger.Warnf("Client from %s connected with invalid subprotocol: %s", r.RemoteAddr, c.Subprotocol())
			c.Close(websocket.StatusCode(BadSubprotocolError), "Client must use the 'tmchess' subprotocol.")
			return
		}

		cl := game.NewClient(logger)
		token, err := auth.CreateConnectionToken(cl.ID)
		if err != nil {
			logger.Warnf("Connection token for %s: %v", cl.ID, err)
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Hello goes out before the write pump starts, so the version
		// handshake below can also write synchronously without racing.
		if err := writeJSON(ctx, c, protocol.Hello{Type: "hello", ID: cl.ID.String(), Token: token}); err != nil {
			logger.Warnf("Hello write to %s failed: %v", cl.ID, err)
			return
		}

		first, proceed := verifyHandshake(ctx, c, requiredVersion, logger)
		if !proceed {
			return
		}

		co.Register(cl)
		middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path)

		go writePump(ctx, c, cl, logger)

		if first != nil {
			co.Dispatch(cl, first)
		}
		readMessages(ctx, c, cl, co, logger)

		co.Disconnect(cl)
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, nil)
	}
}

// verifyHandshake reads the first frame. A handshake frame is checked
// against requiredVersion (mismatch closes the connection after a
// version_mismatch notice); any other frame is returned for normal
// dispatch. Handshakes are only honored as the first frame.
func verifyHandshake(ctx context.Context, c *websocket.Conn, requiredVersion string, logger *logrus.Logger) (pending []byte, proceed bool) {
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msgType, data, err := c.Read(readCtx)
	if err != nil {
		return nil, false
	}
	if msgType != websocket.MessageText {
		return nil, true
	}

	var msg struct {
		Type    string `json:"type"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != protocol.TypeHandshake {
		return data, true
	}

	if requiredVersion != "" && msg.Version != requiredVersion {
		logger.Infof("Client version %q rejected (need %q)", msg.Version, requiredVersion)
		_ = writeJSON(ctx, c, protocol.VersionMismatch{
			Type:            "version_mismatch",
			RequiredVersion: requiredVersion,
			ClientVersion:   msg.Version,
		})
		c.Close(websocket.StatusCode(VersionMismatchError), "Client version not supported.")
		return nil, false
	}
	return nil, true
}

// readMessages relays inbound frames to the coordinator until the
// connection drops or the context ends.
func readMessages(ctx context.Context, c *websocket.Conn, cl *game.Client, co *game.Coordinator, logger *logrus.Logger) {
	for {
		msgType, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				logger.Infof("WebSocket closed normally for connection %s", cl.ID)
			case strings.Contains(err.Error(), "context canceled"):
				logger.Infof("WebSocket context canceled for connection %s", cl.ID)
			default:
				logger.Warnf("Error reading from connection %s: %v (status: %d)", cl.ID, err, status)
			}
			return
		}
		if msgType != websocket.MessageText {
			logger.Warnf("Non-text frame type %d from connection %s, ignoring", msgType, cl.ID)
			continue
		}
		co.Dispatch(cl, data)
	}
}

// writePump drains the client's outbound queue onto the socket and
// keeps the connection alive with pings. It is the only writer once
// started; exit closes the socket.
func writePump(ctx context.Context, c *websocket.Conn, cl *game.Client, logger *logrus.Logger) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-cl.Out():
			if !ok {
				c.Close(websocket.StatusNormalClosure, "connection closed")
				return
			}
			if err := writeJSON(ctx, c, msg); err != nil {
				logger.Warnf("Write to connection %s failed: %v", cl.ID, err)
				return
			}
		case <-ping.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// writeJSON marshals and writes one text frame with a write timeout.
func writeJSON(ctx context.Context, c *websocket.Conn, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.Write(writeCtx, websocket.MessageText, data)
}
