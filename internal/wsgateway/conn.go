package wsgateway

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// conn adapts one raw net.Conn into the Gateway's registry, with the same
// split read/write pump as the teacher's gateway.ClientAdapter.
type conn struct {
	netConn   net.Conn
	sessionID string
	userID    string
	outbox    chan []byte
	gateway   *Gateway
	logger    *zap.Logger
}

func newConn(netConn net.Conn, sessionID, userID string, g *Gateway, logger *zap.Logger) *conn {
	return &conn{
		netConn:   netConn,
		sessionID: sessionID,
		userID:    userID,
		outbox:    make(chan []byte, 256),
		gateway:   g,
		logger:    logger,
	}
}

func (c *conn) start() {
	go c.writePump()
	go c.readPump()
}

// send enqueues payload for delivery, dropping it if the connection's
// buffer is full — spec §5's best-effort delivery: drop rather than block
// indefinitely on a congested recipient.
func (c *conn) send(payload []byte) {
	select {
	case c.outbox <- payload:
	default:
		c.logger.Warn("dropping message, connection send buffer full", zap.String("sessionId", c.sessionID))
	}
}

func (c *conn) readPump() {
	defer func() {
		c.gateway.unregister(c)
		c.netConn.Close()
	}()

	c.netConn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		header, err := ws.ReadHeader(c.netConn)
		if err != nil {
			return
		}
		if header.Length > maxFrameSize {
			c.logger.Warn("frame too large, closing connection", zap.Int64("size", header.Length))
			return
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.netConn, payload); err != nil {
			return
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPong:
			c.netConn.SetReadDeadline(time.Now().Add(pongWait))
		case ws.OpText:
			c.handleFrame(payload)
		}
	}
}

func (c *conn) handleFrame(payload []byte) {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		c.logger.Warn("invalid frame JSON", zap.Error(err))
		return
	}

	switch frame.Command {
	case CommandSubscribe:
		c.gateway.subscribe(c, frame.Destination)
		c.gateway.lifecycle.OnSubscribeTopic(c.sessionID)
	case CommandUnsubscribe:
		c.gateway.unsubscribe(c, frame.Destination)
	case CommandSend:
		if frame.Destination == subscribeActionDestination {
			c.gateway.lifecycle.OnSubscribeAction(context.Background(), c.sessionID, frame.Body)
		}
	case CommandDisconnect:
		// readPump's deferred unregister handles the rest of cleanup.
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.netConn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.outbox:
			c.netConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.netConn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(c.netConn, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.netConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.netConn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
