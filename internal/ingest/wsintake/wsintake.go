// Package wsintake decodes frames off an already-accepted WebSocket
// connection and feeds the raw event bytes into the ingest pipeline. It
// owns nothing about the connection's lifecycle beyond the read loop: the
// handshake, CORS, and auth-header negotiation are a transport concern
// upstream of this package.
package wsintake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/kukuri-network/community-node/internal/config"
	"github.com/kukuri-network/community-node/internal/ingest"
)

// Upgrader is the shared connection upgrader; callers wire their own
// CheckOrigin before handing connections to Serve.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Engine is the ingest collaborator Serve feeds frames into.
type Engine interface {
	Ingest(ctx context.Context, raw []byte, source ingest.Source, ictx ingest.Context, relayCfg config.RelayConfig) (ingest.Outcome, error)
}

// clientFrame is the two-element ["EVENT", <event>] envelope a client sends.
// Anything else on the wire is ignored rather than rejected, keeping this
// package agnostic to whatever subscription/REQ surface a transport layers
// on top.
type clientFrame struct {
	Label string
	Event json.RawMessage
}

func parseClientFrame(raw []byte) (clientFrame, bool) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil || len(arr) < 2 {
		return clientFrame{}, false
	}
	var label string
	if err := json.Unmarshal(arr[0], &label); err != nil || label != "EVENT" {
		return clientFrame{}, false
	}
	return clientFrame{Label: label, Event: arr[1]}, true
}

// Serve runs the read loop for one connection until it closes or ctx is
// cancelled, feeding every ["EVENT", ...] frame through engine.Ingest and
// writing back an ["OK", event_id, accepted, message] frame per NIP-01
// convention. A frame whose Ingest call returns an error is logged and gets
// no OK frame.
func Serve(ctx context.Context, conn *websocket.Conn, engine Engine, peerID, authPubkey string, relayCfg func() config.RelayConfig, log *logrus.Logger) error {
	if log == nil {
		log = logrus.New()
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
	})

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("wsintake: read: %w", err)
		}

		frame, ok := parseClientFrame(raw)
		if !ok {
			continue
		}

		ictx := ingest.Context{AuthPubkey: authPubkey, PeerID: peerID}
		outcome, err := engine.Ingest(ctx, frame.Event, ingest.SourceWS, ictx, relayCfg())
		if err != nil {
			log.WithError(err).Warn("wsintake: ingest error")
			continue
		}

		eventID := eventIDOf(frame.Event)
		if err := writeOK(conn, eventID, outcome); err != nil {
			return err
		}
	}
}

func eventIDOf(raw json.RawMessage) string {
	var ev struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &ev)
	return ev.ID
}

func writeOK(conn *websocket.Conn, eventID string, outcome ingest.Outcome) error {
	msg := outcome.RejectReason
	if outcome.Accepted && outcome.Duplicate {
		msg = "duplicate"
	}
	payload, err := json.Marshal([]any{"OK", eventID, outcome.Accepted, msg})
	if err != nil {
		return fmt.Errorf("wsintake: marshal OK frame: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
