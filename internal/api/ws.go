package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"golang.org/x/net/websocket"
)

// wsCommand is a viewer control message, e.g. {"type":"start","token":"..."}.
type wsCommand struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// wsReply answers a command. Events are sent as engine.Event, which also
// carries a "kind" field.
type wsReply struct {
	Kind    string `json:"kind"` // "ack" or "error"
	Command string `json:"command,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleWS streams engine events to a viewer and accepts start/stop commands
// authorized with the admin key. websocket.Conn serializes concurrent writes.
func (s *Server) handleWS(ws *websocket.Conn) {
	defer ws.Close()

	if !s.acquireStream() {
		sendWS(ws, wsReply{Kind: "error", Error: "too many stream connections"})
		return
	}
	defer s.releaseStream()

	subID, ch, catchUp := s.Eng.SubscribeWithCatchUp(streamBuffer)
	defer s.Eng.Unsubscribe(subID)

	if catchUp != nil {
		sendWS(ws, *catchUp)
	}
	slog.Info("websocket client connected", "sub_id", subID, "remote", ws.Request().RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.readCommands(ws)
	}()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := sendWS(ws, e); err != nil {
				slog.Debug("websocket write failed", "sub_id", subID, "error", err)
				return
			}
		case <-done:
			slog.Info("websocket client disconnected", "sub_id", subID)
			return
		}
	}
}

func (s *Server) readCommands(ws *websocket.Conn) {
	for {
		var data string
		if err := websocket.Message.Receive(ws, &data); err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("websocket read error", "error", err)
			}
			return
		}

		var cmd wsCommand
		if err := json.Unmarshal([]byte(data), &cmd); err != nil {
			sendWS(ws, wsReply{Kind: "error", Error: "malformed command"})
			continue
		}
		sendWS(ws, s.runCommand(cmd))
	}
}

func (s *Server) runCommand(cmd wsCommand) wsReply {
	reply := wsReply{Kind: "ack", Command: cmd.Type}
	if s.AdminKey == "" || cmd.Token != s.AdminKey {
		reply.Kind, reply.Error = "error", "unauthorized"
		return reply
	}

	switch cmd.Type {
	case "start":
		if err := s.Eng.Start(); err != nil {
			reply.Kind, reply.Error = "error", err.Error()
		}
	case "stop":
		s.Eng.Stop()
	default:
		reply.Kind, reply.Error = "error", "unknown command"
	}
	return reply
}

func sendWS(ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return websocket.Message.Send(ws, string(data))
}
