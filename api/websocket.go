// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luxfi/settlement/lookup"
)

const (
	wsReadTimeout  = 5 * time.Minute
	wsWriteTimeout = 10 * time.Second
)

// QueryMessage is the reply to one query sent over the WebSocket
type QueryMessage struct {
	Type      string         `json:"type"` // result, error
	Query     lookup.Query   `json:"query"`
	Result    *lookup.Result `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Status    int            `json:"status,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// handleQuery answers a stream of JSON queries on one connection
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[API] WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var q lookup.Query
		if err := conn.ReadJSON(&q); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[API] WebSocket read error: %v", err)
			}
			return
		}

		msg := QueryMessage{Query: q, Timestamp: time.Now().UnixMilli()}
		res, err := s.svc.Lookup(q)
		if err != nil {
			msg.Type = "error"
			msg.Error = err.Error()
			msg.Status = statusFor(err)
		} else {
			msg.Type = "result"
			msg.Result = res
		}

		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("[API] WebSocket write error: %v", err)
			return
		}
	}
}
