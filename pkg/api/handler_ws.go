package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/steward-ai/steward/pkg/fault"
	"github.com/steward-ai/steward/pkg/models"
)

// wsError is the error frame sent to WebSocket clients.
type wsError struct {
	Kind    fault.Kind `json:"kind"`
	Message string     `json:"message"`
}

// handleChatWS upgrades to WebSocket and serves one request/response
// exchange per message until the client closes.
func (s *Server) handleChatWS(c *gin.Context) {
	opts := &websocket.AcceptOptions{}
	if len(s.cfg.AllowedWSOrigins) > 0 {
		opts.OriginPatterns = s.cfg.AllowedWSOrigins
	}
	conn, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "server closing")

	ctx := c.Request.Context()
	for {
		var req models.ChatRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			slog.Debug("WebSocket read failed", "error", err)
			conn.Close(websocket.StatusInvalidFramePayloadData, "malformed message")
			return
		}

		resp, err := s.chat.Chat(ctx, &req)
		writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err != nil {
			frame := wsError{Kind: fault.KindOf(err), Message: faultMessage(err)}
			err = wsjson.Write(writeCtx, conn, gin.H{"error": frame})
		} else {
			err = wsjson.Write(writeCtx, conn, resp)
		}
		cancel()
		if err != nil {
			slog.Debug("WebSocket write failed", "error", err)
			return
		}
	}
}
