package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"swarg/internal/delivery"
	"swarg/internal/middleware"
	"swarg/internal/models"
	"swarg/internal/notifications"
	"swarg/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// WebSocketUpgrade rejects plain HTTP requests to the websocket endpoint.
func (s *Server) WebSocketUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// WebSocketHandler serves GET /api/ws. Each connection is one session of
// the authenticated user; inbound events are handled in arrival order.
func (s *Server) WebSocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, ok := conn.Locals("userID").(uint)
		if !ok || userID == 0 {
			log.Printf("WebSocket: unauthenticated connection attempt")
			writeWSError(conn, "", models.NewNotAuthorizedError("unauthorized"))
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			log.Printf("WebSocket: failed to register user %d: %v", userID, err)
			writeWSError(conn, "", models.NewForbiddenError(err.Error()))
			_ = conn.Close()
			return
		}

		client.IncomingHandler = s.handleClientEvent

		go client.WritePump()
		client.ReadPump()
	})
}

// writeWSError writes an error frame directly, before the session has a
// write pump.
func writeWSError(conn *websocket.Conn, event string, err *models.AppError) {
	frame, encErr := delivery.Encode(delivery.EventError, delivery.ErrorData{Event: event, Code: err.Code, Message: err.Message})
	if encErr != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, frame)
}

// reply queues a frame for the session that sent the inbound event.
func reply(c *notifications.Client, event string, data interface{}) {
	frame, err := delivery.Encode(event, data)
	if err != nil {
		log.Printf("WebSocket: encode %s: %v", event, err)
		return
	}
	if err := c.TrySend(frame); err != nil {
		log.Printf("WebSocket: reply %s to user %d: %v", event, c.UserID(), err)
	}
}

func replyError(c *notifications.Client, event string, err error) {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		log.Printf("WebSocket: %s from user %d: %v", event, c.UserID(), err)
		appErr = models.NewInternalError(err)
	}
	reply(c, delivery.EventError, delivery.ErrorData{Event: event, Code: appErr.Code, Message: appErr.Message})
}

// handleClientEvent dispatches one inbound frame.
func (s *Server) handleClientEvent(c *notifications.Client, raw []byte) {
	userID := c.UserID()
	ctx := middleware.WithUserID(context.Background(), userID)

	env, err := delivery.Decode(raw)
	if err != nil || env.Event == "" {
		replyError(c, "", models.NewValidationError("Malformed frame"))
		return
	}

	switch {
	case env.Event == delivery.EventSendMessage:
		s.wsSendMessage(ctx, c, env)

	case env.Event == delivery.EventMessageDelivered || env.Event == delivery.EventMessageRead:
		var data delivery.ReceiptData
		if err := delivery.DecodeData(env, &data); err != nil {
			replyError(c, env.Event, models.NewValidationError("Invalid receipt payload"))
			return
		}
		if env.Event == delivery.EventMessageRead {
			_, err = s.chatService.MarkRead(ctx, data.MessageIDs, userID)
		} else {
			_, err = s.chatService.AcknowledgeDelivered(ctx, data.MessageIDs, userID)
		}
		if err != nil {
			replyError(c, env.Event, err)
		}

	case env.Event == delivery.EventTypingStart || env.Event == delivery.EventTypingStop:
		var data delivery.TypingData
		if err := delivery.DecodeData(env, &data); err != nil {
			replyError(c, env.Event, models.NewValidationError("Invalid typing payload"))
			return
		}
		// Spammy typing indicators are dropped silently.
		if s.overWSLimit(ctx, "typing", userID, 10, 10*time.Second) {
			return
		}
		if err := s.chatService.Typing(ctx, userID, data.To, env.Event == delivery.EventTypingStart); err != nil {
			replyError(c, env.Event, err)
		}

	case service.IsCallEvent(env.Event):
		var data delivery.CallData
		if err := delivery.DecodeData(env, &data); err != nil {
			replyError(c, env.Event, models.NewValidationError("Invalid call payload"))
			return
		}
		to := data.To
		callID, err := s.chatService.CallSignal(ctx, userID, env.Event, data)
		if err != nil {
			replyError(c, env.Event, err)
			return
		}
		if env.Event == delivery.EventCallInitiate {
			reply(c, delivery.EventCallInitiated, delivery.CallData{CallID: callID, To: to, Type: data.Type})
		}

	default:
		replyError(c, env.Event, models.NewValidationError("Unknown event"))
	}
}

// overWSLimit reports whether userID exhausted a per-frame budget. Frames
// pass when the limiter store cannot be reached.
func (s *Server) overWSLimit(ctx context.Context, resource string, userID uint, limit int, window time.Duration) bool {
	allowed, err := middleware.CheckRateLimit(ctx, s.redis, resource, fmt.Sprintf("user:%d", userID), limit, window)
	if err != nil {
		middleware.Logger.DebugContext(ctx, "websocket rate limit skipped", "resource", resource, "error", err)
		return false
	}
	return !allowed
}

func (s *Server) wsSendMessage(ctx context.Context, c *notifications.Client, env *delivery.Envelope) {
	var data delivery.SendMessageData
	if err := delivery.DecodeData(env, &data); err != nil {
		replyError(c, env.Event, models.NewValidationError("Invalid message payload"))
		return
	}

	userID := c.UserID()
	if s.overWSLimit(ctx, "send_message", userID, 60, time.Minute) {
		replyError(c, env.Event, models.NewForbiddenError("rate limit exceeded"))
		return
	}

	result, err := s.chatService.SendMessage(ctx, service.CreateMessageInput{
		SenderID:    userID,
		Receiver:    data.To,
		Type:        data.Type,
		Content:     data.Content,
		Media:       data.Media,
		Location:    data.Location,
		Contact:     data.Contact,
		ReplyToID:   data.ReplyToID,
		IsForwarded: data.IsForwarded,
	})
	if err != nil {
		replyError(c, env.Event, err)
		return
	}

	reply(c, delivery.EventMessageSent, delivery.MessageSentData{
		ClientID:  data.ClientID,
		Message:   *result.Message,
		Delivered: result.Routing.Delivered(),
		Pending:   result.Routing.Undelivered(),
	})
}
