package ws

import (
	"context"
	"log"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/tajnachat/tajna/internal/domain"
)

// NoticeSource yields the rotation notices queued for a user while they were
// offline.
type NoticeSource interface {
	Drain(ctx context.Context, userID uuid.UUID) ([]domain.RotationNotice, error)
}

// ServeWS returns an HTTP handler that upgrades to WebSocket.
// Auth is done via ?token=xxx query param (WebSocket can't send headers).
func ServeWS(hub *Hub, jwtSecret string, notices NoticeSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Extract token from query param
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		// Validate JWT
		userID, err := validateToken(tokenStr, jwtSecret)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		// Accept WebSocket upgrade
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // Allow any origin (dev mode)
		})
		if err != nil {
			log.Printf("ws: accept error: %v", err)
			return
		}

		client := NewClient(hub, conn, userID)
		hub.register <- client

		// Start read/write pumps in goroutines
		go client.WritePump()
		go client.ReadPump()

		// Replay rotations the user missed while offline, so the client
		// refetches its wrapped keys before trying to read or send.
		if notices != nil {
			go replayNotices(hub, notices, userID)
		}
	}
}

func replayNotices(hub *Hub, notices NoticeSource, userID uuid.UUID) {
	queued, err := notices.Drain(context.Background(), userID)
	if err != nil {
		log.Printf("ws: drain rotation notices for %s: %v", userID, err)
		return
	}
	for _, n := range queued {
		evt, err := NewEvent(EventTypeKeyRotated, &n.GroupID, KeyRotatedPayload{KeyVersion: n.KeyVersion})
		if err != nil {
			continue
		}
		hub.BroadcastToUser(userID, evt)
	}
}

func validateToken(tokenStr, secret string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, jwt.ErrTokenInvalidClaims
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return uuid.Nil, err
	}

	return uuid.Parse(sub)
}
