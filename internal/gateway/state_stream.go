package gateway

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/craftwell/dxp-studio/session-orchestrator/internal/auth"
	"github.com/craftwell/dxp-studio/session-orchestrator/internal/orchestration"
)

const (
	stateStreamWriteTimeout = 10 * time.Second
	stateStreamPingInterval = 30 * time.Second
)

// StateStream pushes orchestrator snapshots over a WebSocket so the
// presentation layer re-renders on state transitions instead of polling.
type StateStream struct {
	manager    *orchestration.Manager
	jwtManager *auth.JWTManager
	tracer     trace.Tracer
	upgrader   websocket.Upgrader
}

// NewStateStream creates the WebSocket state stream handler
func NewStateStream(manager *orchestration.Manager, jwtManager *auth.JWTManager) *StateStream {
	return &StateStream{
		manager:    manager,
		jwtManager: jwtManager,
		tracer:     otel.Tracer("state-stream"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: Implement proper CORS origin checking for production
				origin := r.Header.Get("Origin")
				log.Printf("WebSocket connection from origin: %s", origin)
				return true
			},
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Stream handles WebSocket /api/ws/state
// @Summary Stream state snapshots
// @Description WebSocket endpoint streaming the orchestrator state after every transition
// @Tags state
// @Param token query string false "JWT token (WebSocket clients cannot set headers)"
// @Param Authorization header string false "Bearer token"
// @Success 101 "Switching Protocols"
// @Failure 401 {object} map[string]string
// @Security BearerAuth
// @Router /ws/state [get]
func (s *StateStream) Stream(c *gin.Context) {
	ctx, span := s.tracer.Start(c.Request.Context(), "state_stream.stream")
	defer span.End()

	userID, err := s.validateJWTAndGetUserID(c)
	if err != nil {
		span.RecordError(err)
		log.Printf("JWT validation failed: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	span.SetAttributes(attribute.String("user_id", userID))

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("State stream opened for user: %s", userID)

	snapshots, unsubscribe := s.manager.For(userID).Subscribe()
	defer unsubscribe()

	// Drain client frames so close handshakes and pongs are processed;
	// the stream itself is one-directional.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("State stream closed normally for user: %s", userID)
				} else {
					log.Printf("State stream read error for user %s: %v", userID, err)
				}
				return
			}
		}
	}()

	pings := time.NewTicker(stateStreamPingInterval)
	defer pings.Stop()

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(stateStreamWriteTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				log.Printf("Failed to write snapshot for user %s: %v", userID, err)
				return
			}
		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(stateStreamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-clientGone:
			return
		case <-ctx.Done():
			return
		}
	}
}

// validateJWTAndGetUserID validates the JWT and returns the user ID. The
// token is read from the query parameter first (WebSocket clients cannot
// set headers), then from the Authorization header.
func (s *StateStream) validateJWTAndGetUserID(c *gin.Context) (string, error) {
	token := c.Query("token")
	if token == "" {
		authHeader := c.GetHeader("Authorization")
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			token = authHeader[7:]
		}
	}
	if token == "" {
		return "", fmt.Errorf("missing JWT token")
	}

	claims, err := s.jwtManager.ValidateToken(c.Request.Context(), token)
	if err != nil {
		return "", fmt.Errorf("invalid JWT: %w", err)
	}
	return claims.UserID, nil
}
