package orchestration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/craftwell/dxp-studio/session-orchestrator/internal/config"
	"github.com/craftwell/dxp-studio/session-orchestrator/internal/models"
)

// SessionStore is the request/response contract to the remote session,
// message and artifact persistence service.
type SessionStore interface {
	ListSessions(ctx context.Context, ownerID, search string) ([]models.SessionSummary, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	CreateSession(ctx context.Context, title, ownerID string) (string, error)
	DeleteSession(ctx context.Context, sessionID string) error
	// Invalidate drops any cached projection of the session so the next
	// GetSession observes the store's latest serialization.
	Invalidate(sessionID string)
}

// SessionStoreClient is the HTTP implementation of SessionStore. Session
// projections are cached briefly; every mutating call for a session
// invalidates its cache entry.
type SessionStoreClient struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
	breaker    *gobreaker.CircuitBreaker
	cache      *expirable.LRU[string, *models.Session]
}

// NewSessionStoreClient creates a store client from configuration.
func NewSessionStoreClient(cfg config.StoreConfig) *SessionStoreClient {
	settings := gobreaker.Settings{
		Name:        "session-store",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	return &SessionStoreClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tracer:     otel.Tracer("session-store-client"),
		breaker:    gobreaker.NewCircuitBreaker(settings),
		cache:      expirable.NewLRU[string, *models.Session](cfg.CacheMax, nil, cfg.CacheTTL),
	}
}

// SetBaseURL sets the base URL for testing purposes
func (c *SessionStoreClient) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

type listSessionsResponse struct {
	Success  bool                    `json:"success"`
	Message  string                  `json:"message,omitempty"`
	Sessions []models.SessionSummary `json:"sessions"`
}

type getSessionResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Session *models.Session `json:"session"`
}

type createSessionRequest struct {
	SessionTitle string `json:"session_title"`
	UserID       string `json:"user_id"`
}

type createSessionResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id"`
}

type ackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ListSessions returns session summaries for the owner, optionally
// filtered by search text. A store failure yields an empty list error.
func (c *SessionStoreClient) ListSessions(ctx context.Context, ownerID, search string) ([]models.SessionSummary, error) {
	ctx, span := c.tracer.Start(ctx, "session_store.list_sessions")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", ownerID))

	endpoint := fmt.Sprintf("%s/chat/sessions?user_id=%s", c.baseURL, url.QueryEscape(ownerID))
	if search != "" {
		endpoint = fmt.Sprintf("%s/chat/sessions/search?user_id=%s&q=%s", c.baseURL, url.QueryEscape(ownerID), url.QueryEscape(search))
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var out listSessionsResponse
		if err := c.getJSON(ctx, endpoint, &out); err != nil {
			return nil, err
		}
		return out.Sessions, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions, _ := result.([]models.SessionSummary)
	span.SetAttributes(attribute.Int("sessions.count", len(sessions)))
	return sessions, nil
}

// GetSession returns the full projection (messages + artifacts) of one
// session. Results may be served from the projection cache.
func (c *SessionStoreClient) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	ctx, span := c.tracer.Start(ctx, "session_store.get_session")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	if cached, ok := c.cache.Get(sessionID); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	result, err := c.breaker.Execute(func() (interface{}, error) {
		endpoint := fmt.Sprintf("%s/chat/sessions/%s", c.baseURL, url.PathEscape(sessionID))
		var out getSessionResponse
		if err := c.getJSON(ctx, endpoint, &out); err != nil {
			return nil, err
		}
		if out.Session == nil {
			return nil, fmt.Errorf("store response missing session payload")
		}
		return out.Session, nil
	})
	if err != nil {
		span.RecordError(err)
		var collab *CollabError
		if errors.As(err, &collab) && collab.StatusCode == http.StatusNotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session := result.(*models.Session)
	c.cache.Add(sessionID, session)
	return session, nil
}

// CreateSession creates a session remotely and returns its identifier.
func (c *SessionStoreClient) CreateSession(ctx context.Context, title, ownerID string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "session_store.create_session")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", ownerID))

	result, err := c.breaker.Execute(func() (interface{}, error) {
		body, err := json.Marshal(createSessionRequest{SessionTitle: title, UserID: ownerID})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/sessions", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		var out createSessionResponse
		if err := c.doJSON(req, &out); err != nil {
			return nil, err
		}
		if !out.Success || out.SessionID == "" {
			return nil, fmt.Errorf("store rejected session creation: %s", out.Message)
		}
		return out.SessionID, nil
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	id := result.(string)
	span.SetAttributes(attribute.String("session.id", id))
	return id, nil
}

// DeleteSession deletes a session remotely and drops its cached projection.
func (c *SessionStoreClient) DeleteSession(ctx context.Context, sessionID string) error {
	ctx, span := c.tracer.Start(ctx, "session_store.delete_session")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	_, err := c.breaker.Execute(func() (interface{}, error) {
		endpoint := fmt.Sprintf("%s/chat/sessions/%s", c.baseURL, url.PathEscape(sessionID))
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		var out ackResponse
		if err := c.doJSON(req, &out); err != nil {
			return nil, err
		}
		if !out.Success {
			return nil, fmt.Errorf("store rejected session deletion: %s", out.Message)
		}
		return nil, nil
	})

	c.cache.Remove(sessionID)

	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Invalidate drops the cached projection for a session.
func (c *SessionStoreClient) Invalidate(sessionID string) {
	c.cache.Remove(sessionID)
}

func (c *SessionStoreClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.doJSON(req, out)
}

func (c *SessionStoreClient) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &CollabError{Service: "session store", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &CollabError{
			Service:       "session store",
			StatusCode:    resp.StatusCode,
			RemoteMessage: remoteMessage(resp.Body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// remoteMessage extracts a human-readable message from an error payload,
// falling back to the raw body.
func remoteMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(raw, &envelope) == nil {
		switch {
		case envelope.Message != "":
			return envelope.Message
		case envelope.Error != "":
			return envelope.Error
		case envelope.Detail != "":
			return envelope.Detail
		}
	}
	return string(raw)
}
