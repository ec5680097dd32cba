package orchestration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/craftwell/dxp-studio/session-orchestrator/internal/config"
	"github.com/craftwell/dxp-studio/session-orchestrator/internal/models"
)

// GitPushRequest carries one publish call for a static-block artifact.
type GitPushRequest struct {
	BlockName string
	Files     models.CodeBundle
	SessionID string
	OwnerID   string
}

// GitPushResult reports where the artifact was committed.
type GitPushResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	CommitSHA string `json:"commit_sha,omitempty"`
	Branch    string `json:"branch,omitempty"`
	PRURL     string `json:"pr_url,omitempty"`
}

// GitPusher is the contract to the git publishing collaborator.
type GitPusher interface {
	Push(ctx context.Context, req GitPushRequest) (*GitPushResult, error)
}

// GitPushClient is the HTTP implementation of GitPusher.
type GitPushClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	createPR   bool
	tracer     trace.Tracer
	breaker    *gobreaker.CircuitBreaker
}

// NewGitPushClient creates a git push client from configuration.
func NewGitPushClient(cfg config.GitPushConfig) *GitPushClient {
	settings := gobreaker.Settings{
		Name:        "git-push",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	return &GitPushClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{},
		timeout:    cfg.Timeout,
		createPR:   cfg.CreatePR,
		tracer:     otel.Tracer("git-push-client"),
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

// SetBaseURL sets the base URL for testing purposes
func (c *GitPushClient) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

type gitPushPayload struct {
	BlockName string            `json:"block_name"`
	Files     map[string]string `json:"files"`
	SessionID string            `json:"session_id"`
	UserID    string            `json:"user_id"`
	CreatePR  bool              `json:"create_pr"`
}

// Push commits the artifact's files to the configured repository and
// optionally opens a pull request for them.
func (c *GitPushClient) Push(ctx context.Context, req GitPushRequest) (*GitPushResult, error) {
	ctx, span := c.tracer.Start(ctx, "gitpush.push")
	defer span.End()
	span.SetAttributes(
		attribute.String("block.name", req.BlockName),
		attribute.String("session.id", req.SessionID),
	)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.pushInternal(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result.(*GitPushResult), nil
}

func (c *GitPushClient) pushInternal(ctx context.Context, req GitPushRequest) (*GitPushResult, error) {
	payload := gitPushPayload{
		BlockName: req.BlockName,
		Files:     req.Files,
		SessionID: req.SessionID,
		UserID:    req.OwnerID,
		CreatePR:  c.createPR,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/push", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &CollabError{Service: "git-push", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &CollabError{
			Service:       "git-push",
			StatusCode:    resp.StatusCode,
			RemoteMessage: remoteMessage(resp.Body),
		}
	}

	var out GitPushResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !out.Success {
		return nil, &CollabError{Service: "git-push", RemoteMessage: out.Message}
	}
	return &out, nil
}
