package orchestration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/craftwell/dxp-studio/session-orchestrator/internal/config"
	"github.com/craftwell/dxp-studio/session-orchestrator/internal/models"
)

// GenerateRequest carries one generation call to the AI backend. Image is
// optional; when present it is attached as a multipart file part.
type GenerateRequest struct {
	SessionID string
	Prompt    string
	Image     []byte
	ImageName string
	Target    models.TargetKind
	OwnerID   string
}

// GenerateResult is the collaborator's acknowledgment. The orchestrator
// reloads the full session afterwards, so the assistant message and the new
// artifact are always taken from the store's serialization, not from here.
type GenerateResult struct {
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	ArtifactID   string `json:"artifact_id,omitempty"`
	ArtifactName string `json:"artifact_name,omitempty"`
}

// RefineRequest carries one refinement call for an existing artifact.
type RefineRequest struct {
	SessionID   string
	ArtifactID  string
	Instruction string
	OwnerID     string
}

// Generator is the contract to the generation/refinement collaborator.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
	Refine(ctx context.Context, req RefineRequest) (*GenerateResult, error)
}

// GeneratorClient is the HTTP implementation of Generator.
type GeneratorClient struct {
	baseURL         string
	httpClient      *http.Client
	generateTimeout time.Duration
	refineTimeout   time.Duration
	tracer          trace.Tracer
	breaker         *gobreaker.CircuitBreaker
}

// NewGeneratorClient creates a generator client from configuration.
func NewGeneratorClient(cfg config.GeneratorConfig) *GeneratorClient {
	settings := gobreaker.Settings{
		Name:        "generator",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	return &GeneratorClient{
		baseURL:         cfg.BaseURL,
		httpClient:      &http.Client{},
		generateTimeout: cfg.GenerateTimeout,
		refineTimeout:   cfg.RefineTimeout,
		tracer:          otel.Tracer("generator-client"),
		breaker:         gobreaker.NewCircuitBreaker(settings),
	}
}

// SetBaseURL sets the base URL for testing purposes
func (c *GeneratorClient) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// Generate asks the AI backend to produce a new artifact from the prompt
// (and optional image) inside the given session.
func (c *GeneratorClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	ctx, span := c.tracer.Start(ctx, "generator.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("target.kind", string(req.Target)),
		attribute.Bool("image.present", len(req.Image) > 0),
	)

	ctx, cancel := context.WithTimeout(ctx, c.generateTimeout)
	defer cancel()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.generateInternal(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result.(*GenerateResult), nil
}

func (c *GeneratorClient) generateInternal(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	fields := map[string]string{
		"componentDesc": req.Prompt,
		"sessionId":     req.SessionID,
		"userId":        req.OwnerID,
		"target":        string(req.Target),
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}

	if len(req.Image) > 0 {
		name := req.ImageName
		if name == "" {
			name = "upload.png"
		}
		part, err := writer.CreateFormFile("file", name)
		if err != nil {
			return nil, fmt.Errorf("failed to create image part: %w", err)
		}
		if _, err := part.Write(req.Image); err != nil {
			return nil, fmt.Errorf("failed to write image part: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	return c.doGenerate(httpReq)
}

// Refine asks the AI backend to regenerate an artifact's full code bundle
// from the refinement instruction.
func (c *GeneratorClient) Refine(ctx context.Context, req RefineRequest) (*GenerateResult, error) {
	ctx, span := c.tracer.Start(ctx, "generator.refine")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("artifact.id", req.ArtifactID),
	)

	ctx, cancel := context.WithTimeout(ctx, c.refineTimeout)
	defer cancel()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		payload := map[string]string{
			"session_id":        req.SessionID,
			"component_id":      req.ArtifactID,
			"refinement_prompt": req.Instruction,
			"user_id":           req.OwnerID,
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/refine", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return c.doGenerate(httpReq)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result.(*GenerateResult), nil
}

func (c *GeneratorClient) doGenerate(req *http.Request) (*GenerateResult, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &CollabError{Service: "generator", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &CollabError{
			Service:       "generator",
			StatusCode:    resp.StatusCode,
			RemoteMessage: remoteMessage(resp.Body),
		}
	}

	var out GenerateResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !out.Success {
		return nil, &CollabError{Service: "generator", RemoteMessage: out.Message}
	}
	return &out, nil
}
