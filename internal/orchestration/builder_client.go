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

// BuildRequest carries one build-and-deploy call for a finished artifact.
type BuildRequest struct {
	ArtifactName string
	Bundle       models.CodeBundle
	AutoInstall  bool
	OwnerID      string
}

// BuildResult reports where the built package landed.
type BuildResult struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	PackagePath string `json:"package_path,omitempty"`
	Installed   bool   `json:"installed,omitempty"`
}

// Builder is the contract to the build/deploy collaborator.
type Builder interface {
	Build(ctx context.Context, req BuildRequest) (*BuildResult, error)
}

// BuilderClient is the HTTP implementation of Builder.
type BuilderClient struct {
	baseURL      string
	httpClient   *http.Client
	timeout      time.Duration
	basicAuth    string
	projectPath  string
	mavenProfile string
	packagePath  string
	tracer       trace.Tracer
	breaker      *gobreaker.CircuitBreaker
}

// NewBuilderClient creates a builder client from configuration.
func NewBuilderClient(cfg config.BuilderConfig) *BuilderClient {
	settings := gobreaker.Settings{
		Name:        "builder",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	return &BuilderClient{
		baseURL:      cfg.BaseURL,
		httpClient:   &http.Client{},
		timeout:      cfg.Timeout,
		basicAuth:    cfg.BasicAuth,
		projectPath:  cfg.ProjectPath,
		mavenProfile: cfg.MavenProfile,
		packagePath:  cfg.PackagePath,
		tracer:       otel.Tracer("builder-client"),
		breaker:      gobreaker.NewCircuitBreaker(settings),
	}
}

// SetBaseURL sets the base URL for testing purposes
func (c *BuilderClient) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

type buildPayload struct {
	ComponentName string            `json:"componentName"`
	Files         map[string]string `json:"files"`
	ProjectPath   string            `json:"projectPath"`
	MavenProfile  string            `json:"mavenProfile"`
	PackagePath   string            `json:"packagePath"`
	AutoInstall   bool              `json:"autoInstall"`
	UserID        string            `json:"userId"`
}

// Build submits the artifact's code bundle to the build collaborator and
// waits for the Maven build (and optional package install) to finish.
func (c *BuilderClient) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	ctx, span := c.tracer.Start(ctx, "builder.build")
	defer span.End()
	span.SetAttributes(
		attribute.String("artifact.name", req.ArtifactName),
		attribute.Bool("auto_install", req.AutoInstall),
	)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.buildInternal(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result.(*BuildResult), nil
}

func (c *BuilderClient) buildInternal(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	payload := buildPayload{
		ComponentName: req.ArtifactName,
		Files:         req.Bundle,
		ProjectPath:   c.projectPath,
		MavenProfile:  c.mavenProfile,
		PackagePath:   c.packagePath,
		AutoInstall:   req.AutoInstall,
		UserID:        req.OwnerID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/build", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.basicAuth != "" {
		httpReq.Header.Set("Authorization", "Basic "+c.basicAuth)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &CollabError{Service: "builder", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &CollabError{
			Service:       "builder",
			StatusCode:    resp.StatusCode,
			RemoteMessage: remoteMessage(resp.Body),
		}
	}

	var out BuildResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !out.Success {
		return nil, &CollabError{Service: "builder", RemoteMessage: out.Message}
	}
	return &out, nil
}
