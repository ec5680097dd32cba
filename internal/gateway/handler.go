package gateway

import (
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/craftwell/dxp-studio/session-orchestrator/internal/auth"
	"github.com/craftwell/dxp-studio/session-orchestrator/internal/models"
	"github.com/craftwell/dxp-studio/session-orchestrator/internal/orchestration"
	"github.com/craftwell/dxp-studio/session-orchestrator/internal/target"
)

// Handler handles HTTP requests for the gateway layer. Collaborator
// failures are state, not transport errors: those requests answer 200 with
// the notice captured in the returned snapshot, while precondition
// failures map to 4xx.
type Handler struct {
	manager    *orchestration.Manager
	registry   *target.Registry
	jwtManager *auth.JWTManager
	pool       *pgxpool.Pool
}

// NewHandler creates a new gateway handler
func NewHandler(manager *orchestration.Manager, registry *target.Registry, jwtManager *auth.JWTManager, pool *pgxpool.Pool) *Handler {
	if registry == nil {
		registry = target.BuiltIn()
	}
	return &Handler{
		manager:    manager,
		registry:   registry,
		jwtManager: jwtManager,
		pool:       pool,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token string          `json:"token"`
	User  models.UserInfo `json:"user"`
}

// Login godoc
// @Summary User login
// @Description Authenticate user and return JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	var user models.User
	err := h.pool.QueryRow(c.Request.Context(),
		`SELECT id, name, email, hashed_password FROM users WHERE email = $1`,
		req.Email,
	).Scan(&user.ID, &user.Name, &user.Email, &user.HashedPassword)

	if err != nil {
		log.Printf(`{"level":"warn","message":"User not found","email":"%s"}`, req.Email)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.Password)); err != nil {
		log.Printf(`{"level":"warn","message":"Invalid password","email":"%s"}`, req.Email)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	token, err := h.jwtManager.GenerateToken(
		c.Request.Context(),
		user.ID,
		user.Email,
		[]string{"user"},
		24*time.Hour,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token: token,
		User:  user.ToUserInfo(),
	})
}

// RefreshResponse carries the renewed JWT.
type RefreshResponse struct {
	Token string `json:"token"`
}

// RefreshToken godoc
// @Summary Refresh token
// @Description Exchange a still-valid JWT for a fresh one with extended expiry
// @Tags auth
// @Produce json
// @Success 200 {object} RefreshResponse
// @Failure 401 {object} map[string]string
// @Router /auth/refresh [post]
func (h *Handler) RefreshToken(c *gin.Context) {
	const prefix = "Bearer "
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, prefix) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid authorization header"})
		return
	}

	token, err := h.jwtManager.RefreshToken(c.Request.Context(), strings.TrimSpace(header[len(prefix):]), 24*time.Hour)
	if err != nil {
		log.Printf(`{"level":"warn","message":"Token refresh refused","error":"%v"}`, err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}

	c.JSON(http.StatusOK, RefreshResponse{Token: token})
}

// orchestratorFor returns the authenticated owner's orchestrator. Aborts
// the request when the auth middleware did not run.
func (h *Handler) orchestratorFor(c *gin.Context) (*orchestration.Orchestrator, bool) {
	userIDVal, exists := c.Get(auth.UserIDKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "User not authenticated", Code: models.ErrCodeUnauthorized})
		return nil, false
	}
	userID, ok := userIDVal.(string)
	if !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid user ID", Code: models.ErrCodeUnauthorized})
		return nil, false
	}
	return h.manager.For(userID), true
}

// StateResponse wraps a state snapshot, optionally with the identifier the
// operation produced.
type StateResponse struct {
	SessionID string                 `json:"session_id,omitempty"`
	State     orchestration.Snapshot `json:"state"`
}

// respond maps an operation outcome to HTTP. Precondition failures get
// 4xx; everything else answers 200 with the fresh snapshot, where any
// collaborator failure shows up as a notice.
func (h *Handler) respond(c *gin.Context, orch *orchestration.Orchestrator, err error) {
	var pendingErr *orchestration.OperationPendingError
	switch {
	case errors.As(err, &pendingErr):
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error: pendingErr.Error(),
			Code:  models.ErrCodeOperationPending,
			Details: map[string]string{
				"pending": string(pendingErr.Current),
			},
		})
	case errors.Is(err, orchestration.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Session not found", Code: models.ErrCodeSessionNotFound})
	case errors.Is(err, orchestration.ErrUnknownArtifact):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Artifact not found in current session", Code: models.ErrCodeInvalidRequest})
	case errors.Is(err, orchestration.ErrInvalidInput), errors.Is(err, orchestration.ErrCapabilityUnavailable):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Code: models.ErrCodeInvalidRequest})
	default:
		if err != nil {
			log.Printf(`{"level":"warn","message":"Operation surfaced a notice","error":"%v"}`, err)
		}
		c.JSON(http.StatusOK, StateResponse{State: orch.Snapshot()})
	}
}

// SessionListResponse carries session summaries.
type SessionListResponse struct {
	Sessions []models.SessionSummary `json:"sessions"`
}

// ListSessions godoc
// @Summary List sessions
// @Description List the owner's sessions, optionally filtered by search text
// @Tags sessions
// @Produce json
// @Param q query string false "Search text"
// @Success 200 {object} SessionListResponse
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /sessions [get]
func (h *Handler) ListSessions(c *gin.Context) {
	orch, ok := h.orchestratorFor(c)
	if !ok {
		return
	}
	sessions, err := orch.ListSessions(c.Request.Context(), c.Query("q"))
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to list sessions","error":"%v"}`, err)
		// An unreachable store degrades to an empty list, not a hard error.
		c.JSON(http.StatusOK, SessionListResponse{Sessions: []models.SessionSummary{}})
		return
	}
	if sessions == nil {
		sessions = []models.SessionSummary{}
	}
	c.JSON(http.StatusOK, SessionListResponse{Sessions: sessions})
}

// CreateSessionRequest represents an explicit session creation request
type CreateSessionRequest struct {
	Title string `json:"title"`
}

// CreateSession godoc
// @Summary Create session
// @Description Create a new empty session and make it current
// @Tags sessions
// @Accept json
// @Produce json
// @Param request body CreateSessionRequest false "Session details"
// @Success 200 {object} StateResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /sessions [post]
func (h *Handler) CreateSession(c *gin.Context) {
	orch, ok := h.orchestratorFor(c)
	if !ok {
		return
	}
	var req CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeInvalidRequest})
			return
		}
	}

	id, err := orch.CreateSession(c.Request.Context(), req.Title)
	if err != nil {
		h.respond(c, orch, err)
		return
	}
	c.JSON(http.StatusOK, StateResponse{SessionID: id, State: orch.Snapshot()})
}

// SelectSession godoc
// @Summary Select session
// @Description Make a session current, replacing message and artifact history
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} StateResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /sessions/{id}/select [post]
func (h *Handler) SelectSession(c *gin.Context) {
	orch, ok := h.orchestratorFor(c)
	if !ok {
		return
	}
	h.respond(c, orch, orch.SelectSession(c.Request.Context(), c.Param("id")))
}

// DeleteSession godoc
// @Summary Delete session
// @Description Delete a session from the store
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} StateResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /sessions/{id} [delete]
func (h *Handler) DeleteSession(c *gin.Context) {
	orch, ok := h.orchestratorFor(c)
	if !ok {
		return
	}
	h.respond(c, orch, orch.DeleteSession(c.Request.Context(), c.Param("id")))
}

// SendMessageRequest represents a generation request
type SendMessageRequest struct {
	Text        string `json:"text"`
	ImageBase64 string `json:"image_base64,omitempty"`
	ImageName   string `json:"image_name,omitempty"`
}

// SendMessage godoc
// @Summary Send message
// @Description Send a prompt (and optional image) and generate a new artifact
// @Tags messages
// @Accept json
// @Produce json
// @Param request body SendMessageRequest true "Message"
// @Success 200 {object} StateResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /messages [post]
func (h *Handler) SendMessage(c *gin.Context) {
	orch, ok := h.orchestratorFor(c)
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeInvalidRequest})
		return
	}

	var image []byte
	if req.ImageBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid image encoding", Code: models.ErrCodeInvalidRequest})
			return
		}
		image = decoded
	}

	h.respond(c, orch, orch.SendMessage(c.Request.Context(), req.Text, image, req.ImageName))
}

// RefineRequest represents a refinement request
type RefineRequest struct {
	Instruction string `json:"instruction" binding:"required"`
}

// RefineArtifact godoc
// @Summary Refine artifact
// @Description Regenerate an artifact's code bundle from an instruction
// @Tags artifacts
// @Accept json
// @Produce json
// @Param id path string true "Artifact ID"
// @Param request body RefineRequest true "Refinement instruction"
// @Success 200 {object} StateResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /artifacts/{id}/refine [post]
func (h *Handler) RefineArtifact(c *gin.Context) {
	orch, ok := h.orchestratorFor(c)
	if !ok {
		return
	}
	var req RefineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeInvalidRequest})
		return
	}

	artifactID := c.Param("id")
	if err := orch.SelectForRefinement(artifactID); err != nil {
		h.respond(c, orch, err)
		return
	}
	h.respond(c, orch, orch.RefineArtifact(c.Request.Context(), artifactID, req.Instruction))
}

// BuildArtifact godoc
// @Summary Build and deploy artifact
// @Description Submit the artifact's bundle to the build/deploy pipeline
// @Tags artifacts
// @Produce json
// @Param id path string true "Artifact ID"
// @Success 200 {object} StateResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /artifacts/{id}/build [post]
func (h *Handler) BuildArtifact(c *gin.Context) {
	orch, ok := h.orchestratorFor(c)
	if !ok {
		return
	}
	h.respond(c, orch, orch.BuildAndDeploy(c.Request.Context(), c.Param("id")))
}

// PushArtifact godoc
// @Summary Push artifact to git
// @Description Commit the artifact's files through the git collaborator
// @Tags artifacts
// @Produce json
// @Param id path string true "Artifact ID"
// @Success 200 {object} StateResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /artifacts/{id}/push [post]
func (h *Handler) PushArtifact(c *gin.Context) {
	orch, ok := h.orchestratorFor(c)
	if !ok {
		return
	}
	h.respond(c, orch, orch.PushToGit(c.Request.Context(), c.Param("id")))
}

// CancelOperation godoc
// @Summary Cancel pending operation
// @Description Best-effort cancel of a pending build or push
// @Tags operations
// @Produce json
// @Success 200 {object} StateResponse
// @Security BearerAuth
// @Router /operations/cancel [post]
func (h *Handler) CancelOperation(c *gin.Context) {
	orch, ok := h.orchestratorFor(c)
	if !ok {
		return
	}
	orch.Cancel()
	c.JSON(http.StatusOK, StateResponse{State: orch.Snapshot()})
}

// SelectionRequest carries view-state changes. Fields are applied in
// order: target, artifact, section, refinement mark.
type SelectionRequest struct {
	Target           *string `json:"target,omitempty"`
	ArtifactID       *string `json:"artifact_id,omitempty"`
	Section          *string `json:"section,omitempty"`
	RefineArtifactID *string `json:"refine_artifact_id,omitempty"`
}

// UpdateSelection godoc
// @Summary Update selection
// @Description Change the active target, artifact, section or refinement mark
// @Tags selection
// @Accept json
// @Produce json
// @Param request body SelectionRequest true "Selection changes"
// @Success 200 {object} StateResponse
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /selection [put]
func (h *Handler) UpdateSelection(c *gin.Context) {
	orch, ok := h.orchestratorFor(c)
	if !ok {
		return
	}
	var req SelectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeInvalidRequest})
		return
	}

	if req.Target != nil {
		if err := orch.SetActiveTarget(models.TargetKind(*req.Target)); err != nil {
			h.respond(c, orch, err)
			return
		}
	}
	if req.ArtifactID != nil {
		if err := orch.SetActiveArtifact(*req.ArtifactID); err != nil {
			h.respond(c, orch, err)
			return
		}
	}
	if req.Section != nil {
		if err := orch.SetActiveSection(*req.Section); err != nil {
			h.respond(c, orch, err)
			return
		}
	}
	if req.RefineArtifactID != nil {
		if *req.RefineArtifactID == "" {
			orch.ClearRefinementTarget()
		} else if err := orch.SelectForRefinement(*req.RefineArtifactID); err != nil {
			h.respond(c, orch, err)
			return
		}
	}

	c.JSON(http.StatusOK, StateResponse{State: orch.Snapshot()})
}

// GetState godoc
// @Summary Get state snapshot
// @Description Read-only snapshot of the orchestrator state
// @Tags state
// @Produce json
// @Success 200 {object} StateResponse
// @Security BearerAuth
// @Router /state [get]
func (h *Handler) GetState(c *gin.Context) {
	orch, ok := h.orchestratorFor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, StateResponse{State: orch.Snapshot()})
}
