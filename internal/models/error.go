package models

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// Error codes for the orchestrator's failure taxonomy. Every collaborator
// failure is converted to one of these at the orchestrator boundary.
const (
	ErrCodeSessionNotFound     = "SESSION_NOT_FOUND"
	ErrCodeSessionCreateFailed = "SESSION_CREATE_FAILED"
	ErrCodeGenerationFailed    = "GENERATION_FAILED"
	ErrCodeRefinementFailed    = "REFINEMENT_FAILED"
	ErrCodeBuildFailed         = "BUILD_FAILED"
	ErrCodeGitPushFailed       = "GIT_PUSH_FAILED"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeOperationPending    = "OPERATION_PENDING"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInternalError       = "INTERNAL_ERROR"
)

// OperationContext tags a notice with the operation that produced it, so
// the presentation layer can route the message to the correct panel.
type OperationContext string

const (
	ContextGenerate OperationContext = "generate"
	ContextRefine   OperationContext = "refine"
	ContextBuild    OperationContext = "build"
	ContextGitPush  OperationContext = "git_push"
	ContextSession  OperationContext = "session"
)
