package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/craftwell/dxp-studio/session-orchestrator/internal/config"
	"github.com/craftwell/dxp-studio/session-orchestrator/internal/models"
	"github.com/craftwell/dxp-studio/session-orchestrator/internal/target"
)

// Sessions created implicitly from a first message take their title from
// the prompt, truncated to this many runes.
const sessionTitleLimit = 50

// OperationRecorder receives operation lifecycle events. Satisfied by
// *metrics.OperationMetrics.
type OperationRecorder interface {
	RecordOperationStarted(ctx context.Context, operation, ownerID string)
	RecordOperationCompleted(ctx context.Context, operation, ownerID string, duration time.Duration)
	RecordOperationFailed(ctx context.Context, operation, ownerID, errorCode string, duration time.Duration)
	RecordOperationRejected(ctx context.Context, operation, pending string)
}

// Deps bundles the collaborators an orchestrator works against. Registry
// and Now default to target.BuiltIn() and time.Now when left nil.
type Deps struct {
	Store     SessionStore
	Generator Generator
	Builder   Builder
	GitPusher GitPusher
	Registry  *target.Registry
	Notices   config.NoticeConfig
	Metrics   OperationRecorder
	Now       func() time.Time
}

// Orchestrator is the single source of truth for one owner's conversation:
// which session is current, what has been generated, what is displayed, and
// what is currently running. All state lives behind one mutex and every
// operation completion applies exactly one transition, so the invariants on
// selection and history can never be observed half-applied.
//
// Collaborator failures never escape as errors to the caller; they are
// converted to context-tagged notices held in state. Returned errors are
// reserved for precondition failures: a pending operation, unknown
// artifacts, invalid input.
type Orchestrator struct {
	ownerID   string
	store     SessionStore
	generator Generator
	builder   Builder
	gitPusher GitPusher
	registry  *target.Registry
	notices   config.NoticeConfig
	metrics   OperationRecorder
	now       func() time.Time

	mu            sync.Mutex
	session       *models.Session
	selection     Selection
	pending       models.PendingOperation
	pendingHint   string
	errNotice     *models.Notice
	okNotice      *models.Notice
	cancelPending context.CancelFunc
	opSeq         uint64
	sessionsRev   uint64
	subs          map[chan Snapshot]struct{}
}

// New creates an orchestrator for one owner.
func New(ownerID string, deps Deps) *Orchestrator {
	registry := deps.Registry
	if registry == nil {
		registry = target.BuiltIn()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	notices := deps.Notices
	if notices.BuildSuccessWindow <= 0 {
		notices.BuildSuccessWindow = 5 * time.Second
	}
	if notices.GitPushSuccessWindow <= 0 {
		notices.GitPushSuccessWindow = 10 * time.Second
	}

	return &Orchestrator{
		ownerID:   ownerID,
		store:     deps.Store,
		generator: deps.Generator,
		builder:   deps.Builder,
		gitPusher: deps.GitPusher,
		registry:  registry,
		notices:   notices,
		metrics:   deps.Metrics,
		now:       now,
		pending:   models.PendingNone,
		selection: Selection{Target: registry.Default()},
		subs:      make(map[chan Snapshot]struct{}),
	}
}

// OwnerID returns the owner this orchestrator belongs to.
func (o *Orchestrator) OwnerID() string {
	return o.ownerID
}

// ListSessions returns the owner's session summaries from the store,
// optionally filtered by search text. Read-only; permitted at any time.
func (o *Orchestrator) ListSessions(ctx context.Context, search string) ([]models.SessionSummary, error) {
	return o.store.ListSessions(ctx, o.ownerID, search)
}

// SelectSession makes the named session current: its messages and artifacts
// replace the current histories atomically and selection is re-evaluated
// with the auto-select rule. On failure the orchestrator resets to the
// empty state rather than keeping a partial mix of old and new history.
func (o *Orchestrator) SelectSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session id required", ErrInvalidInput)
	}
	// The store round-trip holds the pending slot so no other operation
	// can interleave its transitions with the session switch.
	token, err := o.begin(ctx, models.PendingSelectingSession, "Loading session...")
	if err != nil {
		return err
	}
	started := o.now()
	o.recordStarted(ctx, "select_session")

	sess, getErr := o.store.GetSession(ctx, sessionID)
	if getErr != nil {
		o.finish(token, func() {
			o.session = nil
			o.selection = Selection{Target: o.registry.Default()}
			if errors.Is(getErr, ErrSessionNotFound) {
				o.setErrorLocked(models.ContextSession, models.ErrCodeSessionNotFound,
					"The session could not be loaded. It may have been deleted.")
			} else {
				o.setErrorLocked(models.ContextSession, models.ErrCodeInternalError,
					failureMessage(getErr, "session store", "The session could not be loaded. Try again."))
			}
		})
		if errors.Is(getErr, ErrSessionNotFound) {
			o.recordFailed(ctx, "select_session", models.ErrCodeSessionNotFound, started)
			return ErrSessionNotFound
		}
		o.recordFailed(ctx, "select_session", models.ErrCodeInternalError, started)
		return fmt.Errorf("load session %s: %w", sessionID, getErr)
	}
	o.finish(token, func() {
		o.applySessionLocked(sess)
	})
	o.recordCompleted(ctx, "select_session", started)
	return nil
}

// CreateSession explicitly creates a new, empty session and makes it
// current. The previous current session is untouched when the store call
// fails.
func (o *Orchestrator) CreateSession(ctx context.Context, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New component"
	}
	token, err := o.begin(ctx, models.PendingCreatingSession, "Creating session...")
	if err != nil {
		return "", err
	}
	started := o.now()
	o.recordStarted(ctx, "create_session")

	id, err := o.store.CreateSession(ctx, title, o.ownerID)
	if err != nil {
		log.Printf("Session create failed for owner %s: %v", o.ownerID, err)
		o.finish(token, func() {
			o.setErrorLocked(models.ContextSession, models.ErrCodeSessionCreateFailed,
				failureMessage(err, "session store", "Could not create a new session."))
		})
		o.recordFailed(ctx, "create_session", models.ErrCodeSessionCreateFailed, started)
		return "", fmt.Errorf("create session: %w", err)
	}

	now := o.now()
	o.finish(token, func() {
		o.session = &models.Session{
			ID:        id,
			Title:     title,
			OwnerID:   o.ownerID,
			CreatedAt: now,
			UpdatedAt: now,
			Messages:  []models.Message{},
			Artifacts: []models.Artifact{},
		}
		o.selection = Selection{Target: o.selection.Target}
		o.sessionsRev++
	})
	o.recordCompleted(ctx, "create_session", started)
	return id, nil
}

// SendMessage sends the user's prompt (and optional image) into the
// current session and asks the generation collaborator for a new artifact.
// When no session is current one is created first, titled from the prompt.
// On success the session is reloaded from the store so the assistant
// message and the new artifact are captured exactly as persisted, and the
// newest artifact is auto-selected.
func (o *Orchestrator) SendMessage(ctx context.Context, text string, image []byte, imageName string) error {
	if strings.TrimSpace(text) == "" && len(image) == 0 {
		return fmt.Errorf("%w: message needs text or an image", ErrInvalidInput)
	}
	token, err := o.begin(ctx, models.PendingGenerating, "Generating component, this can take a minute...")
	if err != nil {
		return err
	}
	started := o.now()
	o.recordStarted(ctx, "generate")

	o.mu.Lock()
	sessionID := ""
	if o.session != nil {
		sessionID = o.session.ID
	}
	targetKind := o.selection.Target
	o.mu.Unlock()

	if sessionID == "" {
		title := deriveTitle(text)
		id, err := o.store.CreateSession(ctx, title, o.ownerID)
		if err != nil {
			log.Printf("Implicit session create failed for owner %s: %v", o.ownerID, err)
			o.finish(token, func() {
				o.setErrorLocked(models.ContextSession, models.ErrCodeSessionCreateFailed,
					failureMessage(err, "session store", "Could not create a session for this message."))
			})
			o.recordFailed(ctx, "generate", models.ErrCodeSessionCreateFailed, started)
			return nil
		}
		sessionID = id
		now := o.now()
		o.mu.Lock()
		o.session = &models.Session{
			ID:        id,
			Title:     title,
			OwnerID:   o.ownerID,
			CreatedAt: now,
			UpdatedAt: now,
			Messages:  []models.Message{},
			Artifacts: []models.Artifact{},
		}
		o.selection = Selection{Target: o.selection.Target}
		o.sessionsRev++
		o.mu.Unlock()
	}

	_, genErr := o.generator.Generate(ctx, GenerateRequest{
		SessionID: sessionID,
		Prompt:    text,
		Image:     image,
		ImageName: imageName,
		Target:    targetKind,
		OwnerID:   o.ownerID,
	})
	if genErr != nil {
		log.Printf("Generate failed for session %s: %v", sessionID, genErr)
		o.finish(token, func() {
			o.setErrorLocked(models.ContextGenerate, models.ErrCodeGenerationFailed,
				failureMessage(genErr, "generation", "Component generation failed. Try again."))
		})
		o.recordFailed(ctx, "generate", models.ErrCodeGenerationFailed, started)
		return nil
	}

	o.reloadAndFinish(ctx, token, sessionID, models.ContextGenerate)
	o.recordCompleted(ctx, "generate", started)
	return nil
}

// SelectForRefinement marks an artifact as the refinement target. Pure
// selection change, permitted at any time.
func (o *Orchestrator) SelectForRefinement(artifactID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	art := o.findArtifactLocked(artifactID)
	if art == nil {
		return ErrUnknownArtifact
	}
	if !o.registry.Has(art.Target, target.CapabilityRefine) {
		return ErrCapabilityUnavailable
	}
	o.selection.RefineArtifactID = artifactID
	o.publishLocked()
	return nil
}

// ClearRefinementTarget unmarks the refinement target, if any.
func (o *Orchestrator) ClearRefinementTarget() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.selection.RefineArtifactID = ""
	o.publishLocked()
}

// RefineArtifact asks the generation collaborator to regenerate the marked
// artifact's bundle from the instruction. On success the session is
// reloaded (the refined artifact's bundle is replaced wholesale) and the
// refinement mark is cleared; on failure the mark is preserved so the user
// can retry.
func (o *Orchestrator) RefineArtifact(ctx context.Context, artifactID, instruction string) error {
	if strings.TrimSpace(instruction) == "" {
		return fmt.Errorf("%w: refinement instruction required", ErrInvalidInput)
	}

	o.mu.Lock()
	if o.selection.RefineArtifactID == "" || o.selection.RefineArtifactID != artifactID {
		o.mu.Unlock()
		return fmt.Errorf("%w: artifact %s is not marked for refinement", ErrInvalidInput, artifactID)
	}
	if o.findArtifactLocked(artifactID) == nil {
		o.mu.Unlock()
		return ErrUnknownArtifact
	}
	sessionID := o.session.ID
	o.mu.Unlock()

	token, err := o.begin(ctx, models.PendingRefining, "Refining component...")
	if err != nil {
		return err
	}
	started := o.now()
	o.recordStarted(ctx, "refine")

	_, refErr := o.generator.Refine(ctx, RefineRequest{
		SessionID:   sessionID,
		ArtifactID:  artifactID,
		Instruction: instruction,
		OwnerID:     o.ownerID,
	})
	if refErr != nil {
		log.Printf("Refine failed for artifact %s: %v", artifactID, refErr)
		o.finish(token, func() {
			o.setErrorLocked(models.ContextRefine, models.ErrCodeRefinementFailed,
				failureMessage(refErr, "refinement", "Refinement failed. Try again."))
		})
		o.recordFailed(ctx, "refine", models.ErrCodeRefinementFailed, started)
		return nil
	}

	o.reloadAndFinish(ctx, token, sessionID, models.ContextRefine)
	o.recordCompleted(ctx, "refine", started)
	return nil
}

// BuildAndDeploy submits the artifact's bundle to the build collaborator.
// Valid only while the active target's profile declares the build
// capability. Success surfaces a short-lived notice; failure surfaces a
// BuildFailed notice whose message follows a fixed precedence:
// connection refused, then 5xx, then 404, then the collaborator's own
// message, then a generic fallback.
func (o *Orchestrator) BuildAndDeploy(ctx context.Context, artifactID string) error {
	o.mu.Lock()
	art := o.findArtifactLocked(artifactID)
	if art == nil {
		o.mu.Unlock()
		return ErrUnknownArtifact
	}
	if !o.registry.Has(o.selection.Target, target.CapabilityBuild) {
		o.mu.Unlock()
		return ErrCapabilityUnavailable
	}
	autoInstall := o.registry.Has(art.Target, target.CapabilityAutoInstall)
	req := BuildRequest{ArtifactName: art.Name, Bundle: art.Bundle.Clone(), AutoInstall: autoInstall, OwnerID: o.ownerID}
	o.mu.Unlock()

	token, err := o.begin(ctx, models.PendingBuilding, "Building and deploying package, this can take a few minutes...")
	if err != nil {
		return err
	}
	started := o.now()
	o.recordStarted(ctx, "build")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.cancelPending = cancel
	o.mu.Unlock()

	_, buildErr := o.builder.Build(ctx, req)
	if buildErr != nil {
		log.Printf("Build failed for artifact %s: %v", artifactID, buildErr)
		// A stale token means the user cancelled; an abandoned build is
		// not a build failure.
		if o.finish(token, func() {
			o.setErrorLocked(models.ContextBuild, models.ErrCodeBuildFailed,
				failureMessage(buildErr, "build", "Build failed. Try again."))
		}) {
			o.recordFailed(ctx, "build", models.ErrCodeBuildFailed, started)
		}
		return nil
	}

	expires := o.now().Add(o.notices.BuildSuccessWindow)
	if o.finish(token, func() {
		o.okNotice = &models.Notice{
			Kind:      models.NoticeSuccess,
			Context:   models.ContextBuild,
			Message:   fmt.Sprintf("%s built and deployed successfully.", req.ArtifactName),
			ExpiresAt: &expires,
		}
	}) {
		o.recordCompleted(ctx, "build", started)
	}
	return nil
}

// PushToGit commits the artifact's files through the git collaborator.
// Valid only while the active target's profile declares the gitPush
// capability. The success notice stays visible longer than the build one.
func (o *Orchestrator) PushToGit(ctx context.Context, artifactID string) error {
	o.mu.Lock()
	art := o.findArtifactLocked(artifactID)
	if art == nil {
		o.mu.Unlock()
		return ErrUnknownArtifact
	}
	if !o.registry.Has(o.selection.Target, target.CapabilityGitPush) {
		o.mu.Unlock()
		return ErrCapabilityUnavailable
	}
	sessionID := o.session.ID
	req := GitPushRequest{
		BlockName: art.Name,
		Files:     art.Bundle.Clone(),
		SessionID: sessionID,
		OwnerID:   o.ownerID,
	}
	o.mu.Unlock()

	token, err := o.begin(ctx, models.PendingPushingToGit, "Pushing block to git...")
	if err != nil {
		return err
	}
	started := o.now()
	o.recordStarted(ctx, "git_push")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.cancelPending = cancel
	o.mu.Unlock()

	result, pushErr := o.gitPusher.Push(ctx, req)
	if pushErr != nil {
		log.Printf("Git push failed for artifact %s: %v", artifactID, pushErr)
		if o.finish(token, func() {
			o.setErrorLocked(models.ContextGitPush, models.ErrCodeGitPushFailed,
				failureMessage(pushErr, "git push", "Git push failed. Try again."))
		}) {
			o.recordFailed(ctx, "git_push", models.ErrCodeGitPushFailed, started)
		}
		return nil
	}

	message := fmt.Sprintf("%s pushed to git successfully.", req.BlockName)
	if result.PRURL != "" {
		message = fmt.Sprintf("%s pushed to git, pull request: %s", req.BlockName, result.PRURL)
	}
	expires := o.now().Add(o.notices.GitPushSuccessWindow)
	if o.finish(token, func() {
		o.okNotice = &models.Notice{
			Kind:      models.NoticeSuccess,
			Context:   models.ContextGitPush,
			Message:   message,
			ExpiresAt: &expires,
		}
	}) {
		o.recordCompleted(ctx, "git_push", started)
	}
	return nil
}

// DeleteSession removes a session from the store. When the deleted session
// is current the orchestrator resets to the empty state.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session id required", ErrInvalidInput)
	}
	token, err := o.begin(ctx, models.PendingDeletingSession, "Deleting session...")
	if err != nil {
		return err
	}
	started := o.now()
	o.recordStarted(ctx, "delete_session")

	if delErr := o.store.DeleteSession(ctx, sessionID); delErr != nil {
		log.Printf("Session delete failed for %s: %v", sessionID, delErr)
		o.finish(token, func() {
			o.setErrorLocked(models.ContextSession, models.ErrCodeInternalError,
				failureMessage(delErr, "session store", "Could not delete the session."))
		})
		o.recordFailed(ctx, "delete_session", models.ErrCodeInternalError, started)
		return fmt.Errorf("delete session %s: %w", sessionID, delErr)
	}

	o.finish(token, func() {
		o.sessionsRev++
		if o.session != nil && o.session.ID == sessionID {
			o.session = nil
			o.selection = Selection{Target: o.registry.Default()}
		}
	})
	o.recordCompleted(ctx, "delete_session", started)
	return nil
}

// Cancel is the best-effort cancel hook for a pending build or push: it
// cancels the in-flight request context and resets the pending state. The
// remote operation may still run to completion out of band.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending != models.PendingBuilding && o.pending != models.PendingPushingToGit {
		return false
	}
	if o.cancelPending != nil {
		o.cancelPending()
		o.cancelPending = nil
	}
	// A new token makes the cancelled operation's eventual finish a no-op.
	o.opSeq++
	o.pending = models.PendingNone
	o.pendingHint = ""
	o.publishLocked()
	return true
}

// SetActiveTarget switches the active target kind. The artifact and
// section selection is cleared unless the newest artifact matches the new
// kind, in which case it is auto-selected.
func (o *Orchestrator) SetActiveTarget(kind models.TargetKind) error {
	profile, err := o.registry.Lookup(kind)
	if err != nil {
		return fmt.Errorf("%w: unknown target kind %q", ErrInvalidInput, kind)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.selection.Target = kind
	if latest := o.latestArtifactLocked(); latest != nil && latest.Target == kind {
		o.selection.ArtifactID = latest.ID
		o.selection.Section = profile.DefaultSection
	} else {
		o.selection.ArtifactID = ""
		o.selection.Section = ""
	}
	o.publishLocked()
	return nil
}

// SetActiveArtifact focuses an artifact from the current session. The
// active target follows the artifact's kind and the section resets to that
// profile's default.
func (o *Orchestrator) SetActiveArtifact(artifactID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	art := o.findArtifactLocked(artifactID)
	if art == nil {
		return ErrUnknownArtifact
	}
	profile, err := o.registry.Lookup(art.Target)
	if err != nil {
		return fmt.Errorf("%w: artifact %s has unknown target kind %q", ErrInvalidInput, artifactID, art.Target)
	}
	o.selection.Target = art.Target
	o.selection.ArtifactID = art.ID
	o.selection.Section = profile.DefaultSection
	o.publishLocked()
	return nil
}

// SetActiveSection focuses a code section of the active artifact. Rejected
// when no artifact is active or the name is not in the active target
// profile's section set; state is unchanged on rejection.
func (o *Orchestrator) SetActiveSection(name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.selection.ArtifactID == "" {
		return fmt.Errorf("%w: no active artifact", ErrInvalidInput)
	}
	art := o.findArtifactLocked(o.selection.ArtifactID)
	if art == nil {
		return ErrUnknownArtifact
	}
	profile, err := o.registry.Lookup(art.Target)
	if err != nil {
		return fmt.Errorf("%w: unknown target kind %q", ErrInvalidInput, art.Target)
	}
	if !profile.ValidSection(name) {
		return fmt.Errorf("%w: %q is not a section of target %q", ErrInvalidInput, name, art.Target)
	}
	if o.selection.Section == name {
		return nil
	}
	o.selection.Section = name
	o.publishLocked()
	return nil
}

// Artifact returns a copy of the named artifact from the current session.
func (o *Orchestrator) Artifact(artifactID string) (models.Artifact, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	art := o.findArtifactLocked(artifactID)
	if art == nil {
		return models.Artifact{}, ErrUnknownArtifact
	}
	return art.Clone(), nil
}

// Snapshot returns a deep-copied view of the current state. Expired
// success notices are pruned at observation time.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pruneNoticesLocked()
	return o.snapshotLocked()
}

// Subscribe registers a snapshot stream. The current state is delivered
// immediately, then one snapshot per state transition. Slow consumers miss
// intermediate snapshots rather than blocking the orchestrator. The
// returned func unsubscribes and closes the channel.
func (o *Orchestrator) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)
	o.mu.Lock()
	o.subs[ch] = struct{}{}
	ch <- o.snapshotLocked()
	o.mu.Unlock()

	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if _, ok := o.subs[ch]; ok {
			delete(o.subs, ch)
			close(ch)
		}
	}
}

// begin claims the pending-operation slot. A second operation arriving
// while one is pending is refused, never queued. Claiming the slot clears
// both notices.
func (o *Orchestrator) begin(ctx context.Context, op models.PendingOperation, hint string) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending != models.PendingNone {
		if o.metrics != nil {
			o.metrics.RecordOperationRejected(ctx, string(op), string(o.pending))
		}
		return 0, &OperationPendingError{Current: o.pending}
	}
	o.opSeq++
	o.pending = op
	o.pendingHint = hint
	o.errNotice = nil
	o.okNotice = nil
	o.publishLocked()
	return o.opSeq, nil
}

// finish releases the pending slot and applies the operation's transition
// atomically. A stale token (the operation was cancelled meanwhile) makes
// the whole call a no-op so a late result cannot clobber newer state.
func (o *Orchestrator) finish(token uint64, apply func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if token != o.opSeq || o.pending == models.PendingNone {
		return false
	}
	o.pending = models.PendingNone
	o.pendingHint = ""
	o.cancelPending = nil
	if apply != nil {
		apply()
	}
	o.publishLocked()
	return true
}

// reloadAndFinish fetches the session's latest serialization and applies
// it as the operation's closing transition, running the auto-select rule.
func (o *Orchestrator) reloadAndFinish(ctx context.Context, token uint64, sessionID string, opCtx models.OperationContext) {
	o.store.Invalidate(sessionID)
	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("Session reload failed after %s for %s: %v", opCtx, sessionID, err)
		o.finish(token, func() {
			o.setErrorLocked(models.ContextSession, models.ErrCodeInternalError,
				"The result was saved but the session could not be reloaded. Select the session again.")
			o.sessionsRev++
		})
		return
	}
	o.finish(token, func() {
		o.applySessionLocked(sess)
		o.sessionsRev++
	})
}

// applySessionLocked replaces both histories atomically and re-evaluates
// selection with the auto-select rule. The refinement mark never survives
// a history replacement.
func (o *Orchestrator) applySessionLocked(sess *models.Session) {
	o.session = cloneSession(sess)
	o.selection.RefineArtifactID = ""
	o.autoSelectLocked()
}

// autoSelectLocked focuses the most recently appended artifact: the active
// target follows its kind and the section resets to the profile default.
// The user always ends up looking at the result of the action they just
// triggered, even if they switched targets mid-flight.
func (o *Orchestrator) autoSelectLocked() {
	latest := o.latestArtifactLocked()
	if latest == nil {
		o.selection.ArtifactID = ""
		o.selection.Section = ""
		if !o.registry.Known(o.selection.Target) {
			o.selection.Target = o.registry.Default()
		}
		return
	}
	profile, err := o.registry.Lookup(latest.Target)
	if err != nil {
		o.selection.ArtifactID = ""
		o.selection.Section = ""
		return
	}
	o.selection.Target = latest.Target
	o.selection.ArtifactID = latest.ID
	o.selection.Section = profile.DefaultSection
}

func (o *Orchestrator) latestArtifactLocked() *models.Artifact {
	if o.session == nil || len(o.session.Artifacts) == 0 {
		return nil
	}
	return &o.session.Artifacts[len(o.session.Artifacts)-1]
}

func (o *Orchestrator) findArtifactLocked(artifactID string) *models.Artifact {
	if o.session == nil || artifactID == "" {
		return nil
	}
	for i := range o.session.Artifacts {
		if o.session.Artifacts[i].ID == artifactID {
			return &o.session.Artifacts[i]
		}
	}
	return nil
}

func (o *Orchestrator) setErrorLocked(opCtx models.OperationContext, code, message string) {
	o.errNotice = &models.Notice{
		Kind:    models.NoticeError,
		Code:    code,
		Context: opCtx,
		Message: message,
	}
}

func (o *Orchestrator) pruneNoticesLocked() {
	if o.okNotice != nil && o.okNotice.ExpiresAt != nil && o.now().After(*o.okNotice.ExpiresAt) {
		o.okNotice = nil
	}
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	return Snapshot{
		Session:          cloneSession(o.session),
		Selection:        o.selection,
		Pending:          o.pending,
		PendingHint:      o.pendingHint,
		ErrorNotice:      cloneNotice(o.errNotice),
		SuccessNotice:    cloneNotice(o.okNotice),
		SessionsRevision: o.sessionsRev,
		ObservedAt:       o.now(),
	}
}

func (o *Orchestrator) publishLocked() {
	o.pruneNoticesLocked()
	snap := o.snapshotLocked()
	for ch := range o.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (o *Orchestrator) recordStarted(ctx context.Context, op string) {
	if o.metrics != nil {
		o.metrics.RecordOperationStarted(ctx, op, o.ownerID)
	}
}

func (o *Orchestrator) recordCompleted(ctx context.Context, op string, started time.Time) {
	if o.metrics != nil {
		o.metrics.RecordOperationCompleted(ctx, op, o.ownerID, o.now().Sub(started))
	}
}

func (o *Orchestrator) recordFailed(ctx context.Context, op, code string, started time.Time) {
	if o.metrics != nil {
		o.metrics.RecordOperationFailed(ctx, op, o.ownerID, code, o.now().Sub(started))
	}
}

// deriveTitle builds a session title from the first prompt.
func deriveTitle(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "New component"
	}
	runes := []rune(prompt)
	if len(runes) <= sessionTitleLimit {
		return prompt
	}
	return string(runes[:sessionTitleLimit]) + "..."
}

// failureMessage derives the user-facing message for a collaborator
// failure. Precedence: connection refused, then 5xx, then 404, then the
// collaborator's own message, then the generic fallback.
func failureMessage(err error, service, generic string) string {
	var collab *CollabError
	if errors.As(err, &collab) {
		switch {
		case collab.ConnectionRefused():
			return fmt.Sprintf("The %s service is unreachable. Check that it is running and try again.", service)
		case collab.StatusCode >= http.StatusInternalServerError:
			return fmt.Sprintf("The %s service reported an internal error. Try again shortly.", service)
		case collab.StatusCode == http.StatusNotFound:
			return fmt.Sprintf("The %s endpoint was not found. Check the service configuration.", service)
		case collab.RemoteMessage != "":
			return collab.RemoteMessage
		}
	}
	return generic
}
