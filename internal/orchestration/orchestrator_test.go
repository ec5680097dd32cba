package orchestration

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftwell/dxp-studio/session-orchestrator/internal/config"
	"github.com/craftwell/dxp-studio/session-orchestrator/internal/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeStore struct {
	mu        sync.Mutex
	sessions  map[string]*models.Session
	nextID    int
	createErr error
	getErr    error
	deleteErr error

	// Set before concurrent use; called on entry, outside the store lock.
	getHook    func(sessionID string)
	deleteHook func(sessionID string)
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*models.Session)}
}

func (s *fakeStore) ListSessions(ctx context.Context, ownerID, search string) ([]models.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SessionSummary
	for _, sess := range s.sessions {
		if sess.OwnerID == ownerID {
			out = append(out, models.SessionSummary{
				ID:            sess.ID,
				Title:         sess.Title,
				MessageCount:  len(sess.Messages),
				ArtifactCount: len(sess.Artifacts),
				UpdatedAt:     sess.UpdatedAt,
			})
		}
	}
	return out, nil
}

func (s *fakeStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	if s.getHook != nil {
		s.getHook(sessionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(sess), nil
}

func (s *fakeStore) CreateSession(ctx context.Context, title, ownerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return "", s.createErr
	}
	s.nextID++
	id := fmt.Sprintf("sess-%d", s.nextID)
	s.sessions[id] = &models.Session{ID: id, Title: title, OwnerID: ownerID}
	return id, nil
}

func (s *fakeStore) DeleteSession(ctx context.Context, sessionID string) error {
	if s.deleteHook != nil {
		s.deleteHook(sessionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *fakeStore) Invalidate(sessionID string) {}

func (s *fakeStore) seed(sess *models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

// fakeGenerator behaves like the remote generation backend: each call
// appends the assistant message and the produced artifact to the stored
// session, so the subsequent reload observes them.
type fakeGenerator struct {
	mu            sync.Mutex
	store         *fakeStore
	genErr        error
	refineErr     error
	produceTarget models.TargetKind
	produceBundle models.CodeBundle
	refineBundle  models.CodeBundle
	artifactSeq   int
}

func (g *fakeGenerator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.genErr != nil {
		return nil, g.genErr
	}
	g.artifactSeq++
	id := fmt.Sprintf("art-%d", g.artifactSeq)

	g.store.mu.Lock()
	sess := g.store.sessions[req.SessionID]
	sess.Messages = append(sess.Messages, models.Message{
		ID:   fmt.Sprintf("msg-%d", g.artifactSeq),
		Role: models.RoleAssistant,
		Text: "Here is your component.",
	})
	sess.Artifacts = append(sess.Artifacts, models.Artifact{
		ID:     id,
		Name:   "component-" + id,
		Target: g.produceTarget,
		Bundle: g.produceBundle.Clone(),
	})
	g.store.mu.Unlock()

	return &GenerateResult{Success: true, ArtifactID: id}, nil
}

func (g *fakeGenerator) Refine(ctx context.Context, req RefineRequest) (*GenerateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refineErr != nil {
		return nil, g.refineErr
	}

	g.store.mu.Lock()
	sess := g.store.sessions[req.SessionID]
	for i := range sess.Artifacts {
		if sess.Artifacts[i].ID == req.ArtifactID {
			sess.Artifacts[i].Bundle = g.refineBundle.Clone()
		}
	}
	g.store.mu.Unlock()

	return &GenerateResult{Success: true, ArtifactID: req.ArtifactID}, nil
}

type fakeBuilder struct {
	mu      sync.Mutex
	err     error
	block   chan struct{}
	calls   int
	lastReq BuildRequest
}

func (b *fakeBuilder) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	b.mu.Lock()
	b.calls++
	b.lastReq = req
	block := b.block
	err := b.err
	b.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &CollabError{Service: "builder", Err: ctx.Err()}
		}
	}
	if err != nil {
		return nil, err
	}
	return &BuildResult{Success: true, Installed: req.AutoInstall}, nil
}

type fakePusher struct {
	mu      sync.Mutex
	err     error
	result  GitPushResult
	lastReq GitPushRequest
}

func (p *fakePusher) Push(ctx context.Context, req GitPushRequest) (*GitPushResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastReq = req
	if p.err != nil {
		return nil, p.err
	}
	result := p.result
	result.Success = true
	return &result, nil
}

// fakeRecorder counts operation lifecycle events per operation name.
type fakeRecorder struct {
	mu        sync.Mutex
	started   map[string]int
	completed map[string]int
	failed    map[string]int
	rejected  map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		started:   make(map[string]int),
		completed: make(map[string]int),
		failed:    make(map[string]int),
		rejected:  make(map[string]int),
	}
}

func (r *fakeRecorder) RecordOperationStarted(ctx context.Context, operation, ownerID string) {
	r.bump(r.started, operation)
}

func (r *fakeRecorder) RecordOperationCompleted(ctx context.Context, operation, ownerID string, duration time.Duration) {
	r.bump(r.completed, operation)
}

func (r *fakeRecorder) RecordOperationFailed(ctx context.Context, operation, ownerID, errorCode string, duration time.Duration) {
	r.bump(r.failed, operation)
}

func (r *fakeRecorder) RecordOperationRejected(ctx context.Context, operation, pending string) {
	r.bump(r.rejected, operation)
}

func (r *fakeRecorder) bump(m map[string]int, operation string) {
	r.mu.Lock()
	m[operation]++
	r.mu.Unlock()
}

func (r *fakeRecorder) count(m map[string]int, operation string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return m[operation]
}

type fixture struct {
	orch     *Orchestrator
	store    *fakeStore
	gen      *fakeGenerator
	builder  *fakeBuilder
	pusher   *fakePusher
	clock    *fakeClock
	recorder *fakeRecorder
}

func newFixture() *fixture {
	store := newFakeStore()
	gen := &fakeGenerator{
		store:         store,
		produceTarget: models.TargetCMS,
		produceBundle: models.CodeBundle{
			"HTML":        "<div data-sly-use.model=\"card\"></div>",
			"Sling Model": "public class CardModel {}",
			"Dialog":      "<jcr:root/>",
		},
	}
	builder := &fakeBuilder{}
	pusher := &fakePusher{}
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	recorder := newFakeRecorder()

	orch := New("owner-1", Deps{
		Store:     store,
		Generator: gen,
		Builder:   builder,
		GitPusher: pusher,
		Notices: config.NoticeConfig{
			BuildSuccessWindow:   5 * time.Second,
			GitPushSuccessWindow: 10 * time.Second,
		},
		Metrics: recorder,
		Now:     clock.Now,
	})
	return &fixture{orch: orch, store: store, gen: gen, builder: builder, pusher: pusher, clock: clock, recorder: recorder}
}

// seedSession stores a session with the given artifacts and selects it.
func (f *fixture) seedSession(t *testing.T, artifacts ...models.Artifact) string {
	t.Helper()
	f.store.seed(&models.Session{
		ID:        "sess-seeded",
		Title:     "seeded",
		OwnerID:   "owner-1",
		Artifacts: artifacts,
	})
	require.NoError(t, f.orch.SelectSession(context.Background(), "sess-seeded"))
	return "sess-seeded"
}

func cmsArtifact(id string) models.Artifact {
	return models.Artifact{
		ID:     id,
		Name:   "component-" + id,
		Target: models.TargetCMS,
		Bundle: models.CodeBundle{"HTML": "<div/>", "Sling Model": "class", "Dialog": "<xml/>"},
	}
}

func blockArtifact(id string) models.Artifact {
	return models.Artifact{
		ID:     id,
		Name:   "block-" + id,
		Target: models.TargetStaticBlock,
		Bundle: models.CodeBundle{"css": ".block {}", "js": "export default {}", "mkd_table": "| Block |"},
	}
}

func TestOrchestrator_SendMessage_FirstMessageCreatesSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	err := f.orch.SendMessage(ctx, "make a card component", nil, "")
	require.NoError(t, err)

	snap := f.orch.Snapshot()
	require.NotNil(t, snap.Session)
	assert.Equal(t, "make a card component", snap.Session.Title)
	assert.Len(t, snap.Session.Messages, 1)
	assert.Equal(t, models.RoleAssistant, snap.Session.Messages[0].Role)
	require.Len(t, snap.Session.Artifacts, 1)

	// Newest artifact is auto-selected with the profile's default section.
	art := snap.Session.Artifacts[0]
	assert.Equal(t, art.ID, snap.Selection.ArtifactID)
	assert.Equal(t, models.TargetCMS, snap.Selection.Target)
	assert.Equal(t, "HTML", snap.Selection.Section)
	assert.Equal(t, models.PendingNone, snap.Pending)
	assert.Nil(t, snap.ErrorNotice)
}

func TestOrchestrator_SendMessage_DerivedTitleTruncated(t *testing.T) {
	f := newFixture()
	long := "make a hero banner component with a configurable call to action button and image"

	require.NoError(t, f.orch.SendMessage(context.Background(), long, nil, ""))

	snap := f.orch.Snapshot()
	require.NotNil(t, snap.Session)
	assert.Equal(t, string([]rune(long)[:50])+"...", snap.Session.Title)
}

func TestOrchestrator_SendMessage_ValidatesInput(t *testing.T) {
	f := newFixture()

	err := f.orch.SendMessage(context.Background(), "   ", nil, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Nil(t, f.orch.Snapshot().Session)
}

func TestOrchestrator_SendMessage_GenerationFailure(t *testing.T) {
	f := newFixture()
	f.seedSession(t, cmsArtifact("art-old"))
	f.gen.genErr = &CollabError{Service: "generator", RemoteMessage: "model overloaded"}

	require.NoError(t, f.orch.SendMessage(context.Background(), "another one", nil, ""))

	snap := f.orch.Snapshot()
	require.NotNil(t, snap.ErrorNotice)
	assert.Equal(t, models.ContextGenerate, snap.ErrorNotice.Context)
	assert.Equal(t, models.ErrCodeGenerationFailed, snap.ErrorNotice.Code)
	assert.Equal(t, "model overloaded", snap.ErrorNotice.Message)
	// History is left intact.
	assert.Len(t, snap.Session.Artifacts, 1)
	assert.Equal(t, models.PendingNone, snap.Pending)
}

func TestOrchestrator_SendMessage_SessionCreateFailure(t *testing.T) {
	f := newFixture()
	f.store.createErr = &CollabError{Service: "session-store", StatusCode: 503}

	require.NoError(t, f.orch.SendMessage(context.Background(), "make a card", nil, ""))

	snap := f.orch.Snapshot()
	require.NotNil(t, snap.ErrorNotice)
	assert.Equal(t, models.ContextSession, snap.ErrorNotice.Context)
	assert.Equal(t, models.ErrCodeSessionCreateFailed, snap.ErrorNotice.Code)
	assert.Nil(t, snap.Session)
}

func TestOrchestrator_SetActiveTarget(t *testing.T) {
	tests := []struct {
		name             string
		artifacts        []models.Artifact
		switchTo         models.TargetKind
		expectArtifactID string
		expectSection    string
	}{
		{
			name:             "latest_artifact_not_matching_clears_selection",
			artifacts:        []models.Artifact{cmsArtifact("a1")},
			switchTo:         models.TargetStaticBlock,
			expectArtifactID: "",
			expectSection:    "",
		},
		{
			name:             "latest_artifact_matching_is_auto_selected",
			artifacts:        []models.Artifact{cmsArtifact("a1"), blockArtifact("b1")},
			switchTo:         models.TargetStaticBlock,
			expectArtifactID: "b1",
			expectSection:    "css",
		},
		{
			name:             "switch_back_to_older_artifact_kind_clears",
			artifacts:        []models.Artifact{cmsArtifact("a1"), blockArtifact("b1")},
			switchTo:         models.TargetCMS,
			expectArtifactID: "",
			expectSection:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.seedSession(t, tt.artifacts...)

			require.NoError(t, f.orch.SetActiveTarget(tt.switchTo))

			snap := f.orch.Snapshot()
			assert.Equal(t, tt.switchTo, snap.Selection.Target)
			assert.Equal(t, tt.expectArtifactID, snap.Selection.ArtifactID)
			assert.Equal(t, tt.expectSection, snap.Selection.Section)
		})
	}
}

func TestOrchestrator_SetActiveTarget_UnknownKind(t *testing.T) {
	f := newFixture()
	assert.ErrorIs(t, f.orch.SetActiveTarget("mobile-app"), ErrInvalidInput)
}

func TestOrchestrator_SetActiveSection(t *testing.T) {
	f := newFixture()
	f.seedSession(t, cmsArtifact("a1"))

	// Invalid name leaves state unchanged.
	err := f.orch.SetActiveSection("css")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, "HTML", f.orch.Snapshot().Selection.Section)

	// Valid name, and setting it twice is the same as once.
	require.NoError(t, f.orch.SetActiveSection("Dialog"))
	first := f.orch.Snapshot()
	require.NoError(t, f.orch.SetActiveSection("Dialog"))
	second := f.orch.Snapshot()
	assert.Equal(t, first.Selection, second.Selection)
	assert.Equal(t, "Dialog", second.Selection.Section)
}

func TestOrchestrator_SetActiveArtifact_FollowsArtifactKind(t *testing.T) {
	f := newFixture()
	f.seedSession(t, cmsArtifact("a1"), blockArtifact("b1"))

	require.NoError(t, f.orch.SetActiveArtifact("a1"))

	snap := f.orch.Snapshot()
	assert.Equal(t, models.TargetCMS, snap.Selection.Target)
	assert.Equal(t, "a1", snap.Selection.ArtifactID)
	assert.Equal(t, "HTML", snap.Selection.Section)

	assert.ErrorIs(t, f.orch.SetActiveArtifact("missing"), ErrUnknownArtifact)
}

func TestOrchestrator_PendingOperationRejectsSecondStart(t *testing.T) {
	f := newFixture()
	f.seedSession(t, cmsArtifact("a1"))
	f.builder.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- f.orch.BuildAndDeploy(context.Background(), "a1")
	}()

	require.Eventually(t, func() bool {
		return f.orch.Snapshot().Pending == models.PendingBuilding
	}, time.Second, 5*time.Millisecond)

	// A refinement arriving mid-build is refused, never queued.
	require.NoError(t, f.orch.SelectForRefinement("a1"))
	err := f.orch.RefineArtifact(context.Background(), "a1", "make it blue")
	var pendingErr *OperationPendingError
	require.ErrorAs(t, err, &pendingErr)
	assert.Equal(t, models.PendingBuilding, pendingErr.Current)

	snap := f.orch.Snapshot()
	assert.Equal(t, models.PendingBuilding, snap.Pending)
	assert.Len(t, snap.Session.Artifacts, 1)

	// The first operation's result path is unaffected.
	close(f.builder.block)
	require.NoError(t, <-done)
	snap = f.orch.Snapshot()
	assert.Equal(t, models.PendingNone, snap.Pending)
	require.NotNil(t, snap.SuccessNotice)
	assert.Equal(t, models.ContextBuild, snap.SuccessNotice.Context)
}

func TestOrchestrator_BuildFailureMessagePrecedence(t *testing.T) {
	tests := []struct {
		name        string
		buildErr    error
		wantMessage string
	}{
		{
			name:        "connection_refused_beats_everything",
			buildErr:    &CollabError{Service: "builder", StatusCode: 500, RemoteMessage: "boom", Err: syscall.ECONNREFUSED},
			wantMessage: "The build service is unreachable. Check that it is running and try again.",
		},
		{
			name:        "server_error_beats_payload_message",
			buildErr:    &CollabError{Service: "builder", StatusCode: 502, RemoteMessage: "bad gateway"},
			wantMessage: "The build service reported an internal error. Try again shortly.",
		},
		{
			name:        "not_found",
			buildErr:    &CollabError{Service: "builder", StatusCode: 404},
			wantMessage: "The build endpoint was not found. Check the service configuration.",
		},
		{
			name:        "collaborator_message",
			buildErr:    &CollabError{Service: "builder", StatusCode: 422, RemoteMessage: "maven profile missing"},
			wantMessage: "maven profile missing",
		},
		{
			name:        "generic_fallback",
			buildErr:    fmt.Errorf("something odd"),
			wantMessage: "Build failed. Try again.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.seedSession(t, cmsArtifact("a1"))
			f.builder.err = tt.buildErr

			require.NoError(t, f.orch.BuildAndDeploy(context.Background(), "a1"))

			snap := f.orch.Snapshot()
			require.NotNil(t, snap.ErrorNotice)
			assert.Equal(t, models.ErrCodeBuildFailed, snap.ErrorNotice.Code)
			assert.Equal(t, models.ContextBuild, snap.ErrorNotice.Context)
			assert.Equal(t, tt.wantMessage, snap.ErrorNotice.Message)
		})
	}
}

func TestOrchestrator_BuildRequiresCapability(t *testing.T) {
	f := newFixture()
	f.seedSession(t, blockArtifact("b1"))

	// Auto-select put us on static-block, which cannot build.
	assert.ErrorIs(t, f.orch.BuildAndDeploy(context.Background(), "b1"), ErrCapabilityUnavailable)

	// And cms cannot push to git.
	f2 := newFixture()
	f2.seedSession(t, cmsArtifact("a1"))
	assert.ErrorIs(t, f2.orch.PushToGit(context.Background(), "a1"), ErrCapabilityUnavailable)
}

func TestOrchestrator_BuildCarriesAutoInstall(t *testing.T) {
	f := newFixture()
	f.seedSession(t, cmsArtifact("a1"))

	require.NoError(t, f.orch.BuildAndDeploy(context.Background(), "a1"))

	assert.True(t, f.builder.lastReq.AutoInstall)
	assert.Equal(t, "component-a1", f.builder.lastReq.ArtifactName)
}

func TestOrchestrator_RefineReplacesBundleWholesale(t *testing.T) {
	f := newFixture()
	f.seedSession(t, cmsArtifact("a1"))
	// The refined bundle drops the Dialog section entirely.
	f.gen.refineBundle = models.CodeBundle{"HTML": "<section/>", "Sling Model": "public class V2 {}"}

	require.NoError(t, f.orch.SelectForRefinement("a1"))
	require.NoError(t, f.orch.RefineArtifact(context.Background(), "a1", "make it a section"))

	snap := f.orch.Snapshot()
	require.Len(t, snap.Session.Artifacts, 1)
	bundle := snap.Session.Artifacts[0].Bundle
	assert.Equal(t, "<section/>", bundle["HTML"])
	_, hasDialog := bundle["Dialog"]
	assert.False(t, hasDialog, "old sections must not survive a refine")

	// The refinement mark is cleared on success.
	assert.Empty(t, snap.Selection.RefineArtifactID)
	assert.Equal(t, "a1", snap.Selection.ArtifactID)
}

func TestOrchestrator_RefineFailurePreservesMark(t *testing.T) {
	f := newFixture()
	f.seedSession(t, cmsArtifact("a1"))
	f.gen.refineErr = &CollabError{Service: "generator", RemoteMessage: "cannot refine"}

	require.NoError(t, f.orch.SelectForRefinement("a1"))
	require.NoError(t, f.orch.RefineArtifact(context.Background(), "a1", "make it blue"))

	snap := f.orch.Snapshot()
	require.NotNil(t, snap.ErrorNotice)
	assert.Equal(t, models.ErrCodeRefinementFailed, snap.ErrorNotice.Code)
	assert.Equal(t, models.ContextRefine, snap.ErrorNotice.Context)
	// The mark survives so the user can retry.
	assert.Equal(t, "a1", snap.Selection.RefineArtifactID)
}

func TestOrchestrator_RefineRequiresMark(t *testing.T) {
	f := newFixture()
	f.seedSession(t, cmsArtifact("a1"))

	err := f.orch.RefineArtifact(context.Background(), "a1", "make it blue")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestOrchestrator_SelectSession_FailureResetsToEmptyState(t *testing.T) {
	f := newFixture()
	f.seedSession(t, cmsArtifact("a1"))

	err := f.orch.SelectSession(context.Background(), "no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Never a mix of old artifacts with new messages: everything is gone.
	snap := f.orch.Snapshot()
	assert.Nil(t, snap.Session)
	assert.Empty(t, snap.Selection.ArtifactID)
	assert.Empty(t, snap.Selection.Section)
	require.NotNil(t, snap.ErrorNotice)
	assert.Equal(t, models.ErrCodeSessionNotFound, snap.ErrorNotice.Code)
}

func TestOrchestrator_SelectSession_HoldsOperationSlotDuringFetch(t *testing.T) {
	f := newFixture()
	f.store.seed(&models.Session{
		ID: "sess-first", Title: "first", OwnerID: "owner-1",
		Artifacts: []models.Artifact{cmsArtifact("a1")},
	})
	f.store.seed(&models.Session{
		ID: "sess-second", Title: "second", OwnerID: "owner-1",
		Artifacts: []models.Artifact{blockArtifact("b1")},
	})
	require.NoError(t, f.orch.SelectSession(context.Background(), "sess-first"))

	entered := make(chan struct{})
	release := make(chan struct{})
	f.store.getHook = func(sessionID string) {
		if sessionID == "sess-second" {
			close(entered)
			<-release
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- f.orch.SelectSession(context.Background(), "sess-second")
	}()
	<-entered

	// While the switch is still fetching, any other operation start is
	// refused, so its completion cannot interleave with the switch.
	err := f.orch.SendMessage(context.Background(), "make another card", nil, "")
	var pendingErr *OperationPendingError
	require.ErrorAs(t, err, &pendingErr)
	assert.Equal(t, models.PendingSelectingSession, pendingErr.Current)

	close(release)
	require.NoError(t, <-done)

	snap := f.orch.Snapshot()
	require.NotNil(t, snap.Session)
	assert.Equal(t, "sess-second", snap.Session.ID)
	assert.Equal(t, "b1", snap.Selection.ArtifactID)
	assert.Equal(t, models.PendingNone, snap.Pending)
}

func TestOrchestrator_DeleteSession_HoldsOperationSlotDuringDelete(t *testing.T) {
	f := newFixture()
	id := f.seedSession(t, cmsArtifact("a1"))

	entered := make(chan struct{})
	release := make(chan struct{})
	f.store.deleteHook = func(string) {
		close(entered)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		done <- f.orch.DeleteSession(context.Background(), id)
	}()
	<-entered

	err := f.orch.SendMessage(context.Background(), "make a card", nil, "")
	var pendingErr *OperationPendingError
	require.ErrorAs(t, err, &pendingErr)
	assert.Equal(t, models.PendingDeletingSession, pendingErr.Current)

	close(release)
	require.NoError(t, <-done)
	assert.Nil(t, f.orch.Snapshot().Session)
}

func TestOrchestrator_SelectSession_StoreOutageIsNotReportedAsMissing(t *testing.T) {
	f := newFixture()
	f.seedSession(t, cmsArtifact("a1"))
	f.store.getErr = &CollabError{Service: "session-store", Err: syscall.ECONNREFUSED}

	err := f.orch.SelectSession(context.Background(), "sess-seeded")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)

	snap := f.orch.Snapshot()
	require.NotNil(t, snap.ErrorNotice)
	assert.Equal(t, models.ErrCodeInternalError, snap.ErrorNotice.Code)
	assert.Equal(t, "The session store service is unreachable. Check that it is running and try again.",
		snap.ErrorNotice.Message)
}

func TestOrchestrator_SelectSession_AutoSelectsLatestArtifact(t *testing.T) {
	f := newFixture()
	f.seedSession(t, cmsArtifact("a1"), blockArtifact("b1"))

	snap := f.orch.Snapshot()
	assert.Equal(t, "b1", snap.Selection.ArtifactID)
	assert.Equal(t, models.TargetStaticBlock, snap.Selection.Target)
	assert.Equal(t, "css", snap.Selection.Section)
}

func TestOrchestrator_SuccessNoticeWindows(t *testing.T) {
	t.Run("build_notice_expires_after_five_seconds", func(t *testing.T) {
		f := newFixture()
		f.seedSession(t, cmsArtifact("a1"))

		require.NoError(t, f.orch.BuildAndDeploy(context.Background(), "a1"))
		require.NotNil(t, f.orch.Snapshot().SuccessNotice)

		f.clock.Advance(4 * time.Second)
		assert.NotNil(t, f.orch.Snapshot().SuccessNotice)

		f.clock.Advance(2 * time.Second)
		assert.Nil(t, f.orch.Snapshot().SuccessNotice)
	})

	t.Run("git_push_notice_lives_longer", func(t *testing.T) {
		f := newFixture()
		f.seedSession(t, blockArtifact("b1"))

		require.NoError(t, f.orch.PushToGit(context.Background(), "b1"))
		require.NotNil(t, f.orch.Snapshot().SuccessNotice)

		f.clock.Advance(6 * time.Second)
		assert.NotNil(t, f.orch.Snapshot().SuccessNotice, "push window outlives the build window")

		f.clock.Advance(5 * time.Second)
		assert.Nil(t, f.orch.Snapshot().SuccessNotice)
	})
}

func TestOrchestrator_PushNoticeIncludesPRURL(t *testing.T) {
	f := newFixture()
	f.seedSession(t, blockArtifact("b1"))
	f.pusher.result = GitPushResult{PRURL: "https://git.example.com/pr/42"}

	require.NoError(t, f.orch.PushToGit(context.Background(), "b1"))

	snap := f.orch.Snapshot()
	require.NotNil(t, snap.SuccessNotice)
	assert.Contains(t, snap.SuccessNotice.Message, "https://git.example.com/pr/42")
}

func TestOrchestrator_StartingOperationClearsNotices(t *testing.T) {
	f := newFixture()
	f.seedSession(t, cmsArtifact("a1"))
	f.builder.err = &CollabError{Service: "builder", StatusCode: 500}
	require.NoError(t, f.orch.BuildAndDeploy(context.Background(), "a1"))
	require.NotNil(t, f.orch.Snapshot().ErrorNotice)

	f.builder.err = nil
	require.NoError(t, f.orch.BuildAndDeploy(context.Background(), "a1"))

	snap := f.orch.Snapshot()
	assert.Nil(t, snap.ErrorNotice)
	assert.NotNil(t, snap.SuccessNotice)
}

func TestOrchestrator_CancelAbandonsPendingBuild(t *testing.T) {
	f := newFixture()
	f.seedSession(t, cmsArtifact("a1"))
	f.builder.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- f.orch.BuildAndDeploy(context.Background(), "a1")
	}()
	require.Eventually(t, func() bool {
		return f.orch.Snapshot().Pending == models.PendingBuilding
	}, time.Second, 5*time.Millisecond)

	assert.True(t, f.orch.Cancel())
	assert.Equal(t, models.PendingNone, f.orch.Snapshot().Pending)

	// The abandoned operation's late result must not surface a notice.
	require.NoError(t, <-done)
	snap := f.orch.Snapshot()
	assert.Nil(t, snap.ErrorNotice)
	assert.Nil(t, snap.SuccessNotice)

	// Cancel with nothing pending is a no-op.
	assert.False(t, f.orch.Cancel())
}

func TestOrchestrator_BuildOutcomeRecording(t *testing.T) {
	t.Run("cancelled_build_records_no_outcome", func(t *testing.T) {
		f := newFixture()
		f.seedSession(t, cmsArtifact("a1"))
		f.builder.block = make(chan struct{})

		done := make(chan error, 1)
		go func() {
			done <- f.orch.BuildAndDeploy(context.Background(), "a1")
		}()
		require.Eventually(t, func() bool {
			return f.orch.Snapshot().Pending == models.PendingBuilding
		}, time.Second, 5*time.Millisecond)

		require.True(t, f.orch.Cancel())
		require.NoError(t, <-done)

		// Abandoning a build is neither a completion nor a failure.
		assert.Equal(t, 1, f.recorder.count(f.recorder.started, "build"))
		assert.Equal(t, 0, f.recorder.count(f.recorder.failed, "build"))
		assert.Equal(t, 0, f.recorder.count(f.recorder.completed, "build"))
	})

	t.Run("failed_build_records_failure", func(t *testing.T) {
		f := newFixture()
		f.seedSession(t, cmsArtifact("a1"))
		f.builder.err = &CollabError{Service: "builder", StatusCode: 500}

		require.NoError(t, f.orch.BuildAndDeploy(context.Background(), "a1"))

		assert.Equal(t, 1, f.recorder.count(f.recorder.failed, "build"))
		assert.Equal(t, 0, f.recorder.count(f.recorder.completed, "build"))
	})
}

func TestOrchestrator_DeleteSession(t *testing.T) {
	f := newFixture()
	id := f.seedSession(t, cmsArtifact("a1"))

	require.NoError(t, f.orch.DeleteSession(context.Background(), id))

	snap := f.orch.Snapshot()
	assert.Nil(t, snap.Session)
	assert.Empty(t, snap.Selection.ArtifactID)

	err := f.orch.SelectSession(context.Background(), id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestOrchestrator_CreateSession_FailureKeepsCurrent(t *testing.T) {
	f := newFixture()
	f.seedSession(t, cmsArtifact("a1"))
	f.store.createErr = &CollabError{Service: "session-store", StatusCode: 500}

	_, err := f.orch.CreateSession(context.Background(), "fresh")
	require.Error(t, err)

	snap := f.orch.Snapshot()
	require.NotNil(t, snap.Session)
	assert.Equal(t, "sess-seeded", snap.Session.ID)
	require.NotNil(t, snap.ErrorNotice)
	assert.Equal(t, models.ErrCodeSessionCreateFailed, snap.ErrorNotice.Code)
}

func TestOrchestrator_SubscribeStreamsTransitions(t *testing.T) {
	f := newFixture()
	ch, cancel := f.orch.Subscribe()
	defer cancel()

	// Initial snapshot arrives immediately.
	initial := <-ch
	assert.Nil(t, initial.Session)

	require.NoError(t, f.orch.SendMessage(context.Background(), "make a card", nil, ""))

	var last Snapshot
	seen := false
	for {
		select {
		case snap := <-ch:
			last = snap
			seen = true
			continue
		default:
		}
		break
	}
	require.True(t, seen)
	require.NotNil(t, last.Session)
	assert.Len(t, last.Session.Artifacts, 1)
}

func TestOrchestrator_SnapshotIsDeepCopy(t *testing.T) {
	f := newFixture()
	f.seedSession(t, cmsArtifact("a1"))

	snap := f.orch.Snapshot()
	snap.Session.Artifacts[0].Bundle["HTML"] = "tampered"
	snap.Session.Title = "tampered"

	fresh := f.orch.Snapshot()
	assert.Equal(t, "<div/>", fresh.Session.Artifacts[0].Bundle["HTML"])
	assert.Equal(t, "seeded", fresh.Session.Title)
}

func TestManager_OneOrchestratorPerOwner(t *testing.T) {
	store := newFakeStore()
	m := NewManager(Deps{Store: store})

	a := m.For("owner-a")
	b := m.For("owner-b")
	assert.NotSame(t, a, b)
	assert.Same(t, a, m.For("owner-a"))

	m.Drop("owner-a")
	assert.NotSame(t, a, m.For("owner-a"))
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		want   string
	}{
		{"short_prompt_kept", "make a card", "make a card"},
		{"empty_prompt_defaults", "   ", "New component"},
		{
			"long_prompt_truncated",
			"make a hero banner component with a configurable call to action",
			"make a hero banner component with a configurable c...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveTitle(tt.prompt))
		})
	}
}
