package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/InvictusSEO/vibephp/internal/agents/core"
	"github.com/InvictusSEO/vibephp/internal/agents/diagnosis"
	"github.com/InvictusSEO/vibephp/internal/agents/patch"
	"github.com/InvictusSEO/vibephp/internal/ai"
	"github.com/InvictusSEO/vibephp/internal/config"
	"github.com/InvictusSEO/vibephp/internal/logging"
	"github.com/InvictusSEO/vibephp/internal/metrics"
	"github.com/InvictusSEO/vibephp/internal/versions"
	"github.com/InvictusSEO/vibephp/internal/workspace"
)

const greeting = "Hi! I'm VibePHP. Describe your idea, and I'll create a plan before building it."

// Status lines shown while a step runs.
const (
	msgPlanning    = "Architecting solution..."
	msgPlanReady   = "Plan ready. Confirm to start building."
	msgCoding      = "Generating files..."
	msgVerifying   = "Running diagnostics..."
	msgFixPlanning = "Analyzing the error and planning a fix..."
	msgApplying    = "Applying patches..."
	msgVerified    = "✅ App built and verified successfully."
)

// OrchestratorConfig wires an Orchestrator.
type OrchestratorConfig struct {
	WorkspaceID string
	SessionID   string

	Generator  Generator
	Fixer      Fixer
	Verifier   Verifier
	Previewer  Previewer
	Classifier *diagnosis.Classifier
	Versions   *versions.Store

	// InitialFiles seeds the live set. Nil uses the welcome page.
	InitialFiles   []workspace.File
	ReservedFiles  []string
	EntryFile      string
	MaxFixAttempts int
	// AutoConfirm runs plan, build, fix and apply without waiting for Confirm.
	AutoConfirm bool
}

// Orchestrator drives one workspace through the build-fix loop. Only one cycle runs
// at a time; every external call is stamped with the cycle id current when it
// started, and results that come back after the id moved on are dropped.
type Orchestrator struct {
	workspaceID string
	sessionID   string
	gen         Generator
	fixer       Fixer
	verifier    Verifier
	previewer   Previewer
	classifier  *diagnosis.Classifier
	versions    *versions.Store
	fsm         *core.AgentFSM
	reserved    workspace.Reserved
	entryFile   string
	maxAttempts int
	autoConfirm bool
	log         *zap.Logger

	mu          sync.Mutex
	status      Status
	files       *workspace.FileSet
	messages    []Message
	plan        string
	fix         *patch.Fix
	cycle       uint64
	cancel      context.CancelFunc
	subscribers []chan Status
}

// NewOrchestrator creates an idle orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.WorkspaceID == "" {
		cfg.WorkspaceID = uuid.New().String()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = diagnosis.Default()
	}
	if cfg.Versions == nil {
		cfg.Versions = versions.NewStore(cfg.WorkspaceID)
	}
	if cfg.ReservedFiles == nil {
		cfg.ReservedFiles = config.DefaultReservedFiles
	}
	if cfg.EntryFile == "" {
		cfg.EntryFile = config.DefaultEntryFile
	}
	if cfg.MaxFixAttempts <= 0 {
		cfg.MaxFixAttempts = config.DefaultMaxFixAttempts
	}
	initial := cfg.InitialFiles
	if initial == nil {
		initial = workspace.InitialFiles()
	}

	o := &Orchestrator{
		workspaceID: cfg.WorkspaceID,
		sessionID:   cfg.SessionID,
		gen:         cfg.Generator,
		fixer:       cfg.Fixer,
		verifier:    cfg.Verifier,
		previewer:   cfg.Previewer,
		classifier:  cfg.Classifier,
		versions:    cfg.Versions,
		fsm:         core.NewAgentFSM(core.AgentFSMConfig{WorkspaceID: cfg.WorkspaceID}),
		reserved:    workspace.Reserved(cfg.ReservedFiles),
		entryFile:   cfg.EntryFile,
		maxAttempts: cfg.MaxFixAttempts,
		autoConfirm: cfg.AutoConfirm,
		log: logging.Named("agent").With(
			zap.String("workspace_id", cfg.WorkspaceID),
			zap.String("session_id", cfg.SessionID)),
		status: Status{State: core.StateIdle},
		files:  workspace.NewFileSet(initial...),
	}
	o.files.StripReserved(o.reserved)
	o.appendLocked(RoleAssistant, greeting)
	return o
}

// WorkspaceID returns the workspace identifier.
func (o *Orchestrator) WorkspaceID() string { return o.workspaceID }

// SessionID returns the executor session identifier.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// Submit starts a new cycle for prompt and streams the plan. It resets the fix
// attempt counter. With AutoConfirm it continues through the whole loop.
func (o *Orchestrator) Submit(ctx context.Context, prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ErrEmptyPrompt
	}

	o.mu.Lock()
	if !o.fsm.IsIdle() {
		o.mu.Unlock()
		return ErrBusy
	}
	o.cycle++
	id := o.cycle
	stepCtx, cancel := o.stepContextLocked(ctx)
	defer cancel()

	history := o.turnsLocked()
	o.plan = ""
	o.fix = nil
	o.appendLocked(RoleUser, prompt)
	o.transitionLocked(core.EventSubmit, Status{Message: msgPlanning})
	o.mu.Unlock()

	o.log.Info("planning started", zap.Uint64("cycle", id))
	plan, err := o.gen.Plan(stepCtx, prompt, history, func(text string) {
		o.streamed(id, text)
	})

	o.mu.Lock()
	if o.staleLocked(id, "plan") {
		o.mu.Unlock()
		return ErrCancelled
	}
	if err != nil {
		o.failLocked("Planning failed", err)
		o.mu.Unlock()
		return fmt.Errorf("plan: %w", err)
	}
	o.plan = plan
	o.appendLocked(RoleAssistant, plan)
	o.transitionLocked(core.EventPlanReady, Status{Message: msgPlanReady, StreamContent: plan})
	o.mu.Unlock()

	if o.autoConfirm {
		return o.StartCoding(ctx)
	}
	return nil
}

// StartCoding generates files from the confirmed plan, merges them into the live
// set and verifies the result.
func (o *Orchestrator) StartCoding(ctx context.Context) error {
	o.mu.Lock()
	if o.fsm.CurrentState() != core.StatePlanReady {
		state := o.fsm.CurrentState()
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot start coding from %s", ErrInvalidTransition, state)
	}
	id := o.cycle
	stepCtx, cancel := o.stepContextLocked(ctx)
	defer cancel()

	plan := o.plan
	current := o.files.Files()
	o.versions.Record("Before AI generation", current, nil)
	o.transitionLocked(core.EventStartCoding, Status{Message: msgCoding, StreamContent: plan})
	o.mu.Unlock()

	resp, err := o.gen.Build(stepCtx, plan, current)

	o.mu.Lock()
	if o.staleLocked(id, "build") {
		o.mu.Unlock()
		return ErrCancelled
	}
	if err != nil {
		o.failLocked("Code generation failed", err)
		o.mu.Unlock()
		return fmt.Errorf("build: %w", err)
	}

	added, replaced := o.files.Merge(resp.Files)
	if n := o.files.StripReserved(o.reserved); n > 0 {
		o.log.Debug("dropped reserved files from build", zap.Int("count", n))
	}
	files := o.files.Files()
	o.versions.Record("Code generated by AI", files, nil)
	o.appendLocked(RoleAssistant, buildSummary(resp, added, replaced))
	o.transitionLocked(core.EventFilesMerged, Status{Message: msgVerifying})
	o.mu.Unlock()

	return o.verify(stepCtx, ctx, id, files)
}

// verify dry-runs files and routes the outcome: IDLE on success, ERROR_DETECTED on
// a fixable failure, IDLE again once the attempt cap is reached.
func (o *Orchestrator) verify(stepCtx, parent context.Context, id uint64, files []workspace.File) error {
	res, err := o.verifier.DryRun(stepCtx, files, o.sessionID)

	o.mu.Lock()
	if o.staleLocked(id, "verify") {
		o.mu.Unlock()
		return ErrCancelled
	}
	if err != nil {
		o.failLocked("Verification failed", err)
		o.mu.Unlock()
		return fmt.Errorf("verify: %w", err)
	}

	attempt := o.status.FixAttempt
	if res.Success {
		o.versions.Record("Working version", files, nil)
		o.appendLocked(RoleAssistant, msgVerified)
		o.transitionLocked(core.EventVerified, Status{Preview: true})
		o.mu.Unlock()

		metrics.Get().RecordCycle("verified")
		o.log.Info("verification passed", zap.Uint64("cycle", id), zap.Int("fix_attempt", attempt))
		if o.previewer != nil {
			o.previewer.Schedule(files)
		}
		return nil
	}

	details := o.classifier.Classify(res.Payload())
	metrics.Get().RecordClassification(string(details.Type))
	o.versions.Record(fmt.Sprintf("Verification failed (%s error)", details.Type), files, &details)
	o.log.Info("verification failed",
		zap.Uint64("cycle", id),
		zap.String("type", string(details.Type)),
		zap.String("file", details.File),
		zap.Int("line", details.Line),
		zap.Int("fix_attempt", attempt))

	if attempt >= o.maxAttempts {
		msg := fmt.Sprintf("Auto-fix stopped: maximum attempts reached (%d/%d). Manual intervention needed.\n\n%s",
			attempt, o.maxAttempts, diagnosis.Format(details))
		o.appendLocked(RoleAssistant, msg)
		o.transitionLocked(core.EventAttemptsExceeded, Status{
			Message:      msg,
			Error:        details.Message,
			ErrorDetails: &details,
		})
		o.mu.Unlock()
		metrics.Get().RecordCycle("exhausted")
		return ErrAttemptsExhausted
	}

	msg := diagnosis.Format(details)
	o.appendLocked(RoleAssistant, msg)
	o.transitionLocked(core.EventVerifyFailed, Status{
		Message:      msg,
		Error:        details.Message,
		ErrorDetails: &details,
	})
	o.mu.Unlock()

	if o.autoConfirm {
		return o.CreateFix(parent)
	}
	return nil
}

// CreateFix asks the fix client for patches to the file named in the current error.
// A failure returns to ERROR_DETECTED without consuming an attempt.
func (o *Orchestrator) CreateFix(ctx context.Context) error {
	o.mu.Lock()
	if o.fsm.CurrentState() != core.StateErrorDetected || o.status.ErrorDetails == nil {
		state := o.fsm.CurrentState()
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot plan a fix from %s", ErrInvalidTransition, state)
	}
	details := *o.status.ErrorDetails
	file, ok := o.files.Get(details.File)
	if !ok {
		msg := fmt.Sprintf("Cannot auto-fix: `%s` is not part of this project.", details.File)
		o.appendLocked(RoleAssistant, msg)
		o.transitionLocked(core.EventAbort, Status{Message: msg, Error: details.Message, ErrorDetails: &details})
		o.mu.Unlock()
		metrics.Get().RecordCycle("aborted")
		return fmt.Errorf("%w: %s", ErrFileNotFound, details.File)
	}
	id := o.cycle
	stepCtx, cancel := o.stepContextLocked(ctx)
	defer cancel()
	o.transitionLocked(core.EventRequestFix, Status{
		Message:      msgFixPlanning,
		Error:        details.Message,
		ErrorDetails: &details,
	})
	o.mu.Unlock()

	fix, err := o.fixer.Fix(stepCtx, details, file)

	o.mu.Lock()
	if o.staleLocked(id, "fix") {
		o.mu.Unlock()
		return ErrCancelled
	}
	if err != nil {
		msg := "Fix generation failed: " + describe(err)
		o.appendLocked(RoleAssistant, msg)
		o.transitionLocked(core.EventFixFailed, Status{Message: msg, Error: details.Message, ErrorDetails: &details})
		o.mu.Unlock()
		o.log.Warn("fix generation failed", zap.Uint64("cycle", id), zap.Error(err))
		return fmt.Errorf("fix: %w", err)
	}

	o.fix = &fix
	summary := fixSummary(fix)
	o.appendLocked(RoleAssistant, summary)
	o.transitionLocked(core.EventFixReady, Status{Message: summary, Error: details.Message, ErrorDetails: &details})
	o.mu.Unlock()

	if o.autoConfirm {
		return o.ApplyFix(ctx)
	}
	return nil
}

// ApplyFix applies the pending patches, records the attempt and re-verifies.
// Mismatched patches are skipped; verification runs regardless.
func (o *Orchestrator) ApplyFix(ctx context.Context) error {
	o.mu.Lock()
	if o.fsm.CurrentState() != core.StateFixReady {
		state := o.fsm.CurrentState()
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot apply a fix from %s", ErrInvalidTransition, state)
	}
	if o.fix == nil {
		o.mu.Unlock()
		return ErrNoPendingFix
	}
	fix := *o.fix
	o.fix = nil
	id := o.cycle
	stepCtx, cancel := o.stepContextLocked(ctx)
	defer cancel()
	o.transitionLocked(core.EventApplyFix, Status{Message: msgApplying})

	file, ok := o.files.Get(fix.File)
	if !ok {
		msg := fmt.Sprintf("Cannot apply fix: `%s` is not part of this project.", fix.File)
		o.appendLocked(RoleAssistant, msg)
		o.transitionLocked(core.EventAbort, Status{Message: msg})
		o.mu.Unlock()
		metrics.Get().RecordCycle("aborted")
		return fmt.Errorf("%w: %s", ErrFileNotFound, fix.File)
	}

	patched, report := patch.Apply(file.Content, fix.Patches)
	o.files.Replace(file.Path, patched)
	loose := 0
	for _, a := range report.Applied {
		if a.Loose {
			loose++
		}
	}
	metrics.Get().RecordPatches(len(report.Applied), loose, len(report.Skipped))
	metrics.Get().RecordFixAttempt()

	attempt := o.status.FixAttempt + 1
	files := o.files.Files()
	o.versions.Record(fmt.Sprintf("Applied fix attempt %d", attempt), files, nil)
	o.appendLocked(RoleAssistant, applySummary(file.Path, report, attempt, o.maxAttempts))
	o.status.FixAttempt = attempt
	o.transitionLocked(core.EventPatched, Status{Message: msgVerifying})
	o.mu.Unlock()

	o.log.Info("fix applied",
		zap.Uint64("cycle", id),
		zap.String("file", file.Path),
		zap.Int("applied", len(report.Applied)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("fix_attempt", attempt))

	return o.verify(stepCtx, ctx, id, files)
}

// Confirm advances whichever step is waiting for the user.
func (o *Orchestrator) Confirm(ctx context.Context) error {
	switch state := o.fsm.CurrentState(); state {
	case core.StatePlanReady:
		return o.StartCoding(ctx)
	case core.StateErrorDetected:
		return o.CreateFix(ctx)
	case core.StateFixReady:
		return o.ApplyFix(ctx)
	default:
		return fmt.Errorf("%w: nothing to confirm in %s", ErrInvalidTransition, state)
	}
}

// Cancel aborts the running cycle and returns to IDLE. The fix attempt counter is
// kept. It reports false when there was nothing to cancel.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fsm.IsIdle() {
		return false
	}
	o.cycle++
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.fix = nil
	o.plan = ""
	o.appendLocked(RoleSystem, "Cancelled.")
	o.transitionLocked(core.EventCancel, Status{})
	metrics.Get().RecordCycle("cancelled")
	o.log.Info("cycle cancelled", zap.Uint64("cycle", o.cycle))
	return true
}

// Restore replaces the live files with a recorded version and returns the file a
// viewer should open. It is only allowed while idle.
func (o *Orchestrator) Restore(versionID string) (workspace.File, error) {
	o.mu.Lock()
	if !o.fsm.IsIdle() {
		o.mu.Unlock()
		return workspace.File{}, ErrBusy
	}
	entry, err := o.versions.Get(versionID)
	if err != nil {
		o.mu.Unlock()
		return workspace.File{}, err
	}
	o.files = workspace.NewFileSet(entry.Files...)
	o.files.StripReserved(o.reserved)
	files := o.files.Files()
	o.appendLocked(RoleSystem, fmt.Sprintf("Restored version from %s: %s",
		entry.Timestamp.Format(time.RFC3339), entry.Description))
	o.mu.Unlock()

	if o.previewer != nil {
		o.previewer.Schedule(files)
	}
	active, _ := workspace.DefaultActive(files, o.entryFile)
	return active, nil
}

// Status returns a copy of the current status.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status.clone()
}

// Subscribe returns a channel that receives a copy of every status change, and a
// function that removes the subscription. Slow subscribers miss updates.
func (o *Orchestrator) Subscribe(bufferSize int) (<-chan Status, func()) {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	ch := make(chan Status, bufferSize)
	o.mu.Lock()
	o.subscribers = append(o.subscribers, ch)
	o.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			for i, sub := range o.subscribers {
				if sub == ch {
					o.subscribers = append(o.subscribers[:i], o.subscribers[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
}

// Messages returns a copy of the chat log.
func (o *Orchestrator) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// Files returns a copy of the live file set. Reserved files are never present.
func (o *Orchestrator) Files() []workspace.File {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.files.Files()
}

// Export returns the downloadable files.
func (o *Orchestrator) Export() []workspace.File {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.files.Export(o.reserved)
}

// ActiveFile returns the file a viewer should open.
func (o *Orchestrator) ActiveFile() (workspace.File, bool) {
	return workspace.DefaultActive(o.Files(), o.entryFile)
}

// Versions returns copies of the recorded versions, oldest first.
func (o *Orchestrator) Versions() []versions.Entry {
	return o.versions.List()
}

// Diff compares two recorded versions.
func (o *Orchestrator) Diff(fromID, toID string) (versions.DiffResponse, error) {
	return o.versions.Diff(fromID, toID)
}

// History returns the state transition audit trail.
func (o *Orchestrator) History() []core.StateTransition {
	return o.fsm.History()
}

// PendingFix returns a copy of the fix waiting for confirmation.
func (o *Orchestrator) PendingFix() (patch.Fix, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fix == nil {
		return patch.Fix{}, false
	}
	f := *o.fix
	f.Patches = append([]patch.Patch(nil), o.fix.Patches...)
	return f, true
}

// --- internals; callers hold o.mu unless noted ---

func (o *Orchestrator) stepContextLocked(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	o.cancel = cancel
	return ctx, cancel
}

// transitionLocked fires event and replaces the status wholesale. The fix attempt
// counter carries over; it resets only when a new prompt is submitted.
func (o *Orchestrator) transitionLocked(event core.AgentEvent, next Status) {
	rec, err := o.fsm.Transition(event, o.cycle)
	if err != nil {
		o.log.Error("unexpected transition", zap.Error(err))
		return
	}
	next.State = rec.ToState
	next.FixAttempt = o.status.FixAttempt
	if event == core.EventSubmit {
		next.FixAttempt = 0
	}
	o.status = next
	o.publishLocked()
}

func (o *Orchestrator) publishLocked() {
	st := o.status.clone()
	for _, ch := range o.subscribers {
		select {
		case ch <- st:
		default:
		}
	}
}

// streamed records cumulative plan text. It takes the lock itself.
func (o *Orchestrator) streamed(id uint64, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if id != o.cycle || o.fsm.CurrentState() != core.StatePlanning {
		return
	}
	o.status.StreamContent = text
	o.publishLocked()
}

func (o *Orchestrator) staleLocked(id uint64, op string) bool {
	if id == o.cycle {
		return false
	}
	metrics.Get().RecordStaleResult(op)
	o.log.Info("discarding stale result",
		zap.String("operation", op),
		zap.Uint64("cycle", id),
		zap.Uint64("current_cycle", o.cycle))
	return true
}

// failLocked reports a transport or parse failure and ends the cycle.
func (o *Orchestrator) failLocked(title string, err error) {
	msg := fmt.Sprintf("%s: %s", title, describe(err))
	o.appendLocked(RoleAssistant, msg)
	o.transitionLocked(core.EventFailed, Status{Message: title, Error: describe(err)})
	metrics.Get().RecordCycle("failed")
	o.log.Warn(strings.ToLower(title), zap.Error(err))
}

func (o *Orchestrator) appendLocked(role MessageRole, content string) {
	o.messages = append(o.messages, Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
}

func (o *Orchestrator) turnsLocked() []ai.Turn {
	turns := make([]ai.Turn, 0, len(o.messages))
	for _, m := range o.messages {
		turns = append(turns, ai.Turn{Role: string(m.Role), Content: m.Content, Loading: m.IsLoading})
	}
	return turns
}

// describe turns an error into chat text.
func describe(err error) string {
	var te *ai.TransportError
	if errors.As(err, &te) {
		return te.Message()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "the request timed out"
	}
	return err.Error()
}

func buildSummary(resp ai.BuildResponse, added, replaced int) string {
	var sb strings.Builder
	if e := strings.TrimSpace(resp.Explanation); e != "" {
		sb.WriteString(e)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "Generated %d file(s): %d new, %d updated.", added+replaced, added, replaced)
	return sb.String()
}

func fixSummary(fix patch.Fix) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Proposed fix** for `%s`: %d patch(es)\n", fix.File, len(fix.Patches))
	if fix.RootCause != "" {
		fmt.Fprintf(&sb, "\nRoot cause: %s\n", fix.RootCause)
	}
	sb.WriteString("\n")
	for _, p := range fix.Patches {
		explanation := p.Explanation
		if explanation == "" {
			explanation = "replace line"
		}
		fmt.Fprintf(&sb, "- Line %d: %s\n", p.LineNumber, explanation)
	}
	fmt.Fprintf(&sb, "\nConfidence: %d%%", fix.Confidence)
	return sb.String()
}

func applySummary(path string, report patch.Report, attempt, limit int) string {
	var sb strings.Builder
	total := len(report.Applied) + len(report.Skipped)
	fmt.Fprintf(&sb, "Applied %d of %d patch(es) to `%s` (fix attempt %d/%d).",
		len(report.Applied), total, path, attempt, limit)
	for _, s := range report.Skipped {
		fmt.Fprintf(&sb, "\n- Skipped line %d: %s", s.Patch.LineNumber, s.Reason)
	}
	return sb.String()
}
