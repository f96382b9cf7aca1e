// Package agents - Workspace Manager
// This component creates, tracks, and tears down per-client workspaces.
package agents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/InvictusSEO/vibephp/internal/agents/diagnosis"
	"github.com/InvictusSEO/vibephp/internal/config"
	"github.com/InvictusSEO/vibephp/internal/logging"
	"github.com/InvictusSEO/vibephp/internal/metrics"
	"github.com/InvictusSEO/vibephp/internal/preview"
	"github.com/InvictusSEO/vibephp/internal/session"
	"github.com/InvictusSEO/vibephp/internal/versions"
)

// Workspace is one client's project: its orchestrator and live preview.
type Workspace struct {
	*Orchestrator
	Preview   *preview.Deployer
	ClientKey string
	CreatedAt time.Time
}

// ManagerDeps are the collaborators shared by every workspace.
type ManagerDeps struct {
	Config    *config.Config
	Generator Generator
	Fixer     Fixer
	Verifier  Verifier
	// PreviewTarget publishes verified files. Nil disables live preview.
	PreviewTarget preview.Target
	Sessions      *session.Manager
	// Persister mirrors version history durably. Nil keeps it in memory.
	Persister   versions.Persister
	AutoConfirm bool
	// OnPreview is called with every preview state change.
	OnPreview func(workspaceID string, st preview.State)
}

// Manager handles the lifecycle of workspaces.
type Manager struct {
	deps       ManagerDeps
	classifier *diagnosis.Classifier
	log        *zap.Logger

	mu         sync.RWMutex
	workspaces map[string]*Workspace
}

// NewManager creates an empty manager.
func NewManager(deps ManagerDeps) *Manager {
	if deps.Config == nil {
		deps.Config = config.Default()
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewManager(nil)
	}
	classifier := diagnosis.Default()
	classifier.EntryFile = deps.Config.Agent.EntryFile
	return &Manager{
		deps:       deps,
		classifier: classifier,
		log:        logging.Named("workspaces"),
		workspaces: make(map[string]*Workspace),
	}
}

// Create starts a workspace for clientKey. The executor session id is stable per
// client key, so a client reopening a workspace keeps its scratch database.
func (m *Manager) Create(ctx context.Context, clientKey string) (*Workspace, error) {
	id := uuid.New().String()
	if clientKey == "" {
		clientKey = id
	}
	sessionID, err := m.deps.Sessions.ID(ctx, clientKey)
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}

	store := versions.NewStore(id)
	if m.deps.Persister != nil {
		store = versions.NewStore(id, versions.WithPersister(m.deps.Persister))
	}

	cfg := m.deps.Config
	ws := &Workspace{ClientKey: clientKey, CreatedAt: time.Now()}
	var previewer Previewer
	if m.deps.PreviewTarget != nil {
		ws.Preview = preview.NewDeployer(m.deps.PreviewTarget, sessionID,
			preview.WithDebounce(cfg.Executor.PreviewDebounce),
			preview.WithOnUpdate(func(st preview.State) {
				if m.deps.OnPreview != nil {
					m.deps.OnPreview(id, st)
				}
			}))
		previewer = ws.Preview
	}

	ws.Orchestrator = NewOrchestrator(OrchestratorConfig{
		WorkspaceID:    id,
		SessionID:      sessionID,
		Generator:      m.deps.Generator,
		Fixer:          m.deps.Fixer,
		Verifier:       m.deps.Verifier,
		Previewer:      previewer,
		Classifier:     m.classifier,
		Versions:       store,
		ReservedFiles:  cfg.Agent.ReservedFiles,
		EntryFile:      cfg.Agent.EntryFile,
		MaxFixAttempts: cfg.Agent.MaxFixAttempts,
		AutoConfirm:    m.deps.AutoConfirm,
	})

	m.mu.Lock()
	m.workspaces[id] = ws
	count := len(m.workspaces)
	m.mu.Unlock()

	metrics.Get().ActiveWorkspaces.Set(float64(count))
	m.log.Info("workspace created",
		zap.String("workspace_id", id),
		zap.String("session_id", sessionID))
	return ws, nil
}

// Get returns the workspace with id.
func (m *Manager) Get(id string) (*Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, id)
	}
	return ws, nil
}

// List returns all workspaces, newest first.
func (m *Manager) List() []*Workspace {
	m.mu.RLock()
	out := make([]*Workspace, 0, len(m.workspaces))
	for _, ws := range m.workspaces {
		out = append(out, ws)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Delete cancels any running cycle and forgets the workspace.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	ws, ok := m.workspaces[id]
	if ok {
		delete(m.workspaces, id)
	}
	count := len(m.workspaces)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkspaceNotFound, id)
	}

	ws.close()
	metrics.Get().ActiveWorkspaces.Set(float64(count))
	m.log.Info("workspace deleted", zap.String("workspace_id", id))
	return nil
}

// Close cancels every running cycle and pending preview.
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.workspaces
	m.workspaces = make(map[string]*Workspace)
	m.mu.Unlock()
	for _, ws := range all {
		ws.close()
	}
	metrics.Get().ActiveWorkspaces.Set(0)
}

// Start runs op in the background against a fresh context. It returns once op
// has made its first state transition, or with op's error when op finished
// before that, e.g. ErrBusy. When both are ready the error wins. Errors that
// arrive after the first transition are only logged.
func (ws *Workspace) Start(name string, op func(context.Context) error) error {
	updates, unsubscribe := ws.Subscribe(1)
	done := make(chan error, 1)
	go func() { done <- op(context.Background()) }()

	finished, err := awaitStart(done, updates)
	unsubscribe()
	if finished {
		return err
	}

	go func() {
		err := <-done
		if err == nil || errors.Is(err, ErrCancelled) || errors.Is(err, ErrAttemptsExhausted) {
			return
		}
		ws.log.Debug("background operation failed",
			zap.String("workspace_id", ws.WorkspaceID()),
			zap.String("operation", name),
			zap.Error(err))
	}()
	return nil
}

// awaitStart blocks until op finishes or publishes a transition. A result
// already sitting in done is preferred over an update, so a rejected op is
// never reported as started.
func awaitStart(done <-chan error, updates <-chan Status) (bool, error) {
	select {
	case err := <-done:
		return true, err
	case <-updates:
	}
	select {
	case err := <-done:
		return true, err
	default:
		return false, nil
	}
}

func (ws *Workspace) close() {
	ws.Cancel()
	ws.versions.Close()
	if ws.Preview != nil {
		ws.Preview.Close()
	}
}
