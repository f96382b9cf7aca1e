package agents

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InvictusSEO/vibephp/internal/agents/core"
	"github.com/InvictusSEO/vibephp/internal/config"
	"github.com/InvictusSEO/vibephp/internal/execution"
	"github.com/InvictusSEO/vibephp/internal/preview"
	"github.com/InvictusSEO/vibephp/internal/versions"
	"github.com/InvictusSEO/vibephp/internal/workspace"
)

type fakeTarget struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeTarget) Deploy(context.Context, []workspace.File, string) (execution.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return execution.Result{Success: true, URL: "https://exec/app/"}, nil
}

func newTestManager(onPreview func(string, preview.State)) (*Manager, *fakeTarget) {
	target := &fakeTarget{}
	cfg := config.Default()
	return NewManager(ManagerDeps{
		Config:        cfg,
		Generator:     &fakeGenerator{plan: "plan"},
		Fixer:         &fakeFixer{},
		Verifier:      &fakeVerifier{results: []execution.Result{{Success: true}}},
		PreviewTarget: target,
		OnPreview:     onPreview,
	}), target
}

func TestManagerCreateAndGet(t *testing.T) {
	m, _ := newTestManager(nil)
	defer m.Close()

	ws, err := m.Create(context.Background(), "browser-1")
	require.NoError(t, err)

	got, err := m.Get(ws.WorkspaceID())
	require.NoError(t, err)
	assert.Same(t, ws, got)
	assert.Regexp(t, `^sess_[0-9a-f]{12}$`, ws.SessionID())
	assert.Equal(t, "browser-1", ws.ClientKey)
	assert.NotNil(t, ws.Preview)
}

func TestManagerSessionStablePerClient(t *testing.T) {
	m, _ := newTestManager(nil)
	defer m.Close()
	ctx := context.Background()

	a, err := m.Create(ctx, "browser-1")
	require.NoError(t, err)
	b, err := m.Create(ctx, "browser-1")
	require.NoError(t, err)
	c, err := m.Create(ctx, "")
	require.NoError(t, err)

	assert.NotEqual(t, a.WorkspaceID(), b.WorkspaceID())
	assert.Equal(t, a.SessionID(), b.SessionID())
	assert.NotEqual(t, a.SessionID(), c.SessionID())
	assert.Len(t, m.List(), 3)
}

func TestManagerDelete(t *testing.T) {
	m, _ := newTestManager(nil)
	ws, err := m.Create(context.Background(), "k")
	require.NoError(t, err)

	require.NoError(t, m.Delete(ws.WorkspaceID()))

	_, err = m.Get(ws.WorkspaceID())
	assert.ErrorIs(t, err, ErrWorkspaceNotFound)
	assert.ErrorIs(t, m.Delete(ws.WorkspaceID()), ErrWorkspaceNotFound)
}

func TestManagerWiresPreview(t *testing.T) {
	var mu sync.Mutex
	var updates []preview.State
	var ids []string
	m, target := newTestManager(func(id string, st preview.State) {
		mu.Lock()
		defer mu.Unlock()
		ids = append(ids, id)
		updates = append(updates, st)
	})
	defer m.Close()
	ws, err := m.Create(context.Background(), "k")
	require.NoError(t, err)

	ws.Preview.Schedule(ws.Files())
	require.NoError(t, ws.Preview.Flush(context.Background()))

	assert.Equal(t, 1, target.calls)
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, updates)
	assert.Equal(t, ws.WorkspaceID(), ids[0])
	assert.Contains(t, updates[len(updates)-1].URL, "https://exec/app/?t=")
}

func TestAwaitStartPrefersFinishedOp(t *testing.T) {
	for i := 0; i < 200; i++ {
		done := make(chan error, 1)
		updates := make(chan Status, 1)
		done <- ErrBusy
		updates <- Status{State: core.StatePlanning}

		finished, err := awaitStart(done, updates)
		require.True(t, finished)
		require.ErrorIs(t, err, ErrBusy)
	}

	done := make(chan error, 1)
	updates := make(chan Status, 1)
	updates <- Status{State: core.StatePlanning}
	finished, err := awaitStart(done, updates)
	assert.False(t, finished)
	assert.NoError(t, err)
}

func TestWorkspaceStartReportsSynchronousErrors(t *testing.T) {
	release := make(chan struct{})
	gen := &fakeGenerator{plan: "plan", planHook: func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}}
	m := NewManager(ManagerDeps{
		Config:    config.Default(),
		Generator: gen,
		Fixer:     &fakeFixer{},
		Verifier:  &fakeVerifier{results: []execution.Result{{Success: true}}},
	})
	defer m.Close()
	ws, err := m.Create(context.Background(), "k")
	require.NoError(t, err)

	submit := func(ctx context.Context) error { return ws.Submit(ctx, "make a todo app") }
	require.NoError(t, ws.Start("submit", submit))
	assert.Equal(t, core.StatePlanning, ws.Status().State)

	assert.ErrorIs(t, ws.Start("submit", submit), ErrBusy)
	assert.ErrorIs(t, ws.Start("confirm", ws.Confirm), ErrInvalidTransition)

	close(release)
	assert.Eventually(t, func() bool {
		return ws.Status().State == core.StatePlanReady
	}, time.Second, 5*time.Millisecond)
}

type gatedPersister struct {
	release chan struct{}
	mu      sync.Mutex
	saves   int
}

func (g *gatedPersister) Save(string, versions.Entry) error {
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saves++
	return nil
}

func (g *gatedPersister) Load(string) ([]versions.Entry, error) { return nil, nil }

func TestCycleDoesNotWaitOnVersionPersistence(t *testing.T) {
	p := &gatedPersister{release: make(chan struct{})}
	m := NewManager(ManagerDeps{
		Config:    config.Default(),
		Generator: &fakeGenerator{plan: "plan"},
		Fixer:     &fakeFixer{},
		Verifier:  &fakeVerifier{results: []execution.Result{{Success: true}}},
		Persister: p,
	})
	ws, err := m.Create(context.Background(), "k")
	require.NoError(t, err)

	finished := make(chan error, 1)
	go func() {
		ctx := context.Background()
		if err := ws.Submit(ctx, "make a todo app"); err != nil {
			finished <- err
			return
		}
		finished <- ws.Confirm(ctx)
	}()

	select {
	case err := <-finished:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("cycle blocked on version persistence")
	}
	assert.Equal(t, core.StateIdle, ws.Status().State)
	recorded := len(ws.Versions())
	assert.GreaterOrEqual(t, recorded, 3)

	close(p.release)
	m.Close()
	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, recorded, p.saves)
}
