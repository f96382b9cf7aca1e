package preview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InvictusSEO/vibephp/internal/execution"
	"github.com/InvictusSEO/vibephp/internal/workspace"
)

type fakeTarget struct {
	mu      sync.Mutex
	calls   [][]workspace.File
	session string
	result  execution.Result
	err     error
}

func (f *fakeTarget) Deploy(_ context.Context, files []workspace.File, sessionID string) (execution.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, files)
	f.session = sessionID
	return f.result, f.err
}

func (f *fakeTarget) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var fixedNow = time.UnixMilli(1700000000123)

func files(content string) []workspace.File {
	return []workspace.File{workspace.NewFile("index.php", content)}
}

func TestScheduleDebouncesBursts(t *testing.T) {
	target := &fakeTarget{result: execution.Result{Success: true, URL: "https://exec/sess_1/"}}
	d := NewDeployer(target, "sess_1", WithDebounce(20*time.Millisecond), WithClock(func() time.Time { return fixedNow }))
	defer d.Close()

	d.Schedule(files("a"))
	d.Schedule(files("b"))
	d.Schedule(files("c"))

	require.Eventually(t, func() bool { return target.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, target.count())

	target.mu.Lock()
	assert.Equal(t, "c", target.calls[0][0].Content)
	assert.Equal(t, "sess_1", target.session)
	target.mu.Unlock()

	assert.Equal(t, "https://exec/sess_1/?t=1700000000123", d.State().URL)
}

func TestFlushSkipsUnchangedFingerprint(t *testing.T) {
	target := &fakeTarget{result: execution.Result{Success: true, URL: "u"}}
	d := NewDeployer(target, "s", WithDebounce(time.Hour))
	ctx := context.Background()

	d.Schedule(files("a"))
	require.NoError(t, d.Flush(ctx))
	d.Schedule(files("a"))
	require.NoError(t, d.Flush(ctx))
	d.Schedule(files("b"))
	require.NoError(t, d.Flush(ctx))

	assert.Equal(t, 2, target.count())
}

func TestFlushWithoutPendingIsNoop(t *testing.T) {
	target := &fakeTarget{}
	d := NewDeployer(target, "s")

	assert.NoError(t, d.Flush(context.Background()))
	assert.Equal(t, 0, target.count())
}

func TestFailedDeployIsRetried(t *testing.T) {
	target := &fakeTarget{result: execution.Result{Success: false, Error: "Parse error"}}
	var states []State
	d := NewDeployer(target, "s", WithDebounce(time.Hour), WithOnUpdate(func(s State) { states = append(states, s) }))
	ctx := context.Background()

	d.Schedule(files("a"))
	err := d.Flush(ctx)
	require.Error(t, err)
	assert.Contains(t, d.State().Error, "Parse error")
	require.Len(t, states, 2)
	assert.True(t, states[0].Loading)
	assert.False(t, states[1].Loading)

	target.result = execution.Result{Success: true, URL: "u"}
	d.Schedule(files("a"))
	require.NoError(t, d.Flush(ctx))
	assert.Equal(t, 2, target.count())
	assert.Empty(t, d.State().Error)
}

func TestTransportErrorSurfaces(t *testing.T) {
	target := &fakeTarget{err: errors.New("dial tcp: refused")}
	d := NewDeployer(target, "s", WithDebounce(time.Hour))

	d.Schedule(files("a"))
	assert.Error(t, d.Flush(context.Background()))
	assert.Contains(t, d.State().Error, "refused")
}

func TestCloseCancelsScheduled(t *testing.T) {
	target := &fakeTarget{result: execution.Result{Success: true}}
	d := NewDeployer(target, "s", WithDebounce(10*time.Millisecond))

	d.Schedule(files("a"))
	d.Close()
	d.Schedule(files("b"))
	time.Sleep(40 * time.Millisecond)

	assert.Equal(t, 0, target.count())
}

func TestWithCacheBuster(t *testing.T) {
	assert.Equal(t, "", withCacheBuster("", fixedNow))
	assert.Equal(t, "https://x/a.php?t=1700000000123", withCacheBuster("https://x/a.php", fixedNow))
	assert.Equal(t, "https://x/?s=1&t=1700000000123", withCacheBuster("https://x/?s=1", fixedNow))
}
