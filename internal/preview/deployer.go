// Package preview - Live preview deployment for VibePHP
// Publishes the workspace to the executor after edits settle
package preview

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/InvictusSEO/vibephp/internal/execution"
	"github.com/InvictusSEO/vibephp/internal/logging"
	"github.com/InvictusSEO/vibephp/internal/metrics"
	"github.com/InvictusSEO/vibephp/internal/workspace"
)

// DefaultDebounce is the quiet period before a scheduled deployment runs.
const DefaultDebounce = time.Second

const deployTimeout = 60 * time.Second

// Target publishes a file set and returns the executor's answer.
type Target interface {
	Deploy(ctx context.Context, files []workspace.File, sessionID string) (execution.Result, error)
}

// State is what a preview pane shows.
type State struct {
	URL        string    `json:"url,omitempty"`
	Loading    bool      `json:"loading"`
	Error      string    `json:"error,omitempty"`
	DeployedAt time.Time `json:"deployedAt,omitempty"`
}

// Deployer publishes the live file set for preview. Bursts of Schedule calls collapse
// into one deployment, and a set identical to the last deployed one is not resent.
type Deployer struct {
	target    Target
	sessionID string
	debounce  time.Duration
	onUpdate  func(State)
	now       func() time.Time

	mu          sync.Mutex
	timer       *time.Timer
	pending     []workspace.File
	hasPending  bool
	state       State
	closed      bool
	deployMu    sync.Mutex
	fingerprint string
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(dp *Deployer) { dp.debounce = d }
}

// WithOnUpdate registers a callback invoked after every state change.
func WithOnUpdate(fn func(State)) Option {
	return func(dp *Deployer) { dp.onUpdate = fn }
}

// WithClock overrides the cache-buster time source.
func WithClock(now func() time.Time) Option {
	return func(dp *Deployer) { dp.now = now }
}

// NewDeployer creates a deployer that publishes under sessionID.
func NewDeployer(target Target, sessionID string, opts ...Option) *Deployer {
	d := &Deployer{
		target:    target,
		sessionID: sessionID,
		debounce:  DefaultDebounce,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Schedule queues files for deployment once the debounce period passes without
// another call.
func (d *Deployer) Schedule(files []workspace.File) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.pending = workspace.CloneFiles(files)
	d.hasPending = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), deployTimeout)
		defer cancel()
		_ = d.Flush(ctx)
	})
}

// Flush deploys any pending files immediately.
func (d *Deployer) Flush(ctx context.Context) error {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if !d.hasPending {
		d.mu.Unlock()
		return nil
	}
	files := d.pending
	d.pending = nil
	d.hasPending = false
	d.mu.Unlock()

	return d.deploy(ctx, files)
}

// State returns the current preview state.
func (d *Deployer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Close cancels any scheduled deployment.
func (d *Deployer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.hasPending = false
	d.pending = nil
}

func (d *Deployer) deploy(ctx context.Context, files []workspace.File) error {
	d.deployMu.Lock()
	defer d.deployMu.Unlock()

	log := logging.Named("preview").With(zap.String("session_id", d.sessionID))
	m := metrics.Get()

	if len(files) == 0 {
		m.RecordPreviewDeploy("skipped")
		return nil
	}
	fp := workspace.Fingerprint(files)
	if fp == d.fingerprint {
		m.RecordPreviewDeploy("skipped")
		log.Debug("preview unchanged, skipping deploy")
		return nil
	}

	d.setState(func(s *State) {
		s.Loading = true
		s.Error = ""
	})

	res, err := d.target.Deploy(ctx, files, d.sessionID)
	if err == nil && !res.Success {
		err = fmt.Errorf("deploy failed: %s", res.Error)
	}
	if err != nil {
		m.RecordPreviewDeploy("failed")
		log.Warn("preview deploy failed", zap.Error(err))
		d.setState(func(s *State) {
			s.Loading = false
			s.Error = err.Error()
		})
		return err
	}

	d.fingerprint = fp
	now := d.now()
	m.RecordPreviewDeploy("deployed")
	d.setState(func(s *State) {
		s.Loading = false
		s.URL = withCacheBuster(res.URL, now)
		s.DeployedAt = now
	})
	return nil
}

func (d *Deployer) setState(mutate func(*State)) {
	d.mu.Lock()
	mutate(&d.state)
	st := d.state
	cb := d.onUpdate
	d.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

// withCacheBuster appends t=<unix ms> so embedded frames reload.
func withCacheBuster(u string, now time.Time) string {
	if u == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%st=%d", u, sep, now.UnixMilli())
}
