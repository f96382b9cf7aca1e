// Package versions keeps the append-only snapshot log of a workspace.
package versions

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/InvictusSEO/vibephp/internal/agents/diagnosis"
	"github.com/InvictusSEO/vibephp/internal/logging"
	"github.com/InvictusSEO/vibephp/internal/workspace"
)

// ErrVersionNotFound is returned when an id does not name a recorded version.
var ErrVersionNotFound = errors.New("version not found")

// Entry is an immutable snapshot of the full file set.
type Entry struct {
	ID          string             `json:"id"`
	Timestamp   time.Time          `json:"timestamp"`
	Files       []workspace.File   `json:"files"`
	Description string             `json:"description"`
	Error       *diagnosis.Details `json:"error,omitempty"`
}

func (e Entry) clone() Entry {
	e.Files = workspace.CloneFiles(e.Files)
	if e.Error != nil {
		d := *e.Error
		e.Error = &d
	}
	return e
}

// Persister durably mirrors recorded entries.
type Persister interface {
	Save(workspaceID string, e Entry) error
	Load(workspaceID string) ([]Entry, error)
}

// Store is the in-memory version log of one workspace. It is safe for concurrent use.
//
// With a persister, entries are saved in record order by a background writer
// so Record never waits on storage. Flush waits for queued saves and Close
// drains the queue and stops the writer.
type Store struct {
	mu          sync.RWMutex
	workspaceID string
	entries     []Entry
	persister   Persister
	now         func() time.Time

	qmu     sync.Mutex
	qcond   *sync.Cond
	queue   []Entry
	pending int
	closing bool
	stopped chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithPersister mirrors every recorded entry to p.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty log for workspaceID.
func NewStore(workspaceID string, opts ...Option) *Store {
	s := &Store{workspaceID: workspaceID, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.qcond = sync.NewCond(&s.qmu)
	if s.persister != nil {
		s.stopped = make(chan struct{})
		go s.persistLoop()
	}
	return s
}

// Hydrate loads previously persisted entries. It is a no-op without a persister.
func (s *Store) Hydrate() error {
	if s.persister == nil {
		return nil
	}
	loaded, err := s.persister.Load(s.workspaceID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(loaded, s.entries...)
	return nil
}

// Record appends a snapshot of files. The files and error are copied.
func (s *Store) Record(description string, files []workspace.File, errDetails *diagnosis.Details) Entry {
	e := Entry{
		ID:          uuid.New().String(),
		Timestamp:   s.now(),
		Files:       files,
		Description: description,
		Error:       errDetails,
	}.clone()

	s.mu.Lock()
	s.entries = append(s.entries, e)
	queued := s.enqueue(e)
	s.mu.Unlock()

	if s.persister != nil && !queued {
		s.save(e)
	}
	return e.clone()
}

// enqueue hands e to the writer. It reports false when there is no writer to
// take it. Callers hold s.mu so the queue keeps record order.
func (s *Store) enqueue(e Entry) bool {
	if s.persister == nil {
		return false
	}
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if s.closing {
		return false
	}
	s.queue = append(s.queue, e)
	s.pending++
	s.qcond.Broadcast()
	return true
}

func (s *Store) persistLoop() {
	defer close(s.stopped)
	for {
		s.qmu.Lock()
		for len(s.queue) == 0 && !s.closing {
			s.qcond.Wait()
		}
		if len(s.queue) == 0 {
			s.qmu.Unlock()
			return
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		s.qmu.Unlock()

		s.save(e)

		s.qmu.Lock()
		s.pending--
		s.qcond.Broadcast()
		s.qmu.Unlock()
	}
}

func (s *Store) save(e Entry) {
	if err := s.persister.Save(s.workspaceID, e); err != nil {
		logging.Named("versions").Warn("failed to persist version",
			zap.String("workspace", s.workspaceID),
			zap.String("version", e.ID),
			zap.Error(err))
	}
}

// Flush blocks until every entry recorded so far has been handed to the persister.
func (s *Store) Flush() {
	s.qmu.Lock()
	for s.pending > 0 {
		s.qcond.Wait()
	}
	s.qmu.Unlock()
}

// Close flushes queued entries and stops the background writer. Entries
// recorded after Close are saved synchronously.
func (s *Store) Close() {
	if s.stopped == nil {
		return
	}
	s.qmu.Lock()
	s.closing = true
	s.qcond.Broadcast()
	s.qmu.Unlock()
	<-s.stopped
}

// List returns copies of all entries, oldest first.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.clone()
	}
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Get returns a copy of the entry with id.
func (s *Store) Get(id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e.clone(), nil
		}
	}
	return Entry{}, ErrVersionNotFound
}

// Restore returns a copy of the files stored under id.
func (s *Store) Restore(id string) ([]workspace.File, bool) {
	e, err := s.Get(id)
	if err != nil {
		return nil, false
	}
	return e.Files, true
}
