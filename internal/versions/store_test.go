package versions

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InvictusSEO/vibephp/internal/agents/diagnosis"
	"github.com/InvictusSEO/vibephp/internal/workspace"
)

func TestRecordSnapshotsAreImmutable(t *testing.T) {
	s := NewStore("ws")
	live := []workspace.File{workspace.NewFile("index.php", "v1")}
	details := &diagnosis.Details{Type: diagnosis.KindRuntime, Message: "boom"}

	e := s.Record("Working version", live, details)

	live[0].Content = "v2"
	details.Message = "changed"
	e.Files[0].Content = "tampered"

	stored, err := s.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, "v1", stored.Files[0].Content)
	assert.Equal(t, "boom", stored.Error.Message)
	assert.Equal(t, "Working version", stored.Description)
}

func TestListAndRestoreReturnCopies(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewStore("ws", WithClock(func() time.Time { return fixed }))
	a := s.Record("a", []workspace.File{workspace.NewFile("index.php", "a")}, nil)
	s.Record("b", []workspace.File{workspace.NewFile("index.php", "b")}, nil)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Description)
	assert.Equal(t, fixed, list[1].Timestamp)
	list[0].Files[0].Content = "x"

	files, ok := s.Restore(a.ID)
	require.True(t, ok)
	assert.Equal(t, "a", files[0].Content)
	files[0].Content = "y"

	again, _ := s.Restore(a.ID)
	assert.Equal(t, "a", again[0].Content)
}

func TestRestoreUnknown(t *testing.T) {
	s := NewStore("ws")

	_, ok := s.Restore("nope")
	assert.False(t, ok)

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

type failingPersister struct {
	mu    sync.Mutex
	saves int
}

func (f *failingPersister) Save(string, Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return errors.New("disk full")
}

func (f *failingPersister) Load(string) ([]Entry, error) { return nil, nil }

func TestPersistenceFailureDoesNotBlockLog(t *testing.T) {
	p := &failingPersister{}
	s := NewStore("ws", WithPersister(p))

	s.Record("a", nil, nil)
	s.Close()

	assert.Equal(t, 1, p.saves)
	assert.Equal(t, 1, s.Len())
}

type blockingPersister struct {
	release chan struct{}
	mu      sync.Mutex
	saved   []string
}

func (b *blockingPersister) Save(_ string, e Entry) error {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saved = append(b.saved, e.Description)
	return nil
}

func (b *blockingPersister) Load(string) ([]Entry, error) { return nil, nil }

func (b *blockingPersister) descriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.saved...)
}

func TestRecordDoesNotWaitForSlowPersister(t *testing.T) {
	p := &blockingPersister{release: make(chan struct{})}
	s := NewStore("ws", WithPersister(p))

	recorded := make(chan struct{})
	go func() {
		s.Record("first", nil, nil)
		s.Record("second", nil, nil)
		s.Record("third", nil, nil)
		close(recorded)
	}()

	select {
	case <-recorded:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on the persister")
	}
	assert.Equal(t, 3, s.Len())
	assert.Empty(t, p.descriptions())

	flushed := make(chan struct{})
	go func() {
		s.Flush()
		close(flushed)
	}()
	select {
	case <-flushed:
		t.Fatal("Flush returned before saves completed")
	case <-time.After(20 * time.Millisecond):
	}

	close(p.release)
	<-flushed
	assert.Equal(t, []string{"first", "second", "third"}, p.descriptions())

	s.Close()
	s.Record("after close", nil, nil)
	assert.Equal(t, []string{"first", "second", "third", "after close"}, p.descriptions())
}

func TestDiff(t *testing.T) {
	s := NewStore("ws")
	a := s.Record("a", []workspace.File{
		workspace.NewFile("index.php", "<?php\necho 1;\n"),
		workspace.NewFile("old.css", "x"),
	}, nil)
	b := s.Record("b", []workspace.File{
		workspace.NewFile("index.php", "<?php\necho 2;\n"),
		workspace.NewFile("new.js", "y"),
	}, nil)

	diff, err := s.Diff(a.ID, b.ID)
	require.NoError(t, err)
	require.Len(t, diff.Files, 3)

	assert.Equal(t, "index.php", diff.Files[0].Path)
	assert.Equal(t, StatusModified, diff.Files[0].Status)
	assert.Equal(t, 1, diff.Files[0].Added)
	assert.Equal(t, 1, diff.Files[0].Removed)
	assert.Contains(t, diff.Files[0].Lines, DiffLine{Type: "add", Content: "echo 2;"})

	assert.Equal(t, "new.js", diff.Files[1].Path)
	assert.Equal(t, StatusAdded, diff.Files[1].Status)
	assert.Equal(t, "old.css", diff.Files[2].Path)
	assert.Equal(t, StatusRemoved, diff.Files[2].Status)

	assert.Equal(t, 2, diff.TotalAdded)
	assert.Equal(t, 2, diff.TotalRemoved)

	_, err = s.Diff(a.ID, "missing")
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestGormPersisterRoundTrip(t *testing.T) {
	db, err := OpenDatabase(filepath.Join(t.TempDir(), "versions.db"))
	require.NoError(t, err)
	p, err := NewGormPersister(db)
	require.NoError(t, err)

	s := NewStore("ws-1", WithPersister(p))
	s.Record("Before AI generation", nil, nil)
	failed := s.Record("Deployment failed", []workspace.File{workspace.NewFile("index.php", "<?php")},
		&diagnosis.Details{Type: diagnosis.KindSyntax, File: "index.php", Line: 1, Message: "unexpected end"})
	other := NewStore("ws-2", WithPersister(p))
	other.Record("other", nil, nil)
	s.Close()
	other.Close()

	reloaded := NewStore("ws-1", WithPersister(p))
	require.NoError(t, reloaded.Hydrate())

	list := reloaded.List()
	require.Len(t, list, 2)
	assert.Equal(t, "Before AI generation", list[0].Description)
	assert.Equal(t, failed.ID, list[1].ID)
	require.NotNil(t, list[1].Error)
	assert.Equal(t, diagnosis.KindSyntax, list[1].Error.Type)
	assert.Equal(t, "php", list[1].Files[0].Language)
}

func TestIsPostgresDSN(t *testing.T) {
	assert.True(t, isPostgresDSN("postgres://u:p@localhost/db"))
	assert.True(t, isPostgresDSN("host=localhost user=x dbname=y"))
	assert.False(t, isPostgresDSN("file:versions.db"))
	assert.False(t, isPostgresDSN("sqlite://versions.db"))
}
