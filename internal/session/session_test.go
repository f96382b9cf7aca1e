package session

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var idPattern = regexp.MustCompile(`^sess_[0-9a-f]{12}$`)

func TestNewIDFormat(t *testing.T) {
	a, b := NewID(), NewID()

	assert.Regexp(t, idPattern, a)
	assert.NotEqual(t, a, b)
}

func TestManagerReusesID(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	first, err := m.ID(ctx, "browser-1")
	require.NoError(t, err)
	second, err := m.ID(ctx, "browser-1")
	require.NoError(t, err)
	other, err := m.ID(ctx, "browser-2")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
}

func TestManagerConcurrentFirstUse(t *testing.T) {
	m := NewManager(nil)
	ids := make([]string, 16)

	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], _ = m.ID(context.Background(), "shared")
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestManagerRejectsEmptyKey(t *testing.T) {
	_, err := NewManager(nil).ID(context.Background(), " ")

	assert.ErrorIs(t, err, ErrEmptyClientKey)
}

type brokenStore struct{ calls int }

func (b *brokenStore) LoadOrStore(context.Context, string, string) (string, error) {
	b.calls++
	return "", errors.New("connection refused")
}

func TestManagerFallsBackToMemory(t *testing.T) {
	store := &brokenStore{}
	m := NewManager(store)

	first, err := m.ID(context.Background(), "k")
	require.NoError(t, err)
	second, err := m.ID(context.Background(), "k")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, store.calls)
}

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "vibephp:session:abc", redisKey("abc"))
}

func TestNewRedisStoreInvalidURL(t *testing.T) {
	_, err := NewRedisStore("not-a-url", 0)

	assert.Error(t, err)
}
