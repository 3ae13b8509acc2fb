package credential

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	valid bool
	err   error
	calls int
}

func (f *fakeChecker) CheckSession(_ context.Context, _ string) (bool, error) {
	f.calls++
	return f.valid, f.err
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func newTestStore(t *testing.T, checker Checker) (*Store, *MemoryStorage, *fixedClock) {
	t.Helper()
	storage := NewMemoryStorage()
	clock := &fixedClock{now: time.UnixMilli(1_700_000_000_000)}
	return NewStore(storage, checker, DefaultConfig(), WithClock(clock.Now)), storage, clock
}

func record(key []byte, uuid string, createdAt int64) string {
	return fmt.Sprintf(`{"key":%q,"uuid":%q,"createdAt":%d}`, base64.StdEncoding.EncodeToString(key), uuid, createdAt)
}

func TestLoadAbsent(t *testing.T) {
	store, _, _ := newTestStore(t, &fakeChecker{valid: true})

	cred, state := store.Load(context.Background())
	assert.Nil(t, cred)
	assert.Equal(t, Absent, state)
}

func TestSaveThenLoad(t *testing.T) {
	store, storage, clock := newTestStore(t, &fakeChecker{valid: true})
	ctx := context.Background()

	key := bytes.Repeat([]byte{0x42}, KeySize)
	saved, err := store.Save(ctx, key, "6f1c0a52-0f54-4a55-9d3c-2a8ff1d0c8aa")
	require.NoError(t, err)
	assert.Equal(t, clock.now, saved.CreatedAt)

	raw, ok, err := storage.Get(ctx, DefaultStorageKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, record(key, "6f1c0a52-0f54-4a55-9d3c-2a8ff1d0c8aa", clock.now.UnixMilli()), raw)

	cred, state := store.Load(ctx)
	require.Equal(t, Cached, state)
	assert.Equal(t, key, cred.Key)
	assert.Equal(t, saved.SessionID, cred.SessionID)
	assert.True(t, cred.CreatedAt.Equal(saved.CreatedAt))
}

func TestPartialRecordsAreAbsent(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, KeySize))
	short := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})

	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "{"},
		{"empty object", "{}"},
		{"key only", fmt.Sprintf(`{"key":%q}`, key)},
		{"missing uuid", fmt.Sprintf(`{"key":%q,"createdAt":1}`, key)},
		{"missing createdAt", fmt.Sprintf(`{"key":%q,"uuid":"abc"}`, key)},
		{"missing key", `{"uuid":"abc","createdAt":1}`},
		{"empty uuid", fmt.Sprintf(`{"key":%q,"uuid":"","createdAt":1}`, key)},
		{"bad base64", `{"key":"!!!","uuid":"abc","createdAt":1}`},
		{"short key", fmt.Sprintf(`{"key":%q,"uuid":"abc","createdAt":1}`, short)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, storage, _ := newTestStore(t, &fakeChecker{valid: true})
			require.NoError(t, storage.Set(context.Background(), DefaultStorageKey, tt.raw))

			cred, state := store.Load(context.Background())
			assert.Nil(t, cred)
			assert.Equal(t, Absent, state)
		})
	}
}

func TestRevalidate(t *testing.T) {
	key := bytes.Repeat([]byte{9}, KeySize)

	tests := []struct {
		name      string
		age       time.Duration
		checker   *fakeChecker
		want      State
		wantCalls int
	}{
		{"fresh and valid", time.Hour, &fakeChecker{valid: true}, Valid, 1},
		{"exactly max age", DefaultMaxValid, &fakeChecker{valid: true}, Valid, 1},
		{"expired by one millisecond", DefaultMaxValid + time.Millisecond, &fakeChecker{valid: true}, Invalid, 0},
		{"server says invalid", time.Hour, &fakeChecker{valid: false}, Invalid, 1},
		{"check fails", time.Hour, &fakeChecker{err: errors.New("connection refused")}, Invalid, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, storage, clock := newTestStore(t, tt.checker)
			ctx := context.Background()
			created := clock.now.Add(-tt.age).UnixMilli()
			require.NoError(t, storage.Set(ctx, DefaultStorageKey, record(key, "session-1", created)))

			cred, state := store.Current(ctx)
			assert.Equal(t, tt.want, state)
			assert.Equal(t, tt.wantCalls, tt.checker.calls)
			if tt.want == Valid {
				require.NotNil(t, cred)
				assert.Equal(t, "session-1", cred.SessionID)
			} else {
				assert.Nil(t, cred)
			}
		})
	}
}

func TestRevalidateWithoutChecker(t *testing.T) {
	store := NewStore(NewMemoryStorage(), nil, DefaultConfig())
	cred := &Credential{Key: make([]byte, KeySize), SessionID: "s", CreatedAt: time.Now()}
	assert.Equal(t, Invalid, store.Revalidate(context.Background(), cred))
	assert.Equal(t, Absent, store.Revalidate(context.Background(), nil))
}

func TestSaveValidates(t *testing.T) {
	store, _, _ := newTestStore(t, nil)

	_, err := store.Save(context.Background(), []byte{1, 2}, "s")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = store.Save(context.Background(), make([]byte, KeySize), " ")
	assert.ErrorIs(t, err, ErrMissingSession)
}

func TestNewKeyIsRandom(t *testing.T) {
	store, _, _ := newTestStore(t, nil)

	a, err := store.NewKey()
	require.NoError(t, err)
	b, err := store.NewKey()
	require.NoError(t, err)

	assert.Len(t, a, KeySize)
	assert.NotEqual(t, a, b)
}

func TestCustomStorageKey(t *testing.T) {
	storage := NewMemoryStorage()
	store := NewStore(storage, nil, Config{StorageKey: "spiralBalancesKey"})

	_, err := store.Save(context.Background(), make([]byte, KeySize), "s")
	require.NoError(t, err)

	_, ok, _ := storage.Get(context.Background(), "spiralBalancesKey")
	assert.True(t, ok)
	_, ok, _ = storage.Get(context.Background(), DefaultStorageKey)
	assert.False(t, ok)
}

// --- Storage backends ---

func exerciseStorage(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "a", "1"))
	require.NoError(t, s.Set(ctx, "pir-secret:00ff", "2"))
	require.NoError(t, s.Set(ctx, "a", "3"))

	v, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	v, ok, err = s.Get(ctx, "pir-secret:00ff")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestMemoryStorage(t *testing.T) {
	exerciseStorage(t, NewMemoryStorage())
}

func TestFileStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credential.json")
	s, err := NewFileStorage(path)
	require.NoError(t, err)
	exerciseStorage(t, s)

	// A second handle sees the same data.
	again, err := NewFileStorage(path)
	require.NoError(t, err)
	v, ok, err := again.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3", v)
}

func TestFileStorageWithPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.sealed")
	s, err := NewFileStorage(path, WithPassphrase("hunter2"))
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), "k", "secret"))

	wrong, err := NewFileStorage(path, WithPassphrase("hunter3"))
	require.NoError(t, err)
	_, _, err = wrong.Get(context.Background(), "k")
	assert.Error(t, err)

	// A store on top of an unreadable file reports Absent.
	store := NewStore(wrong, nil, Config{StorageKey: "k"})
	_, state := store.Load(context.Background())
	assert.Equal(t, Absent, state)

	// Writes through the wrong passphrase fail and leave the file alone.
	assert.Error(t, wrong.Set(context.Background(), "k2", "other"))
	_, err = store.Save(context.Background(), bytes.Repeat([]byte{1}, KeySize), "6f1c0a52-0f54-4a55-9d3c-2a8ff1d0c8aa")
	assert.Error(t, err)

	right, err := NewFileStorage(path, WithPassphrase("hunter2"))
	require.NoError(t, err)
	v, ok, err := right.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "secret", v)
}

func TestLevelDBStorage(t *testing.T) {
	s, err := NewLevelDBStorage(filepath.Join(t.TempDir(), "db"), "credential/")
	require.NoError(t, err)
	defer s.Close()
	exerciseStorage(t, s)
}

func TestStoreOverLevelDB(t *testing.T) {
	s, err := NewLevelDBStorage(filepath.Join(t.TempDir(), "db"), "")
	require.NoError(t, err)
	defer s.Close()

	checker := &fakeChecker{valid: true}
	store := NewStore(s, checker, DefaultConfig())
	ctx := context.Background()

	key, err := store.NewKey()
	require.NoError(t, err)
	_, err = store.Save(ctx, key, "session-xyz")
	require.NoError(t, err)

	cred, state := store.Current(ctx)
	require.Equal(t, Valid, state)
	assert.Equal(t, key, cred.Key)
}
