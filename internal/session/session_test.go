package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestFileStore_RoundTripFiltersExpiredOnLoad(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store, err := NewFileStore(FileConfig{Dir: t.TempDir(), TTL: 48 * time.Hour}, clock, zap.NewNop())
	require.NoError(t, err)

	cookies := []crawler.Cookie{
		{Name: "sid", Value: "abc", Domain: ".example.ca", Path: "/"},
		{Name: "short", Value: "x", Domain: ".example.ca", Path: "/", Expires: clock.Now().Add(time.Hour)},
		{Name: "stale", Value: "y", Domain: ".example.ca", Path: "/", Expires: clock.Now().Add(-time.Hour)},
	}
	require.NoError(t, store.Save(context.Background(), "www.example.ca", cookies))

	loaded := store.Load(context.Background(), "www.example.ca")
	require.Len(t, loaded, 2, "expired cookie filtered at load")

	clock.Advance(2 * time.Hour)
	loaded = store.Load(context.Background(), "www.example.ca")
	require.Len(t, loaded, 1)
	require.Equal(t, "sid", loaded[0].Name)

	clock.Advance(48 * time.Hour)
	require.Empty(t, store.Load(context.Background(), "www.example.ca"), "session past expiresAt dropped")
}

func TestFileStore_SaveKeepsExpiredCookies(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	dir := t.TempDir()
	store, err := NewFileStore(FileConfig{Dir: dir}, clock, nil)
	require.NoError(t, err)

	stale := crawler.Cookie{Name: "stale", Value: "y", Expires: clock.Now().Add(-time.Minute)}
	require.NoError(t, store.Save(context.Background(), "example.ca", []crawler.Cookie{stale}))

	data, err := os.ReadFile(filepath.Join(dir, "example.ca.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"stale"`)
}

func TestFileStore_MissingAndCorruptReturnEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewFileStore(FileConfig{Dir: dir}, nil, zap.NewNop())
	require.NoError(t, err)

	require.NotNil(t, store.Load(context.Background(), "nowhere.example"))
	require.Empty(t, store.Load(context.Background(), "nowhere.example"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.example.json"), []byte("{not json"), 0o600))
	require.Empty(t, store.Load(context.Background(), "broken.example"))
	require.Empty(t, store.Load(context.Background(), ""))
}

func TestFileStore_RequiresDir(t *testing.T) {
	t.Parallel()

	_, err := NewFileStore(FileConfig{}, nil, nil)
	require.Error(t, err)
}

func TestDomainKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.ca", domainKey(" .Example.CA "))
	require.Equal(t, "a_b.example", domainKey("a/b.example"))
	require.Equal(t, "etc_passwd", domainKey("../etc/passwd"))
}

type fakeRedis struct {
	mu     sync.Mutex
	data   map[string]string
	ttls   map[string]time.Duration
	getErr error
	setErr error
	closed bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	val, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(val, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisStore_SaveAndLoad(t *testing.T) {
	t.Parallel()

	client := newFakeRedis()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	store := NewRedisStoreWithClient(client, RedisConfig{KeyPrefix: "test:", TTL: time.Hour}, clock, zap.NewNop())

	cookies := []crawler.Cookie{
		{Name: "sid", Value: "1"},
		{Name: "gone", Value: "2", Expires: clock.Now().Add(-time.Second)},
	}
	require.NoError(t, store.Save(context.Background(), "Example.ca", cookies))
	require.Equal(t, time.Hour, client.ttls["test:example.ca"])

	loaded := store.Load(context.Background(), "example.ca")
	require.Len(t, loaded, 1)
	require.Equal(t, "sid", loaded[0].Name)

	require.NoError(t, store.Close())
	require.True(t, client.closed)
}

func TestRedisStore_FailuresYieldEmpty(t *testing.T) {
	t.Parallel()

	client := newFakeRedis()
	store := NewRedisStoreWithClient(client, RedisConfig{}, nil, nil)

	require.Empty(t, store.Load(context.Background(), "missing.example"))

	client.data[DefaultKeyPrefix+"corrupt.example"] = "{{"
	require.Empty(t, store.Load(context.Background(), "corrupt.example"))

	client.getErr = errors.New("connection refused")
	require.Empty(t, store.Load(context.Background(), "any.example"))

	client.setErr = errors.New("readonly")
	require.Error(t, store.Save(context.Background(), "any.example", nil))
}

func TestNoop(t *testing.T) {
	t.Parallel()

	var store crawler.SessionStore = Noop{}
	require.NoError(t, store.Save(context.Background(), "x", []crawler.Cookie{{Name: "a"}}))
	require.Empty(t, store.Load(context.Background(), "x"))
}

func TestMergeKeepsLongestLivedCookie(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	search := []crawler.Cookie{
		{Name: "CTK", Value: "search", Domain: ".example.ca", Path: "/", Expires: now.Add(48 * time.Hour)},
		{Name: "JSESSIONID", Value: "s1", Domain: "www.example.ca", Path: "/"},
		{Name: "pref", Value: "dark", Domain: "example.ca", Path: "/", Expires: now.Add(time.Hour)},
	}
	resolve := []crawler.Cookie{
		{Name: "CTK", Value: "resolve", Domain: "example.ca", Path: "/", Expires: now.Add(time.Hour)},
		{Name: "JSESSIONID", Value: "s2", Domain: "www.example.ca", Path: "/"},
		{Name: "pref", Value: "session", Domain: "example.ca", Path: "/"},
		{Name: "indeed_rcc", Value: "x", Domain: "example.ca", Path: "/"},
	}

	merged := Merge(search, resolve)
	byName := map[string]string{}
	for _, c := range merged {
		byName[c.Name] = c.Value
	}
	require.Len(t, merged, 4)
	require.Equal(t, "search", byName["CTK"], "later expiry wins")
	require.Equal(t, "s2", byName["JSESSIONID"], "tie goes to the later jar")
	require.Equal(t, "session", byName["pref"], "session cookie outranks dated")
	require.Equal(t, "x", byName["indeed_rcc"])

	require.NotNil(t, Merge())
	require.Empty(t, Merge(nil, nil))
}
