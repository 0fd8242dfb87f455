package faculty

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/nadinespy/hpc-data-analysis/internal/aggregate"
)

type fakeBackend struct {
	units map[string]string
	err   error
	calls int
}

func (b *fakeBackend) Lookup(_ context.Context, username string) (string, error) {
	b.calls++
	if b.err != nil {
		return "", b.err
	}
	unit, ok := b.units[username]
	if !ok {
		return "", ErrNotFound
	}
	return unit, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var normTable = map[string]string{
	"Dept of Physics":   "Science",
	"Dept of History":   "Arts",
	"Dept of Chemistry": "Science",
}

func TestResolveCachesHits(t *testing.T) {
	backend := &fakeBackend{units: map[string]string{"alice": "Dept of Physics"}}
	r := NewResolver(backend, NewCache(), normTable, time.Second, discard())

	for i := 0; i < 3; i++ {
		fac, err := r.Resolve(context.Background(), "alice")
		assert.NilError(t, err)
		assert.Equal(t, fac, "Science")
	}
	assert.Equal(t, backend.calls, 1)
}

func TestResolveNotFoundIsPermanentUnknown(t *testing.T) {
	backend := &fakeBackend{units: map[string]string{}}
	r := NewResolver(backend, NewCache(), normTable, time.Second, discard())

	for i := 0; i < 5; i++ {
		fac, err := r.Resolve(context.Background(), "ghost")
		assert.NilError(t, err)
		assert.Equal(t, fac, aggregate.UnknownLabel)
	}
	// 查不到的用户同样缓存, 不对目录后端重试
	assert.Equal(t, backend.calls, 1)
}

func TestResolveUnmappedUnitIsUnknown(t *testing.T) {
	backend := &fakeBackend{units: map[string]string{"bob": "Facilities"}}
	r := NewResolver(backend, NewCache(), normTable, time.Second, discard())

	fac, err := r.Resolve(context.Background(), "bob")
	assert.NilError(t, err)
	assert.Equal(t, fac, aggregate.UnknownLabel)
}

func TestResolveEmptyTablePassesUnitThrough(t *testing.T) {
	backend := &fakeBackend{units: map[string]string{"bob": "Facilities"}}
	r := NewResolver(backend, NewCache(), nil, time.Second, discard())

	fac, err := r.Resolve(context.Background(), "bob")
	assert.NilError(t, err)
	assert.Equal(t, fac, "Facilities")
}

func TestResolveBackendUnavailableIsFatal(t *testing.T) {
	backend := &fakeBackend{err: ErrBackendUnavailable}
	r := NewResolver(backend, NewCache(), normTable, time.Second, discard())

	_, err := r.Resolve(context.Background(), "alice")
	assert.Assert(t, errors.Is(err, ErrBackendUnavailable))
}

func TestResolveUnexpectedBackendErrorIsUnavailable(t *testing.T) {
	backend := &fakeBackend{err: errors.New("network is unreachable")}
	r := NewResolver(backend, NewCache(), normTable, time.Second, discard())

	_, err := r.Resolve(context.Background(), "alice")
	assert.Assert(t, errors.Is(err, ErrBackendUnavailable))
}

type slowBackend struct{}

func (slowBackend) Lookup(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestResolveTimeoutIsUnavailable(t *testing.T) {
	r := NewResolver(slowBackend{}, NewCache(), normTable, 10*time.Millisecond, discard())

	_, err := r.Resolve(context.Background(), "alice")
	assert.Assert(t, errors.Is(err, ErrBackendUnavailable))
}

func TestCacheDiagnostics(t *testing.T) {
	backend := &fakeBackend{units: map[string]string{"alice": "Dept of Physics"}}
	cache := NewCache()
	r := NewResolver(backend, cache, normTable, time.Second, discard())

	_, err := r.Resolve(context.Background(), "alice")
	assert.NilError(t, err)
	_, err = r.Resolve(context.Background(), "ghost")
	assert.NilError(t, err)

	assert.Equal(t, cache.Len(), 2)
	assert.Equal(t, cache.UnknownCount(), 1)
}
