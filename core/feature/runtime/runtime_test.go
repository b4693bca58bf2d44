package runtime

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	antboxerrors "github.com/kindalus/antbox-sub000/platform/errors"
)

func TestExecuteReturnsRunResult(t *testing.T) {
	e := New()
	src := `module.exports.default = function(context, args) { return { echoed: args.uuids }; };`
	key := CacheKey{UUID: "feat-1", ModifiedTime: time.Unix(1, 0)}

	res, err := e.Execute(context.Background(), key, src, map[string]any{"email": "root@antbox.io"}, nil, map[string]any{"uuids": []any{"n1"}})
	require.NoError(t, err)

	out, ok := res.Value.(map[string]any)
	require.True(t, ok)
	assert.NotNil(t, out["echoed"])
}

func TestExecuteCapturesConsoleLogs(t *testing.T) {
	e := New()
	src := `module.exports.default = function(context, args) { console.log("hi", 1); return null; };`
	key := CacheKey{UUID: "feat-2", ModifiedTime: time.Unix(1, 0)}

	res, err := e.Execute(context.Background(), key, src, nil, nil, map[string]any{})
	require.NoError(t, err)
	require.Len(t, res.Logs, 1)
	assert.Contains(t, res.Logs[0], "hi")
}

func TestExecuteResolvesPromise(t *testing.T) {
	e := New()
	src := `module.exports.default = function(context, args) { return Promise.resolve({ ok: true }); };`
	key := CacheKey{UUID: "feat-3", ModifiedTime: time.Unix(1, 0)}

	res, err := e.Execute(context.Background(), key, src, nil, nil, map[string]any{})
	require.NoError(t, err)
	out := res.Value.(map[string]any)
	assert.Equal(t, true, out["ok"])
}

func TestExecuteMissingRunExportFails(t *testing.T) {
	e := New()
	src := `module.exports.notRun = 1;`
	key := CacheKey{UUID: "feat-4", ModifiedTime: time.Unix(1, 0)}

	_, err := e.Execute(context.Background(), key, src, nil, nil, map[string]any{})
	require.Error(t, err)
}

func TestExecuteThrownExceptionBecomesUnknown(t *testing.T) {
	e := New()
	src := `module.exports.default = function() { throw new Error("boom"); };`
	key := CacheKey{UUID: "feat-5", ModifiedTime: time.Unix(1, 0)}

	_, err := e.Execute(context.Background(), key, src, nil, nil, map[string]any{})
	require.Error(t, err)
	assert.True(t, antboxerrors.Is(err, antboxerrors.CodeUnknown))
}

func TestExecuteCachesCompiledModule(t *testing.T) {
	e := New()
	src := `module.exports.default = function() { return 1; };`
	key := CacheKey{UUID: "feat-6", ModifiedTime: time.Unix(1, 0)}

	_, err := e.Execute(context.Background(), key, src, nil, nil, map[string]any{})
	require.NoError(t, err)
	assert.Len(t, e.cache, 1)

	_, err = e.Execute(context.Background(), key, src, nil, nil, map[string]any{})
	require.NoError(t, err)
	assert.Len(t, e.cache, 1)
}

func TestExecuteRespectsContextCancellation(t *testing.T) {
	e := New()
	src := `module.exports.default = function() { while (true) {} };`
	key := CacheKey{UUID: "feat-7", ModifiedTime: time.Unix(1, 0)}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Execute(ctx, key, src, nil, nil, map[string]any{})
	require.Error(t, err)
}

func TestParseModuleConfigReturnsExportedConfig(t *testing.T) {
	src := `module.exports.config = { uuid: "feat-9", title: "Tracker", exposeAction: true, parameters: [{ name: "uuids", type: "array", required: true }] };
module.exports.default = function() { return null; };`

	cfg, err := ParseModuleConfig(src)
	require.NoError(t, err)
	assert.Equal(t, "feat-9", cfg["uuid"])
	assert.Equal(t, true, cfg["exposeAction"])
}

func TestParseModuleConfigMissingConfigFails(t *testing.T) {
	src := `module.exports.default = function() { return null; };`
	_, err := ParseModuleConfig(src)
	assert.Error(t, err)
}

func TestInvalidateDropsCacheEntry(t *testing.T) {
	e := New()
	src := `module.exports.default = function() { return 1; };`
	key := CacheKey{UUID: "feat-8", ModifiedTime: time.Unix(1, 0)}
	_, err := e.Execute(context.Background(), key, src, nil, nil, map[string]any{})
	require.NoError(t, err)

	e.Invalidate("feat-8")
	assert.Len(t, e.cache, 0)
}

func TestCacheEvictsLeastRecentlyUsedOverCapacity(t *testing.T) {
	e := New(WithMaxCacheEntries(2))
	src := `module.exports.default = function() { return 1; };`

	for i := 0; i < 3; i++ {
		key := CacheKey{UUID: fmt.Sprintf("feat-%d", i), ModifiedTime: time.Unix(1, 0)}
		_, err := e.Execute(context.Background(), key, src, nil, nil, map[string]any{})
		require.NoError(t, err)
	}

	assert.Len(t, e.cache, 2)
	_, stillCached := e.cache[CacheKey{UUID: "feat-0", ModifiedTime: time.Unix(1, 0)}]
	assert.False(t, stillCached, "oldest entry must be evicted once capacity is exceeded")
}

func TestCacheTTLExpiresCompiledModule(t *testing.T) {
	e := New(WithCacheTTL(time.Minute))
	fakeNow := time.Now()
	e.now = func() time.Time { return fakeNow }

	src := `module.exports.default = function() { return 1; };`
	key := CacheKey{UUID: "feat-ttl", ModifiedTime: time.Unix(1, 0)}

	_, err := e.Execute(context.Background(), key, src, nil, nil, map[string]any{})
	require.NoError(t, err)
	firstEntry := e.cache[key]

	fakeNow = fakeNow.Add(2 * time.Minute)
	_, err = e.Execute(context.Background(), key, src, nil, nil, map[string]any{})
	require.NoError(t, err)
	assert.NotSame(t, firstEntry, e.cache[key], "expired entry must be recompiled, not reused")
}
