// Package runtime executes Antbox Feature modules inside an embedded,
// pure-Go JavaScript runtime (goja), per the dynamic module loading
// strategy in spec.md §9: the module field is source text compiled at
// install time, and the only contract downstream code depends on is the
// default export's run(context, args) function.
package runtime

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	antboxerrors "github.com/kindalus/antbox-sub000/platform/errors"
)

// CacheKey identifies a compiled module. The engine may cache compiled
// modules keyed by (uuid, modifiedTime) per spec.md §4.5.
type CacheKey struct {
	UUID         string
	ModifiedTime time.Time
}

// defaultMaxCacheEntries bounds the compiled-module cache so a tenant that
// churns through thousands of features over time doesn't grow it unbounded;
// entries are evicted least-recently-used.
const defaultMaxCacheEntries = 256

type cacheEntry struct {
	key        CacheKey
	program    *goja.Program
	compiledAt time.Time
	elem       *list.Element
}

// Engine compiles and executes Feature module source.
type Engine struct {
	mu         sync.Mutex
	cache      map[CacheKey]*cacheEntry
	lru        *list.List // front = most recently used CacheKey
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithCacheTTL expires a compiled module after d has elapsed since it was
// compiled, e.g. from a tenant's config.TenantConfig.FeatureCacheTTL. Zero
// (the default) means compiled modules never expire on their own, only on
// explicit Invalidate or LRU eviction.
func WithCacheTTL(d time.Duration) Option {
	return func(e *Engine) { e.ttl = d }
}

// WithMaxCacheEntries overrides the LRU eviction bound.
func WithMaxCacheEntries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxEntries = n
		}
	}
}

// New builds an empty Engine, overridable per tenant via Option.
func New(opts ...Option) *Engine {
	e := &Engine{
		cache:      make(map[CacheKey]*cacheEntry),
		lru:        list.New(),
		maxEntries: defaultMaxCacheEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) compile(key CacheKey, source string) (*goja.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if entry, ok := e.cache[key]; ok {
		if e.ttl <= 0 || e.now().Sub(entry.compiledAt) < e.ttl {
			e.lru.MoveToFront(entry.elem)
			return entry.program, nil
		}
		e.evictLocked(key)
	}

	wrapped := fmt.Sprintf(`(function() {
	var module = { exports: {} };
	var exports = module.exports;
	%s
	return module.exports;
})()`, source)

	prog, err := goja.Compile(key.UUID, wrapped, false)
	if err != nil {
		return nil, antboxerrors.BadRequest("module compile error: " + err.Error())
	}

	entry := &cacheEntry{key: key, program: prog, compiledAt: e.now()}
	entry.elem = e.lru.PushFront(key)
	e.cache[key] = entry

	for e.lru.Len() > e.maxEntries {
		oldest := e.lru.Back()
		if oldest == nil {
			break
		}
		e.evictLocked(oldest.Value.(CacheKey))
	}

	return prog, nil
}

// evictLocked removes key's cache entry. Callers must hold e.mu.
func (e *Engine) evictLocked(key CacheKey) {
	entry, ok := e.cache[key]
	if !ok {
		return
	}
	e.lru.Remove(entry.elem)
	delete(e.cache, key)
}

// Invalidate drops any cached compilation for uuid, e.g. after createOrReplace.
func (e *Engine) Invalidate(uuid string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range e.cache {
		if k.UUID == uuid {
			e.evictLocked(k)
		}
	}
}

// Result is the outcome of a single module invocation.
type Result struct {
	Value any
	Logs  []string
}

// Execute loads (compiling and caching as needed) the module identified by
// key, then invokes its default export's run(context, args) with context =
// {principal, nodeService}. context.Context cancellation interrupts the
// runtime mid-execution, mirroring the teacher's ctx.Done()/rt.Interrupt
// wiring.
func (e *Engine) Execute(ctx context.Context, key CacheKey, source string, principal map[string]any, nodeService any, args map[string]any) (Result, error) {
	prog, err := e.compile(key, source)
	if err != nil {
		return Result{}, err
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	var logs []string
	if err := attachConsole(vm, &logs); err != nil {
		return Result{}, antboxerrors.Unknown(err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-stop:
		}
	}()

	exportsVal, err := vm.RunProgram(prog)
	if err != nil {
		return Result{Logs: logs}, runtimeError(err, ctx, "load module")
	}

	runFn, err := findRunFunction(vm, exportsVal)
	if err != nil {
		return Result{Logs: logs}, err
	}

	contextObj := vm.NewObject()
	_ = contextObj.Set("principal", principal)
	_ = contextObj.Set("nodeService", nodeService)

	result, err := runFn(goja.Undefined(), contextObj, vm.ToValue(args))
	if err != nil {
		return Result{Logs: logs}, runtimeError(err, ctx, "execute run")
	}

	result, err = resolveValue(ctx, result)
	if err != nil {
		return Result{Logs: logs}, runtimeError(err, ctx, "await run result")
	}

	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return Result{Logs: logs}, nil
	}
	return Result{Value: result.Export(), Logs: logs}, nil
}

// ParseModuleConfig compiles source fresh (uncached, since createOrReplace
// is an infrequent admin-only call) and returns the module's exported
// `config` object as a plain map, per spec.md §4.5's "materializing the
// source and reading the default export" loading strategy applied to the
// metadata half of a Feature module.
func ParseModuleConfig(source string) (map[string]any, error) {
	wrapped := fmt.Sprintf(`(function() {
	var module = { exports: {} };
	var exports = module.exports;
	%s
	return module.exports;
})()`, source)

	vm := goja.New()
	prog, err := goja.Compile("feature-config", wrapped, false)
	if err != nil {
		return nil, antboxerrors.BadRequest("module compile error: " + err.Error())
	}
	exportsVal, err := vm.RunProgram(prog)
	if err != nil {
		return nil, antboxerrors.BadRequest("module load error: " + err.Error())
	}

	obj := exportsVal.ToObject(vm)
	if obj == nil {
		return nil, antboxerrors.BadRequest("module does not export an object")
	}
	cfgVal := obj.Get("config")
	if cfgVal == nil || goja.IsUndefined(cfgVal) {
		return nil, antboxerrors.BadRequest("module does not export a config object")
	}
	cfg, ok := cfgVal.Export().(map[string]any)
	if !ok {
		return nil, antboxerrors.BadRequest("module config export must be an object")
	}
	return cfg, nil
}

func findRunFunction(vm *goja.Runtime, exportsVal goja.Value) (goja.Callable, error) {
	obj := exportsVal.ToObject(vm)
	if obj == nil {
		return nil, antboxerrors.BadRequest("module does not export an object")
	}
	candidate := obj.Get("default")
	if candidate == nil || goja.IsUndefined(candidate) {
		candidate = obj.Get("run")
	}
	fn, ok := goja.AssertFunction(candidate)
	if !ok {
		return nil, antboxerrors.BadRequest("module has no run(context, args) default export")
	}
	return fn, nil
}

func attachConsole(vm *goja.Runtime, logs *[]string) error {
	console := vm.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = a.Export()
		}
		*logs = append(*logs, fmt.Sprint(args...))
		return goja.Undefined()
	}
	if err := console.Set("log", logFn); err != nil {
		return err
	}
	if err := console.Set("info", logFn); err != nil {
		return err
	}
	if err := console.Set("warn", logFn); err != nil {
		return err
	}
	if err := console.Set("error", logFn); err != nil {
		return err
	}
	return vm.Set("console", console)
}

func exportedPromise(val goja.Value) (*goja.Promise, bool) {
	exported := val.Export()
	if exported == nil {
		return nil, false
	}
	promise, ok := exported.(*goja.Promise)
	return promise, ok
}

func resolveValue(ctx context.Context, val goja.Value) (goja.Value, error) {
	if promise, ok := exportedPromise(val); ok {
		switch promise.State() {
		case goja.PromiseStateFulfilled:
			return promise.Result(), nil
		case goja.PromiseStateRejected:
			return nil, promiseRejectionError(promise.Result())
		case goja.PromiseStatePending:
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, errors.New("run() returned a promise that did not settle")
		}
	}
	return val, nil
}

func promiseRejectionError(reason goja.Value) error {
	if reason == nil {
		return errors.New("promise rejected")
	}
	return fmt.Errorf("promise rejected: %v", reason.Export())
}

func runtimeError(err error, ctx context.Context, when string) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return antboxerrors.Unknown(fmt.Errorf("%s: %w", when, ctxErr))
	}
	switch typed := err.(type) {
	case *goja.InterruptedError:
		if val := typed.Value(); val != nil {
			if inner, ok := val.(error); ok {
				return antboxerrors.Unknown(fmt.Errorf("%s: %w", when, inner))
			}
			return antboxerrors.Unknown(fmt.Errorf("%s: %v", when, val))
		}
		return antboxerrors.Unknown(fmt.Errorf("%s: interrupted", when))
	case *goja.Exception:
		if code := extractErrorCode(typed); code != "" {
			return antboxerrors.New(antboxerrors.Code(code), typed.Error(), 500)
		}
		return antboxerrors.Unknown(fmt.Errorf("%s: %s", when, typed.Error()))
	default:
		return antboxerrors.Unknown(fmt.Errorf("%s: %w", when, err))
	}
}

// extractErrorCode looks for a stable `code` property on a thrown JS Error
// object, letting feature code present an explicit error code instead of
// being mapped to Unknown, per spec.md §4.5/§7.
func extractErrorCode(exc *goja.Exception) string {
	val := exc.Value()
	if val == nil {
		return ""
	}
	obj, ok := val.Export().(map[string]any)
	if !ok {
		return ""
	}
	code, _ := obj["code"].(string)
	return code
}
