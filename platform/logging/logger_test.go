package logging

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewParsesLevel(t *testing.T) {
	l := New("svc", "debug", "text")
	assert.Equal(t, "svc", l.service)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
}

func TestNewFallsBackOnBadLevel(t *testing.T) {
	l := New("svc", "not-a-level", "json")
	assert.NotNil(t, l)
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithTenant(ctx, "tenant-1")
	ctx = WithPrincipal(ctx, "root@antbox.io")

	assert.Equal(t, "trace-1", ctx.Value(TraceIDKey))
	assert.Equal(t, "tenant-1", ctx.Value(TenantKey))
	assert.Equal(t, "root@antbox.io", ctx.Value(PrincipalKey))
}

func TestNewTraceIDIsUnique(t *testing.T) {
	a := NewTraceID()
	b := NewTraceID()
	assert.NotEqual(t, a, b)
}

func TestDefaultLogger(t *testing.T) {
	defaultLogger = nil
	l := Default()
	assert.NotNil(t, l)
}
