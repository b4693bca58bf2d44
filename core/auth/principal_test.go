package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrincipalIsAdmin(t *testing.T) {
	assert.True(t, Root().IsAdmin())
	assert.True(t, Principal{Email: "editor@antbox.io", Groups: []string{AdminsGroup}}.IsAdmin())
	assert.False(t, Principal{Email: "editor@antbox.io"}.IsAdmin())
}

func TestPrincipalAnonymous(t *testing.T) {
	assert.True(t, Anonymous().IsAnonymous())
	assert.False(t, Root().IsAnonymous())
}

func TestWithGroupDedups(t *testing.T) {
	p := Principal{Email: "u@antbox.io", Groups: []string{"g1"}}
	p2 := p.WithGroup("g1")
	assert.Equal(t, []string{"g1"}, p2.Groups)

	p3 := p.WithGroup("g2")
	assert.Equal(t, []string{"g1", "g2"}, p3.Groups)
	assert.Equal(t, []string{"g1"}, p.Groups, "original must not mutate")
}

func TestElevatedContext(t *testing.T) {
	ac := Elevated("tenant-a")
	assert.True(t, ac.Principal.IsRoot())
	assert.Equal(t, ModeAction, ac.Mode)
	assert.Equal(t, "tenant-a", ac.Tenant)
}

func TestContextRoundTrip(t *testing.T) {
	ac := Direct(Principal{Email: "e@antbox.io"}, "t1")
	ctx := WithContext(context.Background(), ac)
	got := FromContext(ctx)
	assert.Equal(t, ac, got)
}

func TestFromContextDefaultsAnonymous(t *testing.T) {
	got := FromContext(context.Background())
	assert.True(t, got.Principal.IsAnonymous())
	assert.Equal(t, ModeDirect, got.Mode)
}

func TestAsModeAndWithGroup(t *testing.T) {
	ac := Direct(Principal{Email: "e@antbox.io"}, "t1")
	elevated := ac.AsMode(ModeAction).WithGroup("eng")
	assert.Equal(t, ModeAction, elevated.Mode)
	assert.True(t, elevated.Principal.InGroup("eng"))
	assert.Equal(t, ModeDirect, ac.Mode, "original unchanged")
}
