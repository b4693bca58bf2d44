package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindalus/antbox-sub000/core/auth"
)

func adminCtx() context.Context {
	return auth.WithContext(context.Background(), auth.Elevated("t1"))
}

func TestNewUserServiceSeedsBuiltins(t *testing.T) {
	svc := NewUserService(NewMemoryConfigRepository[User]())
	u, err := svc.Get(context.Background(), auth.RootEmail)
	require.NoError(t, err)
	assert.Equal(t, auth.AdminsGroup, u.Group)
}

func TestUserServiceCreateRequiresAdmin(t *testing.T) {
	svc := NewUserService(NewMemoryConfigRepository[User]())
	editorCtx := auth.WithContext(context.Background(), auth.Direct(auth.Principal{Email: "e@antbox.io"}, "t1"))
	_, err := svc.Create(editorCtx, User{Email: "new@antbox.io"})
	require.Error(t, err)
}

func TestUserServiceCreateAsAdmin(t *testing.T) {
	svc := NewUserService(NewMemoryConfigRepository[User]())
	u, err := svc.Create(adminCtx(), User{Email: "new@antbox.io", Name: "New"})
	require.NoError(t, err)
	assert.Equal(t, "new@antbox.io", u.Email)
}

func TestUserServiceBuiltinCannotBeDeleted(t *testing.T) {
	svc := NewUserService(NewMemoryConfigRepository[User]())
	err := svc.Delete(adminCtx(), auth.RootEmail)
	require.Error(t, err)
}

func TestUserServiceSelfUpdateAllowed(t *testing.T) {
	repo := NewMemoryConfigRepository[User]()
	svc := NewUserService(repo)
	_, err := svc.Create(adminCtx(), User{Email: "self@antbox.io"})
	require.NoError(t, err)

	selfCtx := auth.WithContext(context.Background(), auth.Direct(auth.Principal{Email: "self@antbox.io"}, "t1"))
	u, err := svc.Update(selfCtx, "self@antbox.io", "Self Updated", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Self Updated", u.Name)
}

func TestGroupServiceSeedsBuiltins(t *testing.T) {
	svc := NewGroupService(NewMemoryConfigRepository[Group]())
	g, err := svc.Get(context.Background(), auth.AdminsGroup)
	require.NoError(t, err)
	assert.Equal(t, "Admins", g.Title)
}

func TestGroupServiceBuiltinCannotBeDeleted(t *testing.T) {
	svc := NewGroupService(NewMemoryConfigRepository[Group]())
	err := svc.Delete(adminCtx(), auth.AdminsGroup)
	require.Error(t, err)
}
