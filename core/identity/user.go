package identity

import (
	"context"

	"github.com/kindalus/antbox-sub000/core/auth"
	antboxerrors "github.com/kindalus/antbox-sub000/platform/errors"
)

// User is an identity record keyed by email.
type User struct {
	Email  string   `json:"email"`
	Name   string   `json:"name"`
	Group  string   `json:"group"`
	Groups []string `json:"groups,omitempty"`
	Secret string   `json:"-"`
}

// Group is an identity record keyed by uuid.
type Group struct {
	UUID  string `json:"uuid"`
	Title string `json:"title"`
}

// builtinUsers returns the four builtin identities that are always present
// in every tenant and may never be created, updated, or deleted.
func builtinUsers() []User {
	return []User{
		{Email: auth.RootEmail, Name: "root", Group: auth.AdminsGroup},
		{Email: auth.AnonymousEmail, Name: "anonymous", Group: auth.AnonymousGroup},
		{Email: auth.LockSystemEmail, Name: "lock-system", Group: auth.AdminsGroup},
		{Email: auth.WorkflowInstanceEmail, Name: "workflow-instance", Group: auth.AdminsGroup},
	}
}

// builtinGroups returns the two builtin groups that are always present and
// immutable.
func builtinGroups() []Group {
	return []Group{
		{UUID: auth.AdminsGroup, Title: "Admins"},
		{UUID: auth.AnonymousGroup, Title: "Anonymous"},
	}
}

func isBuiltinUser(email string) bool {
	for _, u := range builtinUsers() {
		if u.Email == email {
			return true
		}
	}
	return false
}

func isBuiltinGroup(uuid string) bool {
	for _, g := range builtinGroups() {
		if g.UUID == uuid {
			return true
		}
	}
	return false
}

// UserService is the Users identity CRUD service atop the configuration
// repository, per spec.md §4.7.
type UserService struct {
	repo ConfigRepository[User]
}

// NewUserService seeds repo with the builtin users (idempotent if already
// present) and returns a UserService bound to it.
func NewUserService(repo ConfigRepository[User]) *UserService {
	ctx := context.Background()
	for _, u := range builtinUsers() {
		_ = repo.Add(ctx, u.Email, u)
	}
	return &UserService{repo: repo}
}

func requireAdmin(ac auth.Context) error {
	if !ac.Principal.IsAdmin() {
		return antboxerrors.Forbidden("admin privileges required")
	}
	return nil
}

// Create adds a new user. Admin-only.
func (s *UserService) Create(ctx context.Context, u User) (User, error) {
	ac := auth.FromContext(ctx)
	if err := requireAdmin(ac); err != nil {
		return User{}, err
	}
	if u.Email == "" {
		return User{}, antboxerrors.Validation(antboxerrors.FieldError{Field: "email", Reason: "required"})
	}
	if err := s.repo.Add(ctx, u.Email, u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Get returns the user by email.
func (s *UserService) Get(ctx context.Context, email string) (User, error) {
	return s.repo.Get(ctx, email)
}

// List returns every user.
func (s *UserService) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

// Update modifies name/group/groups. Email is immutable. A principal may
// update its own record; otherwise admin is required. Builtin users cannot
// be updated.
func (s *UserService) Update(ctx context.Context, email string, name, group string, groups []string) (User, error) {
	if isBuiltinUser(email) {
		return User{}, antboxerrors.Forbidden("builtin user cannot be modified")
	}
	ac := auth.FromContext(ctx)
	if ac.Principal.Email != email {
		if err := requireAdmin(ac); err != nil {
			return User{}, err
		}
	}
	u, err := s.repo.Get(ctx, email)
	if err != nil {
		return User{}, err
	}
	u.Name = name
	u.Group = group
	u.Groups = groups
	if err := s.repo.Update(ctx, email, u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Delete removes a user. Admin-only; builtin users cannot be deleted.
func (s *UserService) Delete(ctx context.Context, email string) error {
	if isBuiltinUser(email) {
		return antboxerrors.Forbidden("builtin user cannot be deleted")
	}
	ac := auth.FromContext(ctx)
	if err := requireAdmin(ac); err != nil {
		return err
	}
	return s.repo.Delete(ctx, email)
}

// GroupService is the Groups identity CRUD service atop the configuration
// repository.
type GroupService struct {
	repo ConfigRepository[Group]
}

// NewGroupService seeds repo with the builtin groups and returns a
// GroupService bound to it.
func NewGroupService(repo ConfigRepository[Group]) *GroupService {
	ctx := context.Background()
	for _, g := range builtinGroups() {
		_ = repo.Add(ctx, g.UUID, g)
	}
	return &GroupService{repo: repo}
}

// Create adds a new group. Admin-only.
func (s *GroupService) Create(ctx context.Context, g Group) (Group, error) {
	ac := auth.FromContext(ctx)
	if err := requireAdmin(ac); err != nil {
		return Group{}, err
	}
	if g.UUID == "" {
		return Group{}, antboxerrors.Validation(antboxerrors.FieldError{Field: "uuid", Reason: "required"})
	}
	if err := s.repo.Add(ctx, g.UUID, g); err != nil {
		return Group{}, err
	}
	return g, nil
}

// Get returns the group by uuid.
func (s *GroupService) Get(ctx context.Context, uuid string) (Group, error) {
	return s.repo.Get(ctx, uuid)
}

// List returns every group.
func (s *GroupService) List(ctx context.Context) ([]Group, error) {
	return s.repo.List(ctx)
}

// Delete removes a group. Admin-only; builtin groups cannot be deleted.
func (s *GroupService) Delete(ctx context.Context, uuid string) error {
	if isBuiltinGroup(uuid) {
		return antboxerrors.Forbidden("builtin group cannot be deleted")
	}
	ac := auth.FromContext(ctx)
	if err := requireAdmin(ac); err != nil {
		return err
	}
	return s.repo.Delete(ctx, uuid)
}
