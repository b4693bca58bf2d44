// Package auth defines the request-scoped authentication context that every
// core operation receives: the principal (who), its mode (how the call was
// triggered), and the tenant it is scoped to. Token verification itself is
// out of scope — this package only carries the already-authenticated result.
package auth

import "context"

// Mode distinguishes how a call reached the core.
type Mode string

const (
	// ModeDirect is a call originating from an external API request.
	ModeDirect Mode = "direct"
	// ModeAction is a call made by the Feature Service while running an action.
	ModeAction Mode = "action"
	// ModeAI is a call made while executing an AI tool.
	ModeAI Mode = "ai"
)

// Builtin principal identities, always present per spec.md §9 (builtin seed data).
const (
	RootEmail             = "root@antbox.io"
	AnonymousEmail        = "anonymous@antbox.io"
	LockSystemEmail       = "lock-system@antbox.io"
	WorkflowInstanceEmail = "workflow-instance@antbox.io"

	AdminsGroup    = "--admins--"
	AnonymousGroup = "--anonymous--"
)

// Principal is the authenticated actor: an email identity plus the groups it belongs to.
type Principal struct {
	Email  string
	Groups []string
}

// IsAnonymous reports whether this is the unauthenticated principal.
func (p Principal) IsAnonymous() bool {
	return p.Email == "" || p.Email == AnonymousEmail
}

// IsRoot reports whether this principal is the builtin root user.
func (p Principal) IsRoot() bool {
	return p.Email == RootEmail
}

// InGroup reports whether the principal belongs to the given group uuid.
func (p Principal) InGroup(group string) bool {
	for _, g := range p.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the principal is root or a member of --admins--.
func (p Principal) IsAdmin() bool {
	return p.IsRoot() || p.InGroup(AdminsGroup)
}

// WithGroup returns a copy of p with group appended if not already present.
func (p Principal) WithGroup(group string) Principal {
	if p.InGroup(group) {
		return p
	}
	groups := make([]string, len(p.Groups), len(p.Groups)+1)
	copy(groups, p.Groups)
	groups = append(groups, group)
	return Principal{Email: p.Email, Groups: groups}
}

// Anonymous is the builtin unauthenticated principal.
func Anonymous() Principal {
	return Principal{Email: AnonymousEmail, Groups: []string{AnonymousGroup}}
}

// Root is the builtin root principal (bypasses all permission checks).
func Root() Principal {
	return Principal{Email: RootEmail, Groups: []string{AdminsGroup}}
}

// Context carries the principal, mode, and tenant for a single call.
type Context struct {
	Principal Principal
	Mode      Mode
	Tenant    string
}

// Elevated builds a Context for internal subscribers (Feature Service's
// automatic actions, Audit Log) that must act with full authority regardless
// of who triggered the originating event.
func Elevated(tenant string) Context {
	return Context{Principal: Root(), Mode: ModeAction, Tenant: tenant}
}

// Direct builds a Context for an externally authenticated call.
func Direct(p Principal, tenant string) Context {
	return Context{Principal: p, Mode: ModeDirect, Tenant: tenant}
}

// WithGroup returns a copy of ctx whose principal has had group appended,
// used to implement a Feature's runAs elevation without mutating the caller's
// own context.
func (c Context) WithGroup(group string) Context {
	return Context{Principal: c.Principal.WithGroup(group), Mode: c.Mode, Tenant: c.Tenant}
}

// AsMode returns a copy of ctx tagged with a different Mode, used when the
// Feature Service re-enters the Node Service as an action/AI-tool invocation.
func (c Context) AsMode(mode Mode) Context {
	return Context{Principal: c.Principal, Mode: mode, Tenant: c.Tenant}
}

type ctxKey string

const authContextKey ctxKey = "antbox_auth_context"

// WithContext embeds an auth.Context inside a standard context.Context, used
// at the edges (httpapi) to thread the authenticated caller into Go's ctx.
func WithContext(ctx context.Context, ac Context) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// FromContext recovers the auth.Context previously embedded, defaulting to
// an anonymous Direct context if none was set.
func FromContext(ctx context.Context) Context {
	if v, ok := ctx.Value(authContextKey).(Context); ok {
		return v
	}
	return Direct(Anonymous(), "")
}
