package node

import "github.com/kindalus/antbox-sub000/core/auth"

// Evaluator decides whether a principal may perform an action against a
// node, walking the enclosing folder's permission set per spec.md §4.4.
type Evaluator struct {
	resolveFolder func(uuid string) (Node, bool)
}

// NewEvaluator builds an Evaluator. resolveFolder resolves a folder uuid to
// its node, reporting false when it does not exist.
func NewEvaluator(resolveFolder func(uuid string) (Node, bool)) *Evaluator {
	return &Evaluator{resolveFolder: resolveFolder}
}

// Allow reports whether principal may perform perm against node, whose
// enclosing folder is folder itself when node is a folder, else node.Parent.
func (e *Evaluator) Allow(p auth.Principal, enclosing Node, perm Permission) bool {
	if p.IsRoot() || p.IsAdmin() {
		return true
	}
	if !p.IsAnonymous() && p.Email == enclosing.Owner {
		return true
	}

	set := enclosing.Permissions
	if p.IsAnonymous() {
		return set.HasAnonymous(perm)
	}
	if set.HasAuthenticated(perm) {
		return true
	}
	if enclosing.Group != "" && p.InGroup(enclosing.Group) && set.HasGroup(perm) {
		return true
	}
	for _, g := range p.Groups {
		if set.HasAdvanced(g, perm) {
			return true
		}
	}
	return false
}

// Enclosing resolves the folder whose PermissionSet governs n: n itself if
// it is a folder, otherwise its parent.
func (e *Evaluator) Enclosing(n Node) (Node, bool) {
	if n.IsFolder() {
		return n, true
	}
	return e.resolveFolder(n.Parent)
}
