package node

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kindalus/antbox-sub000/core/auth"
	"github.com/kindalus/antbox-sub000/core/event"
	"github.com/kindalus/antbox-sub000/core/filter"
	antboxerrors "github.com/kindalus/antbox-sub000/platform/errors"
)

// maxDeleteFanout bounds how many sibling subtrees deleteRecursive tears
// down concurrently, per spec.md §5's bounded-concurrency resource model.
const maxDeleteFanout = 8

// Patch is the set of fields an update(...) call may change. A nil/empty
// field is left untouched; uuid, fid, createdTime, and mimetype can never be
// changed through Patch, per spec.md invariant 5 and §4.4.
type Patch struct {
	Title         *string
	Description   *string
	Tags          []string
	Aspects       []string
	Properties    map[string]any
	Parent        *string
	Group         *string
	Permissions   *PermissionSet
	GroupsAllowed []string
	OnCreate      []string
	OnUpdate      []string
	OnDelete      []string
	Filters       filter.DNF
}

// AspectValidator validates a node's properties against the aspects it
// lists, per spec.md invariant 7. The Node Service composes it but does not
// define aspect schemas itself (that lives in core/identity alongside the
// other configuration-repository-backed collections).
type AspectValidator interface {
	Validate(aspectUUIDs []string, properties map[string]any) error
}

type noopAspectValidator struct{}

func (noopAspectValidator) Validate(aspectUUIDs []string, properties map[string]any) error {
	return nil
}

// Service composes the repository, storage, and event bus into the Node
// Service described in spec.md §4.4.
type Service struct {
	repo      Repository
	storage   Storage
	bus       *event.Bus
	evaluator *Evaluator
	aspects   AspectValidator
	newUUID   func() string
	now       func() time.Time
}

// Option configures a Service at construction time.
type Option func(*Service)

// WithAspectValidator overrides the default no-op aspect validator.
func WithAspectValidator(v AspectValidator) Option {
	return func(s *Service) { s.aspects = v }
}

// WithUUIDGenerator overrides the uuid generator, primarily for tests.
func WithUUIDGenerator(f func() string) Option {
	return func(s *Service) { s.newUUID = f }
}

// WithClock overrides the time source, primarily for tests.
func WithClock(f func() time.Time) Option {
	return func(s *Service) { s.now = f }
}

// NewService builds a Node Service atop repo, storage, and bus.
func NewService(repo Repository, storage Storage, bus *event.Bus, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		storage: storage,
		bus:     bus,
		aspects: noopAspectValidator{},
		newUUID: uuid.NewString,
		now:     func() time.Time { return time.Now().UTC() },
	}
	s.evaluator = NewEvaluator(func(id string) (Node, bool) {
		n, err := repo.GetByID(context.Background(), id)
		if err != nil {
			return Node{}, false
		}
		return n, true
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) resolve(ctx context.Context, uuidOrFid string) (Node, error) {
	if uuidOrFid == RootUUID {
		return s.rootNode(ctx)
	}
	n, err := s.repo.GetByID(ctx, uuidOrFid)
	if err == nil {
		return n, nil
	}
	ac := auth.FromContext(ctx)
	n, ferr := s.repo.GetByFid(ctx, ac.Tenant, uuidOrFid)
	if ferr == nil {
		return n, nil
	}
	return Node{}, err
}

func (s *Service) rootNode(ctx context.Context) (Node, error) {
	n, err := s.repo.GetByID(ctx, RootUUID)
	if err == nil {
		return n, nil
	}
	ac := auth.FromContext(ctx)
	root := Node{
		UUID:         RootUUID,
		Mimetype:     FolderMimetype,
		Tenant:       ac.Tenant,
		Title:        "root",
		Owner:        auth.RootEmail,
		CreatedTime:  s.now(),
		ModifiedTime: s.now(),
	}
	if addErr := s.repo.Add(ctx, root); addErr != nil {
		return Node{}, antboxerrors.Unknown(addErr)
	}
	return root, nil
}

func (s *Service) requirePermission(ctx context.Context, n Node, perm Permission) error {
	ac := auth.FromContext(ctx)
	enclosing, ok := s.evaluator.Enclosing(n)
	if !ok {
		return antboxerrors.FolderNotFound(n.Parent)
	}
	if !s.evaluator.Allow(ac.Principal, enclosing, perm) {
		return antboxerrors.Forbidden("principal lacks " + string(perm) + " on " + n.UUID)
	}
	return nil
}

// Get resolves uuid or fid, enforcing Read permission.
func (s *Service) Get(ctx context.Context, uuidOrFid string) (Node, error) {
	n, err := s.resolve(ctx, uuidOrFid)
	if err != nil {
		return Node{}, err
	}
	if err := s.requirePermission(ctx, n, PermRead); err != nil {
		return Node{}, err
	}
	return n, nil
}

// List returns the direct, read-permitted children of parent (root by default).
func (s *Service) List(ctx context.Context, parent string) ([]Node, error) {
	if parent == "" {
		parent = RootUUID
	}
	ac := auth.FromContext(ctx)
	children, err := s.repo.Children(ctx, ac.Tenant, parent)
	if err != nil {
		return nil, antboxerrors.Unknown(err)
	}
	var out []Node
	for _, c := range children {
		if err := s.requirePermission(ctx, c, PermRead); err == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Service) validateCreate(ctx context.Context, meta Node) (Node, Node, error) {
	ac := auth.FromContext(ctx)
	if meta.Title == "" {
		return Node{}, Node{}, antboxerrors.Validation(antboxerrors.FieldError{Field: "title", Reason: "required"})
	}
	if meta.Mimetype == "" {
		return Node{}, Node{}, antboxerrors.Validation(antboxerrors.FieldError{Field: "mimetype", Reason: "required"})
	}
	parent := meta.Parent
	if parent == "" {
		parent = RootUUID
	}
	parentNode, err := s.resolve(ctx, parent)
	if err != nil {
		return Node{}, Node{}, antboxerrors.FolderNotFound(parent)
	}
	if !parentNode.IsFolder() {
		return Node{}, Node{}, antboxerrors.FolderNotFound(parent)
	}
	if parentNode.IsRoot() && meta.Mimetype != FolderMimetype {
		return Node{}, Node{}, antboxerrors.Validation(antboxerrors.FieldError{
			Field: "mimetype", Reason: "children of the root folder must be folders",
		})
	}
	if err := s.requirePermission(ctx, parentNode, PermWrite); err != nil {
		return Node{}, Node{}, err
	}
	if err := s.aspects.Validate(meta.Aspects, meta.Properties); err != nil {
		return Node{}, Node{}, err
	}

	out := meta
	out.Parent = parent
	out.Tenant = ac.Tenant
	out.Owner = ac.Principal.Email
	if out.UUID == "" {
		out.UUID = s.newUUID()
	}
	now := s.now()
	out.CreatedTime = now
	out.ModifiedTime = now
	return out, parentNode, nil
}

// Create validates and persists a new node, emitting NodeCreated.
func (s *Service) Create(ctx context.Context, meta Node) (Node, error) {
	out, _, err := s.validateCreate(ctx, meta)
	if err != nil {
		return Node{}, err
	}
	if err := s.repo.Add(ctx, out); err != nil {
		return Node{}, err
	}
	s.publish(ctx, event.NodeCreated, out.UUID, nil, out.ToMap())
	return out, nil
}

// CreateFile is Create plus storing body and setting size.
func (s *Service) CreateFile(ctx context.Context, body []byte, meta Node) (Node, error) {
	out, _, err := s.validateCreate(ctx, meta)
	if err != nil {
		return Node{}, err
	}
	out.Size = int64(len(body))
	if err := s.storage.Put(ctx, out.UUID, body); err != nil {
		return Node{}, antboxerrors.Unknown(err)
	}
	if err := s.repo.Add(ctx, out); err != nil {
		return Node{}, err
	}
	s.publish(ctx, event.NodeCreated, out.UUID, nil, out.ToMap())
	return out, nil
}

// Update applies patch to uuid, enforcing Write permission and immutability
// of uuid/fid/createdTime/mimetype, and revalidating aspects.
func (s *Service) Update(ctx context.Context, uuidStr string, patch Patch) (Node, error) {
	n, err := s.repo.GetByID(ctx, uuidStr)
	if err != nil {
		return Node{}, err
	}
	if n.Locked {
		if err := s.checkUnlockAuthority(ctx, n); err != nil {
			return Node{}, err
		}
	}
	if err := s.requirePermission(ctx, n, PermWrite); err != nil {
		return Node{}, err
	}

	before := n.Clone()
	updated := n.Clone()

	if patch.Title != nil {
		updated.Title = *patch.Title
	}
	if patch.Description != nil {
		updated.Description = *patch.Description
	}
	if patch.Tags != nil {
		updated.Tags = patch.Tags
	}
	if patch.Aspects != nil {
		updated.Aspects = patch.Aspects
	}
	if patch.Properties != nil {
		updated.Properties = patch.Properties
	}
	if patch.Group != nil {
		updated.Group = *patch.Group
	}
	if patch.Permissions != nil {
		updated.Permissions = *patch.Permissions
	}
	if patch.GroupsAllowed != nil {
		updated.GroupsAllowed = patch.GroupsAllowed
	}
	if patch.OnCreate != nil {
		updated.OnCreate = patch.OnCreate
	}
	if patch.OnUpdate != nil {
		updated.OnUpdate = patch.OnUpdate
	}
	if patch.OnDelete != nil {
		updated.OnDelete = patch.OnDelete
	}
	if patch.Filters != nil {
		updated.Filters = patch.Filters
	}
	if patch.Parent != nil && *patch.Parent != updated.Parent {
		if err := s.checkNoCycle(ctx, updated.UUID, *patch.Parent); err != nil {
			return Node{}, err
		}
		newParent, err := s.resolve(ctx, *patch.Parent)
		if err != nil {
			return Node{}, antboxerrors.FolderNotFound(*patch.Parent)
		}
		if !newParent.IsFolder() {
			return Node{}, antboxerrors.FolderNotFound(*patch.Parent)
		}
		updated.Parent = newParent.UUID
	}

	if err := s.aspects.Validate(updated.Aspects, updated.Properties); err != nil {
		return Node{}, err
	}

	updated.ModifiedTime = s.now()
	if err := s.repo.Update(ctx, updated); err != nil {
		return Node{}, err
	}
	s.publish(ctx, event.NodeUpdated, updated.UUID, before.ToMap(), updated.ToMap())
	return updated, nil
}

// checkNoCycle walks newParent's ancestry, failing if it passes through n,
// enforcing invariant 1 (a folder cannot become its own descendant).
func (s *Service) checkNoCycle(ctx context.Context, n, newParent string) error {
	cur := newParent
	for i := 0; i < 10000; i++ {
		if cur == n {
			return antboxerrors.BadRequest("move would create a cycle")
		}
		if cur == RootUUID || cur == "" {
			return nil
		}
		parentNode, err := s.repo.GetByID(ctx, cur)
		if err != nil {
			return nil
		}
		cur = parentNode.Parent
	}
	return antboxerrors.BadRequest("ancestry chain exceeds maximum depth")
}

func (s *Service) checkUnlockAuthority(ctx context.Context, n Node) error {
	ac := auth.FromContext(ctx)
	if ac.Principal.IsAdmin() || ac.Principal.Email == n.LockedBy {
		return nil
	}
	for _, g := range n.UnlockAuthorizedGroups {
		if ac.Principal.InGroup(g) {
			return nil
		}
	}
	return antboxerrors.Locked(n.UUID)
}

// UpdateFile replaces uuid's stored body, updating size and modifiedTime.
func (s *Service) UpdateFile(ctx context.Context, uuidStr string, body []byte) (Node, error) {
	n, err := s.repo.GetByID(ctx, uuidStr)
	if err != nil {
		return Node{}, err
	}
	if n.Locked {
		if err := s.checkUnlockAuthority(ctx, n); err != nil {
			return Node{}, err
		}
	}
	if err := s.requirePermission(ctx, n, PermWrite); err != nil {
		return Node{}, err
	}

	before := n.Clone()
	if err := s.storage.Put(ctx, n.UUID, body); err != nil {
		return Node{}, antboxerrors.Unknown(err)
	}
	n.Size = int64(len(body))
	n.ModifiedTime = s.now()
	if err := s.repo.Update(ctx, n); err != nil {
		return Node{}, err
	}
	s.publish(ctx, event.NodeUpdated, n.UUID, before.ToMap(), n.ToMap())
	return n, nil
}

// Delete removes uuid, cascading depth-first into descendants for folders,
// emitting NodeDeleted per destroyed node, enforcing Delete permission.
func (s *Service) Delete(ctx context.Context, uuidStr string) error {
	n, err := s.repo.GetByID(ctx, uuidStr)
	if err != nil {
		return err
	}
	if n.Locked {
		if err := s.checkUnlockAuthority(ctx, n); err != nil {
			return err
		}
	}
	if err := s.requirePermission(ctx, n, PermDelete); err != nil {
		return err
	}
	return s.deleteRecursive(ctx, n)
}

func (s *Service) deleteRecursive(ctx context.Context, n Node) error {
	if n.IsFolder() {
		ac := auth.FromContext(ctx)
		children, err := s.repo.Children(ctx, ac.Tenant, n.UUID)
		if err != nil {
			return antboxerrors.Unknown(err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxDeleteFanout)
		for _, c := range children {
			c := c
			g.Go(func() error { return s.deleteRecursive(gctx, c) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	} else {
		_ = s.storage.Delete(ctx, n.UUID)
	}
	if err := s.repo.Delete(ctx, n.UUID); err != nil {
		return err
	}
	s.publish(ctx, event.NodeDeleted, n.UUID, n.ToMap(), nil)
	return nil
}

// Copy deep-copies uuid under parent with a new uuid and createdTime=now.
func (s *Service) Copy(ctx context.Context, uuidStr, parent string) (Node, error) {
	return s.copyOrDuplicate(ctx, uuidStr, parent)
}

// Duplicate deep-copies uuid into the same parent.
func (s *Service) Duplicate(ctx context.Context, uuidStr string) (Node, error) {
	n, err := s.repo.GetByID(ctx, uuidStr)
	if err != nil {
		return Node{}, err
	}
	return s.copyOrDuplicate(ctx, uuidStr, n.Parent)
}

func (s *Service) copyOrDuplicate(ctx context.Context, uuidStr, parent string) (Node, error) {
	n, err := s.repo.GetByID(ctx, uuidStr)
	if err != nil {
		return Node{}, err
	}
	if err := s.requirePermission(ctx, n, PermRead); err != nil {
		return Node{}, err
	}
	parentNode, err := s.resolve(ctx, parent)
	if err != nil || !parentNode.IsFolder() {
		return Node{}, antboxerrors.FolderNotFound(parent)
	}
	if err := s.requirePermission(ctx, parentNode, PermWrite); err != nil {
		return Node{}, err
	}

	if n.IsFolder() {
		return s.copyFolder(ctx, n, parentNode.UUID)
	}

	cp := n.Clone()
	cp.UUID = s.newUUID()
	cp.Fid = ""
	cp.Parent = parentNode.UUID
	now := s.now()
	cp.CreatedTime = now
	cp.ModifiedTime = now
	cp.Locked = false
	cp.LockedBy = ""

	if n.Size > 0 {
		body, err := s.storage.Get(ctx, n.UUID)
		if err != nil {
			return Node{}, antboxerrors.Unknown(err)
		}
		if err := s.storage.Put(ctx, cp.UUID, body); err != nil {
			return Node{}, antboxerrors.Unknown(err)
		}
	}
	if err := s.repo.Add(ctx, cp); err != nil {
		return Node{}, err
	}
	s.publish(ctx, event.NodeCreated, cp.UUID, nil, cp.ToMap())
	return cp, nil
}

func (s *Service) copyFolder(ctx context.Context, n Node, newParent string) (Node, error) {
	cp := n.Clone()
	cp.UUID = s.newUUID()
	cp.Fid = ""
	cp.Parent = newParent
	now := s.now()
	cp.CreatedTime = now
	cp.ModifiedTime = now
	cp.Locked = false
	cp.LockedBy = ""
	if err := s.repo.Add(ctx, cp); err != nil {
		return Node{}, err
	}
	s.publish(ctx, event.NodeCreated, cp.UUID, nil, cp.ToMap())

	ac := auth.FromContext(ctx)
	children, err := s.repo.Children(ctx, ac.Tenant, n.UUID)
	if err != nil {
		return Node{}, antboxerrors.Unknown(err)
	}
	for _, c := range children {
		if c.IsFolder() {
			if _, err := s.copyFolder(ctx, c, cp.UUID); err != nil {
				return Node{}, err
			}
			continue
		}
		if _, err := s.copyOrDuplicate(ctx, c.UUID, cp.UUID); err != nil {
			return Node{}, err
		}
	}
	return cp, nil
}

// Find delegates to the repository then post-filters by read permission.
func (s *Service) Find(ctx context.Context, dnf filter.DNF, pageSize, pageToken int) (FilterPage, error) {
	ac := auth.FromContext(ctx)
	page, err := s.repo.Filter(ctx, ac.Tenant, dnf, pageSize, pageToken)
	if err != nil {
		return FilterPage{}, err
	}
	var filtered []Node
	for _, n := range page.Nodes {
		if err := s.requirePermission(ctx, n, PermRead); err == nil {
			filtered = append(filtered, n)
		}
	}
	page.Nodes = filtered
	return page, nil
}

// Breadcrumbs returns the ordered ancestor chain root→uuid.
func (s *Service) Breadcrumbs(ctx context.Context, uuidStr string) ([]Node, error) {
	n, err := s.Get(ctx, uuidStr)
	if err != nil {
		return nil, err
	}
	chain := []Node{n}
	cur := n
	for !cur.IsRoot() && cur.Parent != "" {
		parent, err := s.repo.GetByID(ctx, cur.Parent)
		if err != nil {
			break
		}
		chain = append([]Node{parent}, chain...)
		cur = parent
	}
	return chain, nil
}

// ExportResult is the stored body plus presentation metadata for export(ctx, uuid).
type ExportResult struct {
	Body []byte
	Name string
	Type string
}

// Export returns the stored body plus {name=title, type=mimetype}.
func (s *Service) Export(ctx context.Context, uuidStr string) (ExportResult, error) {
	n, err := s.Get(ctx, uuidStr)
	if err != nil {
		return ExportResult{}, err
	}
	if err := s.requirePermission(ctx, n, PermExport); err != nil {
		return ExportResult{}, err
	}
	body, err := s.storage.Get(ctx, n.UUID)
	if err != nil {
		return ExportResult{}, err
	}
	return ExportResult{Body: body, Name: n.Title, Type: n.Mimetype}, nil
}

// Evaluate executes a smart folder's filters, returning matching nodes.
func (s *Service) Evaluate(ctx context.Context, uuidStr string) ([]Node, error) {
	n, err := s.Get(ctx, uuidStr)
	if err != nil {
		return nil, err
	}
	if !n.IsSmartFolder() {
		return nil, antboxerrors.BadRequest("node is not a smart folder")
	}
	page, err := s.Find(ctx, n.Filters, 0, 0)
	if err != nil {
		return nil, err
	}
	return page.Nodes, nil
}

// Lock marks uuid locked by the calling principal, enforcing Write permission.
func (s *Service) Lock(ctx context.Context, uuidStr string, unlockAuthorizedGroups []string) (Node, error) {
	n, err := s.repo.GetByID(ctx, uuidStr)
	if err != nil {
		return Node{}, err
	}
	if err := s.requirePermission(ctx, n, PermWrite); err != nil {
		return Node{}, err
	}
	ac := auth.FromContext(ctx)
	n.Locked = true
	n.LockedBy = ac.Principal.Email
	n.UnlockAuthorizedGroups = unlockAuthorizedGroups
	n.ModifiedTime = s.now()
	if err := s.repo.Update(ctx, n); err != nil {
		return Node{}, err
	}
	return n, nil
}

// Unlock clears uuid's lock state; only admins, the original locker, or a
// member of unlockAuthorizedGroups may call it.
func (s *Service) Unlock(ctx context.Context, uuidStr string) (Node, error) {
	n, err := s.repo.GetByID(ctx, uuidStr)
	if err != nil {
		return Node{}, err
	}
	if err := s.checkUnlockAuthority(ctx, n); err != nil {
		return Node{}, err
	}
	n.Locked = false
	n.LockedBy = ""
	n.UnlockAuthorizedGroups = nil
	n.ModifiedTime = s.now()
	if err := s.repo.Update(ctx, n); err != nil {
		return Node{}, err
	}
	return n, nil
}

func (s *Service) publish(ctx context.Context, kind event.Kind, nodeUUID string, oldValues, newValues map[string]any) {
	if s.bus == nil {
		return
	}
	ac := auth.FromContext(ctx)
	s.bus.Publish(event.Event{
		Kind:      kind,
		UUID:      nodeUUID,
		Tenant:    ac.Tenant,
		UserEmail: ac.Principal.Email,
		OldValues: oldValues,
		NewValues: newValues,
	})
}

// BodyEqual reports whether two byte slices hold the same content, such as
// exported bytes and the most recent write.
func BodyEqual(a, b []byte) bool { return bytes.Equal(a, b) }
