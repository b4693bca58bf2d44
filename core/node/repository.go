package node

import (
	"context"
	"sort"
	"sync"

	"github.com/kindalus/antbox-sub000/core/filter"
	antboxerrors "github.com/kindalus/antbox-sub000/platform/errors"
)

// FilterPage is one page of a filter(...) query result. NextPageToken is an
// opaque, monotonically increasing integer; zero means there is no next page.
type FilterPage struct {
	Nodes         []Node
	NextPageToken int
}

// Repository is the per-tenant node metadata store. Implementations must
// enforce uniqueness of uuid (always) and fid (when present) within a tenant.
type Repository interface {
	Add(ctx context.Context, n Node) error
	Update(ctx context.Context, n Node) error
	Delete(ctx context.Context, uuid string) error
	GetByID(ctx context.Context, uuid string) (Node, error)
	GetByFid(ctx context.Context, tenant, fid string) (Node, error)
	Filter(ctx context.Context, tenant string, dnf filter.DNF, pageSize, pageToken int) (FilterPage, error)
	Children(ctx context.Context, tenant, parent string) ([]Node, error)
}

// MemoryRepository is a goroutine-safe in-memory Repository, the reference
// Storage-Provider-adjacent adapter acceptable per spec.md §1 (persistent
// storage adapters are out of scope; in-memory is sufficient here).
type MemoryRepository struct {
	mu       sync.RWMutex
	byUUID   map[string]Node
	byFidKey map[string]string // "<tenant>/<fid>" -> uuid
	order    []string          // insertion order, for stable pagination
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byUUID:   make(map[string]Node),
		byFidKey: make(map[string]string),
	}
}

func fidKey(tenant, fid string) string { return tenant + "/" + fid }

func (r *MemoryRepository) Add(ctx context.Context, n Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byUUID[n.UUID]; exists {
		return antboxerrors.Conflict("uuid already exists: " + n.UUID)
	}
	if n.Fid != "" {
		key := fidKey(n.Tenant, n.Fid)
		if _, exists := r.byFidKey[key]; exists {
			return antboxerrors.Conflict("fid already exists: " + n.Fid)
		}
		r.byFidKey[key] = n.UUID
	}
	r.byUUID[n.UUID] = n
	r.order = append(r.order, n.UUID)
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, n Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byUUID[n.UUID]
	if !ok {
		return antboxerrors.NodeNotFound(n.UUID)
	}
	if existing.Fid != n.Fid {
		if existing.Fid != "" {
			delete(r.byFidKey, fidKey(existing.Tenant, existing.Fid))
		}
		if n.Fid != "" {
			key := fidKey(n.Tenant, n.Fid)
			if owner, exists := r.byFidKey[key]; exists && owner != n.UUID {
				return antboxerrors.Conflict("fid already exists: " + n.Fid)
			}
			r.byFidKey[key] = n.UUID
		}
	}
	r.byUUID[n.UUID] = n
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, uuid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.byUUID[uuid]
	if !ok {
		return antboxerrors.NodeNotFound(uuid)
	}
	if n.Fid != "" {
		delete(r.byFidKey, fidKey(n.Tenant, n.Fid))
	}
	delete(r.byUUID, uuid)
	for i, id := range r.order {
		if id == uuid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, uuid string) (Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.byUUID[uuid]
	if !ok {
		return Node{}, antboxerrors.NodeNotFound(uuid)
	}
	return n.Clone(), nil
}

// GetByFid looks up a node by its friendly id, scoped to tenant: fid is only
// guaranteed unique within a tenant's own namespace, so an unscoped scan
// could return another tenant's node.
func (r *MemoryRepository) GetByFid(ctx context.Context, tenant, fid string) (Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	uuid, ok := r.byFidKey[fidKey(tenant, fid)]
	if !ok {
		return Node{}, antboxerrors.NodeNotFound(fid)
	}
	return r.byUUID[uuid].Clone(), nil
}

func (r *MemoryRepository) Children(ctx context.Context, tenant, parent string) ([]Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Node
	for _, id := range r.order {
		n := r.byUUID[id]
		if n.Tenant == tenant && n.Parent == parent {
			out = append(out, n.Clone())
		}
	}
	return out, nil
}

// Filter runs dnf against every node in tenant, in stable insertion order,
// returning a page of up to pageSize matches starting after pageToken.
func (r *MemoryRepository) Filter(ctx context.Context, tenant string, dnf filter.DNF, pageSize, pageToken int) (FilterPage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if pageSize <= 0 {
		pageSize = 100
	}

	var matches []Node
	for _, id := range r.order {
		n := r.byUUID[id]
		if n.Tenant != tenant {
			continue
		}
		ok, err := dnf.Matches(n)
		if err != nil {
			return FilterPage{}, err
		}
		if ok {
			matches = append(matches, n.Clone())
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedTime.Before(matches[j].CreatedTime)
	})

	start := pageToken
	if start < 0 || start > len(matches) {
		start = len(matches)
	}
	end := start + pageSize
	if end > len(matches) {
		end = len(matches)
	}

	page := FilterPage{Nodes: matches[start:end]}
	if end < len(matches) {
		page.NextPageToken = end
	}
	return page, nil
}
