package feature

import (
	"context"

	"github.com/kindalus/antbox-sub000/core/auth"
	"github.com/kindalus/antbox-sub000/core/filter"
	"github.com/kindalus/antbox-sub000/core/node"
)

// NodeServiceProxy is a per-invocation wrapper around the Node Service that
// exposes its full mutation surface with the authentication context already
// bound, per spec.md §4.6. It is created fresh for every feature invocation;
// the authentication context it was built with can never be changed by the
// feature code that holds it.
type NodeServiceProxy struct {
	svc      *node.Service
	boundCtx context.Context
}

// NewNodeServiceProxy binds svc to ac, ignoring whatever context a feature
// invocation later supplies.
func NewNodeServiceProxy(svc *node.Service, ac auth.Context) *NodeServiceProxy {
	return &NodeServiceProxy{svc: svc, boundCtx: auth.WithContext(context.Background(), ac)}
}

func (p *NodeServiceProxy) Get(uuidOrFid string) (node.Node, error) {
	return p.svc.Get(p.boundCtx, uuidOrFid)
}

func (p *NodeServiceProxy) List(parent string) ([]node.Node, error) {
	return p.svc.List(p.boundCtx, parent)
}

func (p *NodeServiceProxy) Find(dnf filter.DNF, pageSize, pageToken int) (node.FilterPage, error) {
	return p.svc.Find(p.boundCtx, dnf, pageSize, pageToken)
}

func (p *NodeServiceProxy) Create(meta node.Node) (node.Node, error) {
	return p.svc.Create(p.boundCtx, meta)
}

func (p *NodeServiceProxy) CreateFile(body []byte, meta node.Node) (node.Node, error) {
	return p.svc.CreateFile(p.boundCtx, body, meta)
}

func (p *NodeServiceProxy) Update(uuid string, patch node.Patch) (node.Node, error) {
	return p.svc.Update(p.boundCtx, uuid, patch)
}

func (p *NodeServiceProxy) UpdateFile(uuid string, body []byte) (node.Node, error) {
	return p.svc.UpdateFile(p.boundCtx, uuid, body)
}

func (p *NodeServiceProxy) Delete(uuid string) error {
	return p.svc.Delete(p.boundCtx, uuid)
}

func (p *NodeServiceProxy) Copy(uuid, parent string) (node.Node, error) {
	return p.svc.Copy(p.boundCtx, uuid, parent)
}

func (p *NodeServiceProxy) Duplicate(uuid string) (node.Node, error) {
	return p.svc.Duplicate(p.boundCtx, uuid)
}

func (p *NodeServiceProxy) Export(uuid string) (node.ExportResult, error) {
	return p.svc.Export(p.boundCtx, uuid)
}

func (p *NodeServiceProxy) Breadcrumbs(uuid string) ([]node.Node, error) {
	return p.svc.Breadcrumbs(p.boundCtx, uuid)
}

func (p *NodeServiceProxy) Evaluate(uuid string) ([]node.Node, error) {
	return p.svc.Evaluate(p.boundCtx, uuid)
}

func (p *NodeServiceProxy) Lock(uuid string, unlockAuthorizedGroups []string) (node.Node, error) {
	return p.svc.Lock(p.boundCtx, uuid, unlockAuthorizedGroups)
}

func (p *NodeServiceProxy) Unlock(uuid string) (node.Node, error) {
	return p.svc.Unlock(p.boundCtx, uuid)
}
