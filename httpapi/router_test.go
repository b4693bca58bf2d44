package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindalus/antbox-sub000/core/auth"
	"github.com/kindalus/antbox-sub000/core/event"
	"github.com/kindalus/antbox-sub000/core/feature"
	"github.com/kindalus/antbox-sub000/core/feature/runtime"
	"github.com/kindalus/antbox-sub000/core/identity"
	"github.com/kindalus/antbox-sub000/core/node"
	"github.com/kindalus/antbox-sub000/core/ratelimit"
)

// rootAuthenticator authenticates every request as the builtin root
// principal, so these tests exercise routing/wire-decoding rather than
// the permission evaluator, which core/node already covers on its own.
type rootAuthenticator struct{}

func (rootAuthenticator) Authenticate(r *http.Request, tenant string) auth.Principal {
	return auth.Root()
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	bus := event.New(nil)
	t.Cleanup(bus.Close)

	nodeSvc := node.NewService(node.NewMemoryRepository(), node.NewMemoryStorage(), bus)
	groups := identity.NewGroupService(identity.NewMemoryConfigRepository[identity.Group]())
	featSvc := feature.NewService(identity.NewMemoryConfigRepository[feature.Feature](), groups, nodeSvc, bus, runtime.New(), ratelimit.New(), nil)

	resolve := func(tenant string) (*node.Service, *feature.Service, bool) {
		if tenant != "default" {
			return nil, nil, false
		}
		return nodeSvc, featSvc, true
	}
	return NewRouterWithThrottle(resolve, rootAuthenticator{}, zerolog.Nop(), nil)
}

// createFolder posts a folder under the root so tests can then create
// non-folder children inside it: the root folder only accepts folders
// per spec.md §4.1's reserved-root invariant.
func createFolder(t *testing.T, rt *Router, title string) node.Node {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"title": title, "mimetype": node.FolderMimetype, "parent": node.RootUUID})
	req := httptest.NewRequest(http.MethodPost, "/v2/nodes", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var out node.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandleNodesCollectionCreatesNode(t *testing.T) {
	rt := newTestRouter(t)
	folder := createFolder(t, rt, "docs")

	body, _ := json.Marshal(map[string]any{"title": "report.txt", "mimetype": "text/plain", "parent": folder.UUID})
	req := httptest.NewRequest(http.MethodPost, "/v2/nodes", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	rt.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var out node.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "report.txt", out.Title)
	assert.NotEmpty(t, out.UUID)
}

func TestHandleNodesCollectionRejectsUnknownTenant(t *testing.T) {
	rt := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v2/nodes", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-Antbox-Tenant", "ghost")
	rec := httptest.NewRecorder()

	rt.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleNodeItemGetRoundTrips(t *testing.T) {
	rt := newTestRouter(t)

	createBody, _ := json.Marshal(map[string]any{"title": "folder", "mimetype": node.FolderMimetype, "parent": node.RootUUID})
	createReq := httptest.NewRequest(http.MethodPost, "/v2/nodes", bytes.NewReader(createBody))
	createRec := httptest.NewRecorder()
	rt.ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusCreated, createRec.Code)

	var created node.Node
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	getReq := httptest.NewRequest(http.MethodGet, "/v2/nodes/"+created.UUID, nil)
	getRec := httptest.NewRecorder()
	rt.ServeHTTP(getRec, getReq)

	require.Equal(t, http.StatusOK, getRec.Code)
	var fetched node.Node
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &fetched))
	assert.Equal(t, created.UUID, fetched.UUID)
}

func TestHandleNodeItemDeleteReturnsNoContent(t *testing.T) {
	rt := newTestRouter(t)
	folder := createFolder(t, rt, "scratch")

	createBody, _ := json.Marshal(map[string]any{"title": "tmp.txt", "mimetype": "text/plain", "parent": folder.UUID})
	createReq := httptest.NewRequest(http.MethodPost, "/v2/nodes", bytes.NewReader(createBody))
	createRec := httptest.NewRecorder()
	rt.ServeHTTP(createRec, createReq)
	var created node.Node
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	delReq := httptest.NewRequest(http.MethodDelete, "/v2/nodes/"+created.UUID, nil)
	delRec := httptest.NewRecorder()
	rt.ServeHTTP(delRec, delReq)

	assert.Equal(t, http.StatusNoContent, delRec.Code)
}

func TestHandleFeaturesCollectionListsEmpty(t *testing.T) {
	rt := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v2/features", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out []feature.Feature
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Empty(t, out)
}
