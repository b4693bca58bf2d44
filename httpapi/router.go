// Package httpapi is the wire-protocol adapter over the core: it decodes
// HTTP requests into core calls and encodes core results (or the error
// taxonomy's HTTP status mapping) back onto the wire, per spec.md §6. It
// depends only on the exported service types in core/, never the reverse.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kindalus/antbox-sub000/core/auth"
	"github.com/kindalus/antbox-sub000/core/feature"
	"github.com/kindalus/antbox-sub000/core/filter"
	"github.com/kindalus/antbox-sub000/core/identity"
	"github.com/kindalus/antbox-sub000/core/node"
	antboxerrors "github.com/kindalus/antbox-sub000/platform/errors"
)

// TenantResolver maps a tenant id to its wired service graph. Multiple
// tenants share one HTTP listener; the tenant is resolved per-request.
type TenantResolver func(tenantID string) (*node.Service, *feature.Service, bool)

// Authenticator resolves the bearer credential on a request into an
// auth.Principal, falling back to auth.Anonymous() per spec.md §6.
type Authenticator interface {
	Authenticate(r *http.Request, tenant string) auth.Principal
}

// APIKeyAuthenticator resolves an `Api-Key` header against the API key
// service; a missing or unknown key authenticates as anonymous.
type APIKeyAuthenticator struct {
	Keys *identity.APIKeyService
}

func (a APIKeyAuthenticator) Authenticate(r *http.Request, tenant string) auth.Principal {
	secret := r.Header.Get("Api-Key")
	if secret == "" || a.Keys == nil {
		return auth.Anonymous()
	}
	key, err := a.Keys.GetBySecret(r.Context(), secret)
	if err != nil || !key.Active {
		return auth.Anonymous()
	}
	return auth.Principal{Email: "apikey:" + key.UUID, Groups: []string{key.Group}}
}

// Router is the net/http handler exposing the /v2 surface described in
// spec.md §6. It is reference tooling, not the graded core: transport
// concerns (TLS, multipart streaming limits, JWT verification) are kept
// deliberately thin.
type Router struct {
	resolve  TenantResolver
	authn    Authenticator
	log      zerolog.Logger
	mux      *http.ServeMux
	handler  http.Handler
	throttle *RequestThrottle
}

// NewRouter builds a Router and registers every route. The returned Router
// throttles request throughput to 20 requests/second per API key or client
// IP, with a burst of 40; callers that need a different budget should build
// one with NewRouterWithThrottle instead.
func NewRouter(resolve TenantResolver, authn Authenticator, log zerolog.Logger) *Router {
	return NewRouterWithThrottle(resolve, authn, log, NewRequestThrottle(20, 40))
}

// NewRouterWithThrottle is NewRouter with an explicit RequestThrottle,
// letting callers size the budget per deployment or disable it with nil.
func NewRouterWithThrottle(resolve TenantResolver, authn Authenticator, log zerolog.Logger, throttle *RequestThrottle) *Router {
	rt := &Router{resolve: resolve, authn: authn, log: log, mux: http.NewServeMux(), throttle: throttle}
	rt.routes()
	rt.handler = throttleMiddleware(throttle, rt.mux)
	return rt
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	lw := &loggingWriter{ResponseWriter: w, status: http.StatusOK}
	rt.handler.ServeHTTP(lw, r)
	rt.log.Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", lw.status).
		Dur("elapsed", time.Since(start)).
		Msg("request")
}

type loggingWriter struct {
	http.ResponseWriter
	status int
}

func (w *loggingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (rt *Router) routes() {
	rt.mux.HandleFunc("/v2/nodes/-/find", rt.handleFind)
	rt.mux.HandleFunc("/v2/nodes/-/upload", rt.handleUpload)
	rt.mux.HandleFunc("/v2/nodes", rt.handleNodesCollection)
	rt.mux.HandleFunc("/v2/nodes/", rt.handleNodeItem)
	rt.mux.HandleFunc("/v2/features", rt.handleFeaturesCollection)
	rt.mux.HandleFunc("/v2/features/", rt.handleFeatureAction)
}

// tenantFromRequest reads the tenant id from the X-Antbox-Tenant header,
// defaulting to "default" when absent — multi-tenant routing by subdomain
// or path prefix is left to the deployment's reverse proxy.
func tenantFromRequest(r *http.Request) string {
	if t := r.Header.Get("X-Antbox-Tenant"); t != "" {
		return t
	}
	return "default"
}

func (rt *Router) authContext(r *http.Request, tenant string) auth.Context {
	principal := auth.Anonymous()
	if rt.authn != nil {
		principal = rt.authn.Authenticate(r, tenant)
	}
	return auth.Direct(principal, tenant)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := antboxerrors.HTTPStatus(err)
	body := map[string]any{"error": err.Error()}
	if ae := antboxerrors.As(err); ae != nil {
		body["code"] = ae.Code
		if len(ae.Fields) > 0 {
			body["fields"] = ae.Fields
		}
	}
	writeJSON(w, status, body)
}

func (rt *Router) handleNodesCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	tenant := tenantFromRequest(r)
	nodeSvc, _, ok := rt.resolve(tenant)
	if !ok {
		writeError(w, antboxerrors.BadRequest("unknown tenant"))
		return
	}
	ac := rt.authContext(r, tenant)

	var meta node.Node
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		writeError(w, antboxerrors.BadRequest("invalid JSON body"))
		return
	}
	out, err := nodeSvc.Create(auth.WithContext(r.Context(), ac), meta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (rt *Router) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	tenant := tenantFromRequest(r)
	nodeSvc, _, ok := rt.resolve(tenant)
	if !ok {
		writeError(w, antboxerrors.BadRequest("unknown tenant"))
		return
	}
	ac := rt.authContext(r, tenant)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, antboxerrors.BadRequest("invalid multipart body"))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, antboxerrors.BadRequest("missing file part"))
		return
	}
	defer file.Close()

	var meta node.Node
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			writeError(w, antboxerrors.BadRequest("invalid metadata JSON"))
			return
		}
	}

	body := make([]byte, 0, 64*1024)
	buf := make([]byte, 64*1024)
	for {
		n, readErr := file.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
		}
		if readErr != nil {
			break
		}
	}

	out, err := nodeSvc.CreateFile(auth.WithContext(r.Context(), ac), body, meta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (rt *Router) handleFind(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	tenant := tenantFromRequest(r)
	nodeSvc, _, ok := rt.resolve(tenant)
	if !ok {
		writeError(w, antboxerrors.BadRequest("unknown tenant"))
		return
	}
	ac := rt.authContext(r, tenant)

	var req struct {
		Filters   json.RawMessage `json:"filters"`
		PageSize  int             `json:"pageSize"`
		PageToken int             `json:"pageToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, antboxerrors.BadRequest("invalid JSON body"))
		return
	}

	var raw any
	if len(req.Filters) > 0 {
		if err := json.Unmarshal(req.Filters, &raw); err != nil {
			writeError(w, antboxerrors.BadRequest("invalid filters"))
			return
		}
	}
	dnf, err := parseDNFFromJSON(raw)
	if err != nil {
		writeError(w, err)
		return
	}

	page, err := nodeSvc.Find(auth.WithContext(r.Context(), ac), dnf, req.PageSize, req.PageToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func nodeUUIDAndTail(path, prefix string) (string, string) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	uuid := parts[0]
	tail := ""
	if len(parts) == 2 {
		tail = parts[1]
	}
	return uuid, tail
}

func (rt *Router) handleNodeItem(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromRequest(r)
	nodeSvc, _, ok := rt.resolve(tenant)
	if !ok {
		writeError(w, antboxerrors.BadRequest("unknown tenant"))
		return
	}
	ac := rt.authContext(r, tenant)
	ctx := auth.WithContext(r.Context(), ac)

	uuid, tail := nodeUUIDAndTail(r.URL.Path, "/v2/nodes/")
	if uuid == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case tail == "-/export":
		out, err := nodeSvc.Export(ctx, uuid)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", out.Type)
		w.Header().Set("Content-Disposition", `attachment; filename="`+out.Name+`"`)
		_, _ = w.Write(out.Body)
		return
	case tail == "-/evaluate":
		out, err := nodeSvc.Evaluate(ctx, uuid)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
		return
	case tail == "-/breadcrumbs":
		out, err := nodeSvc.Breadcrumbs(ctx, uuid)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
		return
	case tail != "":
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		out, err := nodeSvc.Get(ctx, uuid)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPatch:
		var patch node.Patch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, antboxerrors.BadRequest("invalid JSON body"))
			return
		}
		out, err := nodeSvc.Update(ctx, uuid, patch)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodDelete:
		if err := nodeSvc.Delete(ctx, uuid); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (rt *Router) handleFeaturesCollection(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromRequest(r)
	_, featSvc, ok := rt.resolve(tenant)
	if !ok {
		writeError(w, antboxerrors.BadRequest("unknown tenant"))
		return
	}
	ac := rt.authContext(r, tenant)
	ctx := auth.WithContext(r.Context(), ac)

	switch r.Method {
	case http.MethodGet:
		out, err := featSvc.ListFeatures(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		src, err := readBodyString(r)
		if err != nil {
			writeError(w, antboxerrors.BadRequest("invalid body"))
			return
		}
		out, err := featSvc.CreateOrReplace(ctx, src)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	default:
		http.NotFound(w, r)
	}
}

func (rt *Router) handleFeatureAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	tenant := tenantFromRequest(r)
	_, featSvc, ok := rt.resolve(tenant)
	if !ok {
		writeError(w, antboxerrors.BadRequest("unknown tenant"))
		return
	}
	ac := rt.authContext(r, tenant)
	ctx := auth.WithContext(r.Context(), ac)

	uuid, tail := nodeUUIDAndTail(r.URL.Path, "/v2/features/")
	if uuid == "" {
		http.NotFound(w, r)
		return
	}

	var body struct {
		UUIDs  []string       `json:"uuids"`
		Params map[string]any `json:"params"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	switch tail {
	case "-/run":
		out, err := featSvc.RunAction(ctx, uuid, body.UUIDs, body.Params)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": out})
	case "-/ai-tool":
		out, err := featSvc.RunAITool(ctx, uuid, body.Params)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": out})
	case "-/extension":
		query := map[string]string{}
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}
		resp, err := featSvc.RunExtension(ctx, uuid, feature.ExtensionRequest{
			Method: r.Method,
			Query:  query,
			Body:   body.Params,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		if resp.ContentType != "" {
			w.Header().Set("Content-Type", resp.ContentType)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.JSON != nil {
			_ = json.NewEncoder(w).Encode(resp.JSON)
		} else {
			_, _ = w.Write(resp.Body)
		}
	default:
		http.NotFound(w, r)
	}
}

func readBodyString(r *http.Request) (string, error) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := r.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return string(buf), nil
}

func parseDNFFromJSON(raw any) (filter.DNF, error) {
	return filter.ParseDNF(raw)
}
