package feature

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kindalus/antbox-sub000/core/auth"
	"github.com/kindalus/antbox-sub000/core/event"
	"github.com/kindalus/antbox-sub000/core/feature/runtime"
	"github.com/kindalus/antbox-sub000/core/filter"
	"github.com/kindalus/antbox-sub000/core/identity"
	"github.com/kindalus/antbox-sub000/core/node"
	"github.com/kindalus/antbox-sub000/core/ratelimit"
	"github.com/kindalus/antbox-sub000/platform/logging"
	antboxerrors "github.com/kindalus/antbox-sub000/platform/errors"
)

// ExtensionRequest is the already-parsed shape of an inbound HTTP extension
// call (§4.5 runExtension). Parsing the wire format (querystring, JSON body,
// multipart form) is an httpapi concern; the Feature Service only consumes
// the result.
type ExtensionRequest struct {
	Method string
	Query  map[string]string
	Body   map[string]any
}

// ExtensionResponse shapes the outcome of runExtension per feature.ReturnType.
type ExtensionResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
	JSON        any
}

// Service implements the Feature Service described in spec.md §4.5: it
// loads, validates, and executes features, and routes the six kinds of
// event-driven reactions.
type Service struct {
	repo    identity.ConfigRepository[Feature]
	groups  *identity.GroupService
	nodeSvc *node.Service
	engine  *runtime.Engine
	limiter *ratelimit.Limiter
	logger  *logging.Logger

	now func() time.Time
}

// Option customizes Service construction, mirroring the Node Service's
// functional-options pattern.
type Option func(*Service)

func WithClock(f func() time.Time) Option { return func(s *Service) { s.now = f } }

// NewService wires repo/groups/nodeSvc/engine/limiter together and
// subscribes to the node event bus to drive automatic actions and folder
// hooks, per spec.md §4.5's event-driven execution section.
func NewService(repo identity.ConfigRepository[Feature], groups *identity.GroupService, nodeSvc *node.Service, bus *event.Bus, engine *runtime.Engine, limiter *ratelimit.Limiter, logger *logging.Logger, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		groups:  groups,
		nodeSvc: nodeSvc,
		engine:  engine,
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if bus != nil {
		bus.Subscribe(event.NodeCreated, "feature-reactions", s.reactTo(event.NodeCreated))
		bus.Subscribe(event.NodeUpdated, "feature-reactions", s.reactTo(event.NodeUpdated))
		bus.Subscribe(event.NodeDeleted, "feature-reactions", s.reactTo(event.NodeDeleted))
	}
	return s
}

func requireAdminOrRoot(ctx context.Context) error {
	ac := auth.FromContext(ctx)
	if !ac.Principal.IsAdmin() {
		return antboxerrors.Forbidden("admin privileges required")
	}
	return nil
}

// createOrReplace parses and validates a Feature module's exported config,
// then adds or updates its record. Admin-only.
func (s *Service) CreateOrReplace(ctx context.Context, source string) (Feature, error) {
	if err := requireAdminOrRoot(ctx); err != nil {
		return Feature{}, err
	}

	cfg, err := runtime.ParseModuleConfig(source)
	if err != nil {
		return Feature{}, err
	}

	f, err := decodeFeature(cfg)
	if err != nil {
		return Feature{}, err
	}
	f.Module = source
	f.Tenant = auth.FromContext(ctx).Tenant
	f.ModifiedTime = s.now().UnixNano()

	if err := validateFeatureShape(f); err != nil {
		return Feature{}, err
	}

	if f.RunAs != "" {
		if _, err := s.groups.Get(ctx, f.RunAs); err != nil {
			return Feature{}, antboxerrors.BadRequest("runAs references an unknown group: " + f.RunAs)
		}
	}

	existing, err := s.repo.Get(ctx, f.UUID)
	if err == nil {
		if existing.Builtin {
			return Feature{}, antboxerrors.Forbidden("builtin features cannot be replaced")
		}
		f.Builtin = existing.Builtin
		if err := s.repo.Update(ctx, f.UUID, f); err != nil {
			return Feature{}, err
		}
	} else {
		if err := s.repo.Add(ctx, f.UUID, f); err != nil {
			return Feature{}, err
		}
	}

	s.engine.Invalidate(f.UUID)
	return f, nil
}

func decodeFeature(cfg map[string]any) (Feature, error) {
	uuidVal, _ := cfg["uuid"].(string)
	if uuidVal == "" {
		return Feature{}, antboxerrors.BadRequest("module config must declare a uuid")
	}
	title, _ := cfg["title"].(string)
	if title == "" {
		return Feature{}, antboxerrors.BadRequest("module config must declare a title")
	}

	dnf, err := filter.ParseDNF(cfg["filters"])
	if err != nil {
		return Feature{}, err
	}

	f := Feature{
		UUID:              uuidVal,
		Title:             title,
		Description:       stringField(cfg, "description"),
		ExposeAction:      boolField(cfg, "exposeAction"),
		RunOnCreates:      boolField(cfg, "runOnCreates"),
		RunOnUpdates:      boolField(cfg, "runOnUpdates"),
		RunOnDeletes:      boolField(cfg, "runOnDeletes"),
		RunManually:       boolField(cfg, "runManually"),
		Filters:           dnf,
		ExposeExtension:   boolField(cfg, "exposeExtension"),
		ExposeAITool:      boolField(cfg, "exposeAITool"),
		RunAs:             stringField(cfg, "runAs"),
		GroupsAllowed:     stringSliceField(cfg, "groupsAllowed"),
		ReturnType:        ReturnType(stringField(cfg, "returnType")),
		ReturnContentType: stringField(cfg, "returnContentType"),
	}

	params, err := decodeParameters(cfg["parameters"])
	if err != nil {
		return Feature{}, err
	}
	f.Parameters = params

	return f, nil
}

func decodeParameters(raw any) ([]Parameter, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, nil
	}
	out := make([]Parameter, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, antboxerrors.BadRequest("parameter entries must be objects")
		}
		name := stringField(m, "name")
		if name == "" {
			return nil, antboxerrors.BadRequest("parameter entries must declare a name")
		}
		out = append(out, Parameter{
			Name:         name,
			Type:         ParamType(stringField(m, "type")),
			ArrayType:    ParamType(stringField(m, "arrayType")),
			Required:     boolField(m, "required"),
			Description:  stringField(m, "description"),
			DefaultValue: m["defaultValue"],
		})
	}
	return out, nil
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func stringSliceField(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// validateFeatureShape enforces the action parameter constraints from
// spec.md §4.5: actions must declare a required uuids:array<string>
// parameter and must not declare any file parameter.
func validateFeatureShape(f Feature) error {
	if !f.ExposeAction {
		return nil
	}
	var hasUUIDs bool
	for _, p := range f.Parameters {
		if p.Type == ParamFile {
			return antboxerrors.BadRequest("actions must not declare a file parameter")
		}
		if p.Name == "uuids" {
			if p.Type != ParamArray || !p.Required {
				return antboxerrors.BadRequest("uuids parameter must be a required array")
			}
			hasUUIDs = true
		}
	}
	if !hasUUIDs {
		return antboxerrors.BadRequest("actions must declare a required uuids parameter")
	}
	return nil
}

// Get returns a feature, enforcing no particular authority (read access is
// filtered at the list level per spec.md §4.5).
func (s *Service) Get(ctx context.Context, uuid string) (Feature, error) {
	f, err := s.repo.Get(ctx, uuid)
	if err != nil {
		return Feature{}, antboxerrors.FeatureNotFound(uuid)
	}
	return f, nil
}

func (s *Service) visibleTo(ctx context.Context, f Feature) bool {
	ac := auth.FromContext(ctx)
	if ac.Principal.IsAdmin() {
		return true
	}
	if len(f.GroupsAllowed) == 0 {
		return true
	}
	for _, g := range f.GroupsAllowed {
		if ac.Principal.InGroup(g) {
			return true
		}
	}
	return false
}

// ListFeatures returns every feature visible to the caller: list filters out
// entries not in groupsAllowed unless caller is admin or root.
func (s *Service) ListFeatures(ctx context.Context) ([]Feature, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, antboxerrors.Unknown(err)
	}
	out := make([]Feature, 0, len(all))
	for _, f := range all {
		if s.visibleTo(ctx, f) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out, nil
}

func (s *Service) listWhere(ctx context.Context, pred func(Feature) bool) ([]Feature, error) {
	all, err := s.ListFeatures(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Feature, 0, len(all))
	for _, f := range all {
		if pred(f) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Service) ListActions(ctx context.Context) ([]Feature, error) {
	return s.listWhere(ctx, Feature.IsAction)
}

func (s *Service) ListAITools(ctx context.Context) ([]Feature, error) {
	return s.listWhere(ctx, Feature.IsAITool)
}

func (s *Service) ListExtensions(ctx context.Context) ([]Feature, error) {
	return s.listWhere(ctx, Feature.IsExtension)
}

// Delete removes a feature. Builtin features cannot be deleted. Admin-only.
func (s *Service) Delete(ctx context.Context, uuid string) error {
	if err := requireAdminOrRoot(ctx); err != nil {
		return err
	}
	f, err := s.repo.Get(ctx, uuid)
	if err != nil {
		return antboxerrors.FeatureNotFound(uuid)
	}
	if f.Builtin {
		return antboxerrors.Forbidden("builtin features cannot be deleted")
	}
	if err := s.repo.Delete(ctx, uuid); err != nil {
		return antboxerrors.Unknown(err)
	}
	s.engine.Invalidate(uuid)
	return nil
}

// Export returns the feature's raw module source.
func (s *Service) Export(ctx context.Context, uuid string) (string, error) {
	f, err := s.Get(ctx, uuid)
	if err != nil {
		return "", err
	}
	return f.Module, nil
}

// RunAction implements spec.md §4.5's runAction execution path.
func (s *Service) RunAction(ctx context.Context, uuid string, nodeUUIDs []string, params map[string]any) (any, error) {
	f, err := s.Get(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if !f.ExposeAction {
		return nil, antboxerrors.BadRequest("feature is not exposed as an action")
	}
	ac := auth.FromContext(ctx)
	if ac.Mode == auth.ModeDirect && !f.RunManually {
		return nil, antboxerrors.BadRequest("feature is not run manually")
	}

	survivors := make([]string, 0, len(nodeUUIDs))
	for _, u := range nodeUUIDs {
		n, err := s.nodeSvc.Get(ctx, u)
		if err != nil {
			continue
		}
		if len(f.Filters) > 0 {
			ok, err := f.Filters.Matches(n)
			if err != nil || !ok {
				continue
			}
		}
		survivors = append(survivors, u)
	}

	callArgs := map[string]any{}
	for k, v := range params {
		callArgs[k] = v
	}
	callArgs["uuids"] = survivors

	return s.run(ctx, f, ChannelAction, callArgs)
}

// builtinAIRoute is a fixed "Service:method" style AI tool identifier routed
// directly to core service methods rather than through a Feature module,
// per spec.md §4.5 runAITool.
func (s *Service) builtinAIRoute(ctx context.Context, route string, params map[string]any) (any, bool, error) {
	parts := strings.SplitN(route, ":", 2)
	if len(parts) != 2 || parts[0] != "NodeService" {
		return nil, false, nil
	}

	proxy := NewNodeServiceProxy(s.nodeSvc, auth.FromContext(ctx))
	switch parts[1] {
	case "find":
		dnf, err := filter.ParseDNF(params["filters"])
		if err != nil {
			return nil, true, err
		}
		pageSize, _ := toInt(params["pageSize"])
		pageToken, _ := toInt(params["pageToken"])
		res, err := proxy.Find(dnf, pageSize, pageToken)
		return res, true, err
	case "get":
		uuid, _ := params["uuid"].(string)
		res, err := proxy.Get(uuid)
		return res, true, err
	case "list":
		parent, _ := params["parent"].(string)
		res, err := proxy.List(parent)
		return res, true, err
	case "create":
		res, err := proxy.Create(nodeFromParams(params))
		return res, true, err
	case "duplicate":
		uuid, _ := params["uuid"].(string)
		res, err := proxy.Duplicate(uuid)
		return res, true, err
	case "copy":
		uuid, _ := params["uuid"].(string)
		parent, _ := params["parent"].(string)
		res, err := proxy.Copy(uuid, parent)
		return res, true, err
	case "breadcrumbs":
		uuid, _ := params["uuid"].(string)
		res, err := proxy.Breadcrumbs(uuid)
		return res, true, err
	case "update":
		uuid, _ := params["uuid"].(string)
		res, err := proxy.Update(uuid, patchFromParams(params))
		return res, true, err
	case "delete":
		uuid, _ := params["uuid"].(string)
		err := proxy.Delete(uuid)
		return nil, true, err
	case "export":
		uuid, _ := params["uuid"].(string)
		res, err := proxy.Export(uuid)
		return res, true, err
	default:
		return nil, false, nil
	}
}

func nodeFromParams(params map[string]any) node.Node {
	n := node.Node{}
	n.Title, _ = params["title"].(string)
	n.Mimetype, _ = params["mimetype"].(string)
	n.Parent, _ = params["parent"].(string)
	return n
}

// patchFromParams builds a node.Patch from the subset of fields an AI tool
// caller may legitimately set via the NodeService:update builtin route.
func patchFromParams(params map[string]any) node.Patch {
	var p node.Patch
	if title, ok := params["title"].(string); ok {
		p.Title = &title
	}
	if desc, ok := params["description"].(string); ok {
		p.Description = &desc
	}
	if parent, ok := params["parent"].(string); ok {
		p.Parent = &parent
	}
	if props, ok := params["properties"].(map[string]any); ok {
		p.Properties = props
	}
	if aspects, ok := toStringSlice(params["aspects"]); ok {
		p.Aspects = aspects
	}
	if tags, ok := toStringSlice(params["tags"]); ok {
		p.Tags = tags
	}
	return p
}

func toStringSlice(v any) ([]string, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	default:
		return 0, false
	}
}

// RunAITool implements spec.md §4.5's runAITool execution path.
func (s *Service) RunAITool(ctx context.Context, uuid string, params map[string]any) (any, error) {
	if strings.Contains(uuid, ":") {
		result, handled, err := s.builtinAIRoute(ctx, uuid, params)
		if handled {
			return result, err
		}
	}

	f, err := s.Get(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if !f.ExposeAITool {
		return nil, antboxerrors.BadRequest("feature is not exposed as an AI tool")
	}
	return s.run(ctx, f, ChannelAITool, params)
}

// RunExtension implements spec.md §4.5's runExtension execution path,
// shaping the response according to the feature's declared returnType.
func (s *Service) RunExtension(ctx context.Context, uuid string, req ExtensionRequest) (ExtensionResponse, error) {
	f, err := s.Get(ctx, uuid)
	if err != nil {
		return ExtensionResponse{}, err
	}
	if !f.ExposeExtension {
		return ExtensionResponse{}, antboxerrors.BadRequest("feature is not exposed as an extension")
	}

	params := map[string]any{}
	for k, v := range req.Query {
		params[k] = v
	}
	for k, v := range req.Body {
		params[k] = v
	}

	result, err := s.run(ctx, f, ChannelExtension, params)
	if err != nil {
		return ExtensionResponse{}, err
	}

	switch f.ReturnType {
	case ReturnVoid:
		return ExtensionResponse{StatusCode: 200, ContentType: "text/plain", Body: []byte("OK")}, nil
	case ReturnFile:
		body, _ := result.([]byte)
		ct := f.ReturnContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		return ExtensionResponse{StatusCode: 200, ContentType: ct, Body: body}, nil
	case ReturnArray, ReturnObject:
		return ExtensionResponse{StatusCode: 200, ContentType: "application/json", JSON: result}, nil
	default:
		ct := f.ReturnContentType
		if ct == "" {
			ct = "text/plain"
		}
		return ExtensionResponse{StatusCode: 200, ContentType: ct, Body: []byte(fmt.Sprint(result))}, nil
	}
}

// run is the internal #run boundary described in spec.md §4.5: it enforces
// groupsAllowed, applies runAs elevation, validates required parameters,
// tracks concurrency via the rate limiter, and invokes the module.
func (s *Service) run(ctx context.Context, f Feature, channel Channel, params map[string]any) (any, error) {
	ac := auth.FromContext(ctx)

	if len(f.GroupsAllowed) > 0 && !ac.Principal.IsAdmin() {
		allowed := false
		for _, g := range f.GroupsAllowed {
			if ac.Principal.InGroup(g) {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, antboxerrors.Forbidden("caller is not in a group allowed to run this feature")
		}
	}

	runCtx := ac
	if f.RunAs != "" && !ac.Principal.InGroup(f.RunAs) {
		runCtx = ac.WithGroup(f.RunAs)
	}

	for _, p := range f.Parameters {
		if !p.Required {
			continue
		}
		if _, ok := params[p.Name]; !ok {
			return nil, antboxerrors.BadRequest("missing required parameter: " + p.Name)
		}
	}

	release, err := s.limiter.Acquire(f.UUID, string(channel))
	if err != nil {
		return nil, err
	}
	defer release()

	goCtx := auth.WithContext(context.Background(), runCtx)
	proxy := NewNodeServiceProxy(s.nodeSvc, runCtx)

	key := runtime.CacheKey{UUID: f.UUID, ModifiedTime: time.Unix(0, f.ModifiedTime)}
	principalMap := map[string]any{"email": runCtx.Principal.Email, "groups": runCtx.Principal.Groups}

	res, err := s.engine.Execute(goCtx, key, f.Module, principalMap, proxy, params)
	if err != nil {
		return nil, err
	}
	if s.logger != nil {
		for _, line := range res.Logs {
			s.logger.WithContext(goCtx).WithField("feature", f.UUID).Debug(line)
		}
	}
	return res.Value, nil
}

// reactTo builds the event.Handler driving both domain-wide automatic
// actions (A) and folder hooks (B) for the given event kind, per spec.md
// §4.5's event-driven execution section.
func (s *Service) reactTo(kind event.Kind) event.Handler {
	return func(ctx context.Context, evt event.Event) error {
		s.runAutomaticActions(evt, kind)
		s.runFolderHooks(evt, kind)
		return nil
	}
}

func (s *Service) runAutomaticActions(evt event.Event, kind event.Kind) {
	ac := auth.Elevated(evt.Tenant)
	features, err := s.ListFeatures(auth.WithContext(context.Background(), ac))
	if err != nil {
		return
	}

	payload := evt.NewValues
	if payload == nil {
		payload = evt.OldValues
	}
	fields := filter.MapFields(payload)

	for _, f := range features {
		if !f.ExposeAction {
			continue
		}
		switch kind {
		case event.NodeCreated:
			if !f.RunOnCreates {
				continue
			}
		case event.NodeUpdated:
			if !f.RunOnUpdates {
				continue
			}
		case event.NodeDeleted:
			if !f.RunOnDeletes {
				continue
			}
		}
		if len(f.Filters) > 0 {
			ok, err := f.Filters.Matches(fields)
			if err != nil || !ok {
				continue
			}
		}
		runCtx := auth.WithContext(context.Background(), ac)
		if _, err := s.run(runCtx, f, ChannelAction, map[string]any{"uuids": []string{evt.UUID}}); err != nil && s.logger != nil {
			s.logger.WithContext(runCtx).WithField("feature", f.UUID).Warn("automatic action failed: " + err.Error())
		}
	}
}

func (s *Service) runFolderHooks(evt event.Event, kind event.Kind) {
	payload := evt.NewValues
	if payload == nil {
		payload = evt.OldValues
	}
	parent, _ := payload["parent"].(string)
	if parent == "" || parent == node.RootUUID {
		return
	}

	ac := auth.Elevated(evt.Tenant)
	folder, err := s.nodeSvc.Get(auth.WithContext(context.Background(), ac), parent)
	if err != nil {
		return
	}

	var hooks []string
	switch kind {
	case event.NodeCreated:
		hooks = folder.OnCreate
	case event.NodeUpdated:
		hooks = folder.OnUpdate
	case event.NodeDeleted:
		hooks = folder.OnDelete
	}

	hookCtx := auth.Direct(auth.Principal{Email: evt.UserEmail}, evt.Tenant).AsMode(auth.ModeAction)
	runCtx := auth.WithContext(context.Background(), hookCtx)

	for _, hook := range hooks {
		featureUUID, params := parseHookInvocation(hook)
		if featureUUID == "" {
			continue
		}
		f, err := s.Get(runCtx, featureUUID)
		if err != nil {
			continue
		}
		params["uuids"] = []string{evt.UUID}
		if _, err := s.run(runCtx, f, ChannelAction, params); err != nil && s.logger != nil {
			s.logger.WithContext(runCtx).WithField("feature", featureUUID).Warn("folder hook failed: " + err.Error())
		}
	}
}

// parseHookInvocation parses a "<featureUuid> key=value ..." action
// invocation string, per spec.md §4.5's folder hook format.
func parseHookInvocation(s string) (string, map[string]any) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", nil
	}
	params := map[string]any{}
	for _, kv := range fields[1:] {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			params[parts[0]] = parts[1]
		}
	}
	return fields[0], params
}
