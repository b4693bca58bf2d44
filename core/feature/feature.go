// Package feature implements the Feature Service described in spec.md
// §4.5: dynamic executable units that run as manual actions, automatic
// event-triggered actions, folder hooks, HTTP extensions, or AI tools.
package feature

import (
	"github.com/kindalus/antbox-sub000/core/filter"
)

// ParamType is the declared type of a Feature parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamObject  ParamType = "object"
	ParamArray   ParamType = "array"
	ParamFile    ParamType = "file"
)

// Parameter declares a single typed input to a Feature invocation.
type Parameter struct {
	Name         string    `json:"name"`
	Type         ParamType `json:"type"`
	ArrayType    ParamType `json:"arrayType,omitempty"`
	Required     bool      `json:"required"`
	Description  string    `json:"description,omitempty"`
	DefaultValue any       `json:"defaultValue,omitempty"`
}

// ReturnType is the shape of a Feature's execution result, used by
// runExtension to decide how to render the HTTP response.
type ReturnType string

const (
	ReturnVoid   ReturnType = "void"
	ReturnFile   ReturnType = "file"
	ReturnArray  ReturnType = "array"
	ReturnObject ReturnType = "object"
	ReturnString ReturnType = "string"
)

// Feature is the configuration record plus executable module described in
// spec.md §4.5.
type Feature struct {
	UUID               string     `json:"uuid"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	Tenant             string     `json:"tenant"`
	ModifiedTime       int64      `json:"modifiedTime"`
	Builtin            bool       `json:"builtin,omitempty"`
	ExposeAction       bool       `json:"exposeAction,omitempty"`
	RunOnCreates       bool       `json:"runOnCreates,omitempty"`
	RunOnUpdates       bool       `json:"runOnUpdates,omitempty"`
	RunOnDeletes       bool       `json:"runOnDeletes,omitempty"`
	RunManually        bool       `json:"runManually,omitempty"`
	Filters            filter.DNF `json:"filters,omitempty"`
	ExposeExtension    bool       `json:"exposeExtension,omitempty"`
	ExposeAITool       bool       `json:"exposeAITool,omitempty"`
	RunAs              string     `json:"runAs,omitempty"`
	GroupsAllowed      []string   `json:"groupsAllowed,omitempty"`
	Parameters         []Parameter `json:"parameters,omitempty"`
	ReturnType         ReturnType `json:"returnType,omitempty"`
	ReturnContentType  string     `json:"returnContentType,omitempty"`
	Module             string     `json:"module"`
}

// IsAction, IsExtension, IsAITool classify a feature by its exposure flags.
func (f Feature) IsAction() bool    { return f.ExposeAction }
func (f Feature) IsExtension() bool { return f.ExposeExtension }
func (f Feature) IsAITool() bool    { return f.ExposeAITool }

// Agent is a tenant-scoped AI configuration bound to a model, per spec.md
// §3. Model integration itself is out of scope (an opaque AIModel).
type Agent struct {
	UUID          string   `json:"uuid"`
	Tenant        string   `json:"tenant"`
	Title         string   `json:"title"`
	Model         string   `json:"model"`
	SystemPrompt  string   `json:"systemPrompt,omitempty"`
	UseTools      bool     `json:"useTools,omitempty"`
	GroupsAllowed []string `json:"groupsAllowed,omitempty"`
}

// Channel distinguishes concurrent-invocation counters for the rate
// limiter, per spec.md §5.
type Channel string

const (
	ChannelAction    Channel = "action"
	ChannelAITool    Channel = "ai-tool"
	ChannelExtension Channel = "extension"
)
