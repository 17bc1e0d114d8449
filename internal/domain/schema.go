package domain

import "time"

// ToolDef is a normalized tool entry from one server's schema document.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
	Namespace   string         `json:"namespace"`
}

// ResourceDef is a normalized resource entry.
type ResourceDef struct {
	Name        string `json:"name"`
	URI         string `json:"uri,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Namespace   string `json:"namespace"`
}

// PromptDef is a normalized prompt entry.
type PromptDef struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
	Namespace   string           `json:"namespace"`
}

// PromptArgument describes one prompt parameter.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// ServerSchema is the normalized capability document fetched from one server.
type ServerSchema struct {
	ServerID     string        `json:"serverId"`
	Namespace    string        `json:"namespace"`
	Capabilities []string      `json:"capabilities,omitempty"`
	Tools        []ToolDef     `json:"tools,omitempty"`
	Resources    []ResourceDef `json:"resources,omitempty"`
	Prompts      []PromptDef   `json:"prompts,omitempty"`
	FetchedAt    time.Time     `json:"fetchedAt"`
}

// SchemaConflict records one logical name claimed by two or more namespaces.
type SchemaConflict struct {
	Kind       string   `json:"kind"` // tool, resource, prompt
	Name       string   `json:"name"`
	Namespaces []string `json:"namespaces"`
	Resolution string   `json:"resolution"` // always "namespace"
}

// FederatedSchema is the merged capability listing across all contributing
// servers, rebuilt wholesale on each federation cycle.
type FederatedSchema struct {
	Tools        []ToolDef        `json:"tools"`
	Resources    []ResourceDef    `json:"resources"`
	Prompts      []PromptDef      `json:"prompts"`
	Conflicts    []SchemaConflict `json:"conflicts"`
	Capabilities []string         `json:"capabilities"`
	Namespaces   []string         `json:"namespaces"`
	ServerCount  int              `json:"serverCount"`
	GeneratedAt  time.Time        `json:"generatedAt"`
}
