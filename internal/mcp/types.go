package mcp

// TransportKind selects how a server is reached.
type TransportKind string

const (
	TransportStdio TransportKind = "stdio"
	TransportHTTP  TransportKind = "http"
)

// ServerConfig describes one MCP server to connect to.
type ServerConfig struct {
	Name      string            `yaml:"name"`
	Transport TransportKind     `yaml:"transport"`
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Enabled   bool              `yaml:"enabled"`
}

// Tool is one callable tool from the aggregated catalog.
type Tool struct {
	// Name as declared by the server.
	Name string

	// Description shown to the model.
	Description string

	// InputSchema is the JSON-schema object describing the arguments.
	InputSchema map[string]any

	// Server is the name of the server exposing this tool.
	Server string
}
