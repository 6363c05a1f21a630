package mcp

// Server is one in-process sub-server: a named tool registry the
// dispatcher routes to.
type Server struct {
	name        string
	description string
	*Registry
}

// NewServer creates a sub-server with an empty registry.
func NewServer(name, description string) *Server {
	return &Server{name: name, description: description, Registry: NewRegistry()}
}

// Name returns the routing name of the sub-server.
func (s *Server) Name() string { return s.name }

// Description returns the human description of the sub-server.
func (s *Server) Description() string { return s.description }

// Capabilities reports the wire methods this server answers.
func (s *Server) Capabilities() []string {
	caps := []string{MethodToolsList, MethodToolsCall}
	if s.hasResources() {
		caps = append(caps, MethodResourcesList, MethodResourcesRead)
	}
	return caps
}

// ToolNames returns the registered tool names in registration order.
func (s *Server) ToolNames() []string {
	tools := s.List()
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	return names
}

func (r *Registry) hasResources() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.resources) > 0
}
