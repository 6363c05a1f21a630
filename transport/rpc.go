// Package transport carries the MCP protocol to clients: an HTTP and
// WebSocket surface for multi-client operation and a stdio stream for
// point-to-point sessions. Both speak the same JSON-RPC-shaped envelope
// and feed the same dispatcher.
package transport

import (
	"context"

	"hivehub.dev/fault"
	"hivehub.dev/mcp"
)

// JSON-RPC error codes used on the wire.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Request is one inbound MCP envelope.
type Request struct {
	JSONRPC string      `json:"jsonrpc,omitempty"`
	ID      interface{} `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  Params      `json:"params,omitempty"`
}

// Params carries the union of the four MCP operations' arguments.
type Params struct {
	// Server pins the target sub-server; empty routes by tool name.
	Server string `json:"server,omitempty"`

	// Name is the tool for tools/call.
	Name string `json:"name,omitempty"`

	// Arguments are the tool arguments for tools/call.
	Arguments map[string]interface{} `json:"arguments,omitempty"`

	// URI addresses a resource for resources/read.
	URI string `json:"uri,omitempty"`
}

// Response is one outbound MCP envelope.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error member.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func okResponse(id, result interface{}) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

func errResponse(id interface{}, code int, message string) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}

// rpcCode maps a taxonomy kind onto the JSON-RPC error space.
func rpcCode(err error) int {
	switch fault.KindOf(err) {
	case fault.InvalidInput:
		return codeInvalidParams
	case fault.NotFound:
		return codeMethodNotFound
	default:
		return codeInternalError
	}
}

// Handle routes one envelope through the dispatcher. Tool-call failures
// travel inside the result envelope (isError true) per the MCP contract;
// only protocol-level problems use the JSON-RPC error member.
func Handle(ctx context.Context, d *mcp.Dispatcher, req *Request) *Response {
	switch req.Method {
	case mcp.MethodToolsList:
		tools, err := d.ToolsList(ctx, req.Params.Server)
		if err != nil {
			return errResponse(req.ID, rpcCode(err), err.Error())
		}
		return okResponse(req.ID, map[string]interface{}{"tools": tools})

	case mcp.MethodToolsCall:
		result, _ := d.ToolsCall(ctx, req.Params.Server, req.Params.Name, req.Params.Arguments)
		return okResponse(req.ID, result)

	case mcp.MethodResourcesList:
		resources, err := d.ResourcesList(ctx, req.Params.Server)
		if err != nil {
			return errResponse(req.ID, rpcCode(err), err.Error())
		}
		return okResponse(req.ID, map[string]interface{}{"resources": resources})

	case mcp.MethodResourcesRead:
		content, err := d.ResourcesRead(ctx, req.Params.Server, req.Params.URI)
		if err != nil {
			return errResponse(req.ID, rpcCode(err), err.Error())
		}
		return okResponse(req.ID, map[string]interface{}{"contents": []*mcp.ResourceContent{content}})

	default:
		return errResponse(req.ID, codeMethodNotFound, "unknown method "+req.Method)
	}
}
