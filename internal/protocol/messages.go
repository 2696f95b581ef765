// Package protocol defines the wire types spoken between the protocol client
// and a tool-provider endpoint, plus the payload extraction rules applied to
// tool results.
package protocol

import "encoding/json"

// Method names understood by a tool provider.
const (
	MethodListTools = "tools/list"
	MethodCallTool  = "tools/call"
)

// Request is one outbound message on the persistent connection.
// IDs are assigned by the client and are unique per connection.
type Request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Response is one inbound message. The provider must echo the request ID
// verbatim; exactly one of Result or Error is set.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is the error half of a response.
type RPCError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

// CallParams carries the arguments for a tools/call request.
type CallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ListToolsResult is the result payload of a tools/list response.
type ListToolsResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// ToolDescriptor describes one discovered tool. Descriptors are created once
// per session during discovery and never mutated afterwards.
type ToolDescriptor struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	InputSchema  map[string]any `json:"inputSchema,omitempty"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
}

// InvocationResult is the outcome of one tool invocation. Err carries a
// provider-reported business error; it is data, not a transport failure, so
// the harness can make a policy decision about it. A result has either Err
// or a payload, never both.
type InvocationResult struct {
	Raw  any               `json:"raw,omitempty"`
	Text string            `json:"text,omitempty"`
	Meta map[string]string `json:"meta,omitempty"`
	Err  string            `json:"error,omitempty"`
}

// IsError reports whether the provider returned a business-level error.
func (r *InvocationResult) IsError() bool {
	return r.Err != ""
}
