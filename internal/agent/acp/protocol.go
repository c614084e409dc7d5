// Package acp adapts the JSON-RPC-over-stdio agent family (Factory's
// Droid CLI is the first member) to the agent.Adapter contract. Each CLI
// in this family speaks a near-identical stream-jsonrpc protocol under its
// own method namespace (e.g. "droid.initialize_session"); Namespace in
// Config picks that prefix so the same adapter code serves the whole
// family.
package acp

import "fmt"

// Request is a JSON-RPC 2.0 request in the stream-jsonrpc dialect this
// agent family uses over stdin/stdout.
type Request struct {
	JSONRPC           string `json:"jsonrpc"`
	FactoryAPIVersion string `json:"factoryApiVersion"`
	Type              string `json:"type"`
	Method            string `json:"method"`
	Params            any    `json:"params,omitempty"`
	ID                string `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC           string `json:"jsonrpc"`
	FactoryAPIVersion string `json:"factoryApiVersion"`
	Type              string `json:"type"`
	Result            any    `json:"result,omitempty"`
	Error             *RPCError `json:"error,omitempty"`
	ID                string    `json:"id"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// initializeSessionParams is the payload for <namespace>.initialize_session.
type initializeSessionParams struct {
	MachineID string `json:"machineId"`
	Cwd       string `json:"cwd"`
	Prompt    string `json:"prompt,omitempty"`
}

// addUserMessageParams is the payload for <namespace>.add_user_message.
type addUserMessageParams struct {
	Text string `json:"text"`
}

var requestIDCounter int64

func nextRequestID() string {
	requestIDCounter++
	return fmt.Sprintf("%d", requestIDCounter)
}

func newInitializeSessionRequest(namespace, prompt, cwd, machineID string) *Request {
	return &Request{
		JSONRPC: "2.0", FactoryAPIVersion: "1.0.0", Type: "request",
		Method: namespace + ".initialize_session",
		Params: initializeSessionParams{MachineID: machineID, Cwd: cwd, Prompt: prompt},
		ID:     nextRequestID(),
	}
}

func newUserMessageRequest(namespace, message string) *Request {
	return &Request{
		JSONRPC: "2.0", FactoryAPIVersion: "1.0.0", Type: "request",
		Method: namespace + ".add_user_message",
		Params: addUserMessageParams{Text: message},
		ID:     nextRequestID(),
	}
}

func newInterruptRequest(namespace string) *Request {
	return &Request{
		JSONRPC: "2.0", FactoryAPIVersion: "1.0.0", Type: "request",
		Method: namespace + ".interrupt_session",
		ID:     nextRequestID(),
	}
}
