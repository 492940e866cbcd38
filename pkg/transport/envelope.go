package transport

import "encoding/json"

// Error codes carried in a Response.
const (
	CodeServiceNotFound = "ServiceNotFound"
	CodeMethodNotFound  = "MethodNotFound"
	CodeInvalidParams   = "InvalidParams"
	CodeInternal        = "Internal"
)

// Request is a single call. ID correlates the Response.
type Request struct {
	ID      string          `json:"id"`
	Service string          `json:"service"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
