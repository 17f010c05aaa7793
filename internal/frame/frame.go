// Package frame implements the newline-delimited JSON frame grammar
// exchanged between the host bridge and a sandbox invocation's stdio.
package frame

import "encoding/json"

// Kind is the discriminator on the "kind" field of every frame.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindStdout   Kind = "stdout"
	KindStderr   Kind = "stderr"
	KindDone     Kind = "done"
)

// Request is a frame the sandbox sends upstream asking the host to
// perform an action (a downstream tool call or a discovery query).
type Request struct {
	Kind   Kind            `json:"kind"`
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseError is the error shape carried in a failed Response.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response answers exactly one Request by matching ID.
type Response struct {
	Kind   Kind            `json:"kind"`
	ID     int64           `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// NewOKResponse builds a successful Response, marshaling result to JSON.
func NewOKResponse(id int64, result any) (Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{}, err
	}
	return Response{Kind: KindResponse, ID: id, OK: true, Result: raw}, nil
}

// NewErrorResponse builds a failed Response carrying a stable error kind.
func NewErrorResponse(id int64, code, message string) Response {
	return Response{Kind: KindResponse, ID: id, OK: false, Error: &ResponseError{Code: code, Message: message}}
}

// Stdout carries one chunk of the user script's standard output.
type Stdout struct {
	Kind Kind   `json:"kind"`
	Data string `json:"data"`
}

// Stderr carries one chunk of the user script's standard error, or a
// bridge-detected protocol problem rendered as sandbox-visible text.
type Stderr struct {
	Kind Kind   `json:"kind"`
	Data string `json:"data"`
}

// Done marks completion of the user script.
type Done struct {
	Kind   Kind   `json:"kind"`
	Status string `json:"status"` // "ok" | "error"
	Error  string `json:"error,omitempty"`
}

func NewStdout(data string) Stdout { return Stdout{Kind: KindStdout, Data: data} }
func NewStderr(data string) Stderr { return Stderr{Kind: KindStderr, Data: data} }
func NewDone(status, errMsg string) Done {
	return Done{Kind: KindDone, Status: status, Error: errMsg}
}

// peekKind is used by the decoder to dispatch to the right concrete type.
type peekKind struct {
	Kind Kind `json:"kind"`
}
