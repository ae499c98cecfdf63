package models

import "encoding/json"

// Result is the uniform outcome of a repository call.
// Err keeps the underlying error for errors.Is checks and is never serialized.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

// Ok wraps data in a successful Result.
func Ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail converts err into a failed Result.
func Fail[T any](err error) Result[T] {
	return Result[T]{Success: false, Error: err.Error(), Err: err}
}

// MarshalJSON writes {success:true, data} or {success:false, error}.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	if !r.Success {
		return json.Marshal(struct {
			Success bool   `json:"success"`
			Error   string `json:"error"`
		}{false, r.Error})
	}
	return json.Marshal(struct {
		Success bool `json:"success"`
		Data    T    `json:"data"`
	}{true, r.Data})
}

// Empty is the payload of results that carry no data.
type Empty struct{}
