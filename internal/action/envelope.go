package action

import "encoding/json"

// Envelope status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Error codes reported in error.message.
const (
	CodeUnauthorized      = "unauthorized"
	CodeInvalidAction     = "invalid_action"
	CodeInvalidJSON       = "invalid_json"
	CodeReloadFailed      = "reload_failed"
	CodeUnsupportedAction = "unsupported_action"
	CodeExecutionError    = "executionerror"
	CodeInvalidParams     = "invalid_params"
)

// Response is the envelope written back for every request.
type Response struct {
	Status string       `json:"status"`
	Result interface{}  `json:"result,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// MarshalJSON keeps "result" present on success even when the payload is empty.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Status == StatusOK {
		result := r.Result
		if result == nil {
			result = map[string]interface{}{}
		}
		return json.Marshal(struct {
			Status string      `json:"status"`
			Result interface{} `json:"result"`
		}{r.Status, result})
	}

	type plain Response
	return json.Marshal(plain(r))
}

// OK builds a success envelope.
func OK(result interface{}) *Response {
	return &Response{Status: StatusOK, Result: result}
}

// Err builds a failure envelope. details may be nil.
func Err(code string, details interface{}) *Response {
	return &Response{
		Status: StatusError,
		Error:  &ErrorDetail{Message: code, Details: details},
	}
}

// IsOK reports whether the envelope is a success.
func (r *Response) IsOK() bool {
	return r != nil && r.Status == StatusOK
}

// Code returns the error code, or "" for a success envelope.
func (r *Response) Code() string {
	if r == nil || r.Error == nil {
		return ""
	}
	return r.Error.Message
}

// Normalize turns a handler's return value into an envelope. Values that already
// have the envelope shape (a *Response, or a map with status "ok"/"error") pass
// through; everything else is wrapped as a success result.
func Normalize(result interface{}) *Response {
	switch v := result.(type) {
	case *Response:
		if v != nil {
			return v
		}
		return OK(nil)
	case Response:
		return &v
	case map[string]interface{}:
		if resp, ok := envelopeFromMap(v); ok {
			return resp
		}
	}
	return OK(result)
}

func envelopeFromMap(m map[string]interface{}) (*Response, bool) {
	status, _ := m["status"].(string)
	switch status {
	case StatusOK:
		for key := range m {
			if key != "status" && key != "result" {
				return nil, false
			}
		}
		return OK(m["result"]), true
	case StatusError:
		errObj, ok := m["error"].(map[string]interface{})
		if !ok {
			return nil, false
		}
		message, ok := errObj["message"].(string)
		if !ok {
			return nil, false
		}
		return Err(message, errObj["details"]), true
	default:
		return nil, false
	}
}
