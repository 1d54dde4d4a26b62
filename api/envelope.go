package api

import "encoding/json"

// resultSuccess is the only envelope result value that means success. Any
// other value is a failure even when the HTTP status is 200.
const resultSuccess = 1

// Envelope is the generic response shape every backend endpoint shares.
type Envelope struct {
	Result       int               `json:"result"`
	Message      string            `json:"message"`
	Data         []json.RawMessage `json:"data"`
	TotalRecords *int              `json:"totalRecords,omitempty"`
}

// OK reports whether the envelope signals success.
func (e Envelope) OK() bool {
	return e.Result == resultSuccess
}

// decodeData unmarshals every element of the envelope's data list into T.
func decodeData[T any](env Envelope) ([]T, error) {
	out := make([]T, 0, len(env.Data))
	for _, raw := range env.Data {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}
