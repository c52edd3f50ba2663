package utils

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the wire shape for rejected requests:
// {"error":{"code","message",...}}. Thread and Participant are filled for
// gate rejections so a blocked writer can tell which gate it hit.
type ErrorBody struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Thread      string `json:"thread,omitempty"`
	Participant string `json:"participant,omitempty"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// JSONError writes a structured error envelope with the given status code.
func JSONError(w http.ResponseWriter, status int, code, message string) {
	JSONErrorBody(w, status, ErrorBody{Code: code, Message: message})
}

// JSONErrorBody writes a fully populated error envelope.
func JSONErrorBody(w http.ResponseWriter, status int, body ErrorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: body})
}

// JSONWrite writes the provided value as JSON with the given status code.
func JSONWrite(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	return json.NewEncoder(w).Encode(v)
}
