package story

import (
	"encoding/json"
	"net/http"
	"time"
)

const (
	msgWordRequired   = "Word is required!"
	msgTooManyRequest = "Too many requests. Please try again later."
	msgGenerateFailed = "Story generation failed"
	msgNotFound       = "Endpoint not found"
	msgBusy           = "Server is busy. Please try again later."
)

type errorBody struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	UsedAPIKey string `json:"usedApiKey,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// RejectJSON adapta as rejeições dos middlewares de ratelimit ao formato de erro da API.
func RejectJSON(w http.ResponseWriter, _ *http.Request, status int, _ time.Duration) {
	msg := msgBusy
	if status == http.StatusTooManyRequests {
		msg = msgTooManyRequest
	}
	writeError(w, status, msg)
}

// mergePayload junta os campos do payload upstream com os campos do gateway.
// Os campos do gateway prevalecem em caso de colisão.
func mergePayload(payload json.RawMessage, extra map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(extra)+4)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, err
		}
	}
	for k, v := range extra {
		out[k] = v
	}
	return out, nil
}
