package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"bridged/pkg/store"
	"bridged/pkg/utils"
)

// RegisterPresence registers the presence report and snapshot routes.
func RegisterPresence(r *mux.Router) {
	r.HandleFunc("/threads/{id}/presence", reportPresence).Methods(http.MethodPost)
	r.HandleFunc("/threads/{id}/presence", getPresence).Methods(http.MethodGet)
}

// reportPresence handles POST /threads/{id}/presence. Presence is volatile
// and never appended to the log; omitting details keeps the previously
// reported ones.
func reportPresence(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["id"]
	if _, err := store.GetThread(threadID); err != nil {
		writeThreadErr(w, threadID, err)
		return
	}
	var body struct {
		ID      string                 `json:"id"`
		From    string                 `json:"from"` // accepted alias for id
		State   string                 `json:"state"`
		Details map[string]interface{} `json:"details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid_json", "request body must be JSON")
		return
	}
	if body.ID == "" {
		body.ID = body.From
	}
	if body.ID == "" {
		utils.JSONError(w, http.StatusBadRequest, "invalid_request", "id required")
		return
	}
	registry.Upsert(threadID, body.ID, body.State, body.Details)
	w.WriteHeader(http.StatusNoContent)
}

// getPresence handles GET /threads/{id}/presence.
func getPresence(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["id"]
	if _, err := store.GetThread(threadID); err != nil {
		writeThreadErr(w, threadID, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{
		"ttl_seconds":  int(registry.TTL().Seconds()),
		"participants": registry.Snapshot(threadID),
	})
}
