package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"bridged/pkg/logging"
	"bridged/pkg/models"
	"bridged/pkg/projector"
	"bridged/pkg/store"
	"bridged/pkg/telemetry"
	"bridged/pkg/utils"
)

// RegisterEvents registers the append and list routes for thread logs.
func RegisterEvents(r *mux.Router) {
	r.HandleFunc("/threads/{id}/events", appendEvent).Methods(http.MethodPost)
	r.HandleFunc("/threads/{id}/events", listEvents).Methods(http.MethodGet)
}

// appendEvent handles POST /threads/{id}/events. Message writes from
// non-user participants are gated on the thread's derived state: a muted
// author or a paused thread yields 409 with a structured error naming the
// gate, and nothing is appended. User-authored writes always pass so the
// human can keep steering a paused thread.
func appendEvent(w http.ResponseWriter, r *http.Request) {
	logging.LogRequest(r)
	threadID := mux.Vars(r)["id"]
	var ev models.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		telemetry.WritesRejected.WithLabelValues("invalid_json").Inc()
		utils.JSONError(w, http.StatusBadRequest, "invalid_json", "request body must be JSON")
		return
	}
	ev.Thread = threadID
	if err := rules.ValidateEvent(&ev); err != nil {
		telemetry.WritesRejected.WithLabelValues("invalid_request").Inc()
		utils.JSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if ev.Type == models.TypeMessage && ev.From != models.UserParticipant {
		prior, err := store.ReadEvents(threadID, 0, 0)
		if err != nil {
			writeThreadErr(w, threadID, err)
			return
		}
		st := projector.Project(prior)
		if st.IsMuted(ev.From) {
			telemetry.WritesRejected.WithLabelValues("participant_muted").Inc()
			utils.JSONErrorBody(w, http.StatusConflict, utils.ErrorBody{
				Code:        "participant_muted",
				Message:     "participant is muted in this thread",
				Thread:      threadID,
				Participant: ev.From,
			})
			return
		}
		if st.Paused {
			telemetry.WritesRejected.WithLabelValues("thread_paused").Inc()
			utils.JSONErrorBody(w, http.StatusConflict, utils.ErrorBody{
				Code:        "thread_paused",
				Message:     "thread is paused",
				Thread:      threadID,
				Participant: ev.From,
			})
			return
		}
	}

	appended, err := store.AppendEvent(ev)
	if err != nil {
		writeThreadErr(w, threadID, err)
		return
	}
	telemetry.EventsAppended.WithLabelValues(appended.Type).Inc()

	if appended.Type == models.TypePresence && registry != nil {
		details, _ := appended.Content.(map[string]interface{})
		state := ""
		if details != nil {
			if s, ok := details["state"].(string); ok {
				state = s
			}
		}
		registry.Upsert(threadID, appended.From, state, details)
	}

	_ = utils.JSONWrite(w, http.StatusCreated, appended)
}

// listEvents handles GET /threads/{id}/events?since=<seq>&limit=<n>.
// Events are returned in append order with Seq > since.
func listEvents(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["id"]
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, "invalid_request", "since must be a non-negative integer")
			return
		}
		since = n
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			utils.JSONError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	evs, err := store.ReadEvents(threadID, since, limit)
	if err != nil {
		writeThreadErr(w, threadID, err)
		return
	}
	if evs == nil {
		evs = []models.Event{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{"events": evs, "count": len(evs)})
}
