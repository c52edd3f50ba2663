package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"bridged/pkg/models"
	"bridged/pkg/projector"
	"bridged/pkg/store"
	"bridged/pkg/utils"
)

// RegisterState registers the derived-state route.
func RegisterState(r *mux.Router) {
	r.HandleFunc("/threads/{id}/state", getState).Methods(http.MethodGet)
}

type stateBody struct {
	Thread     string                           `json:"thread"`
	AsOfSeq    uint64                           `json:"as_of_seq"`
	Paused     bool                             `json:"paused"`
	Muted      []string                         `json:"muted"`
	Discussion models.DiscussionState           `json:"discussion"`
	Fanout     bool                             `json:"fanout"`
	Invited    map[string]models.Invitation     `json:"invited"`
}

// getState handles GET /threads/{id}/state: the participation state derived
// by folding the full log, never a stored value.
func getState(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["id"]
	evs, err := store.ReadEvents(threadID, 0, 0)
	if err != nil {
		writeThreadErr(w, threadID, err)
		return
	}
	st := projector.Project(evs)
	var asOf uint64
	if n := len(evs); n > 0 {
		asOf = evs[n-1].Seq
	}
	_ = utils.JSONWrite(w, http.StatusOK, stateBody{
		Thread:     threadID,
		AsOfSeq:    asOf,
		Paused:     st.Paused,
		Muted:      st.MutedList(),
		Discussion: st.Discussion,
		Fanout:     st.Fanout,
		Invited:    st.Invited,
	})
}
