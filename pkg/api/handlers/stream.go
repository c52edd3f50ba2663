package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"bridged/pkg/logging"
	"bridged/pkg/store"
	"bridged/pkg/utils"
)

// RegisterStream registers the SSE live tail route.
func RegisterStream(r *mux.Router) {
	r.HandleFunc("/threads/{id}/events/stream", streamEvents).Methods(http.MethodGet)
}

// streamEvents handles GET /threads/{id}/events/stream as Server-Sent
// Events. With ?since=<seq> the stored suffix is replayed before live
// delivery; without it the stream starts at the end of the log. Each event
// is one `data:` frame; a comment line is written every keep-alive interval
// so intermediaries don't reap idle connections.
func streamEvents(w http.ResponseWriter, r *http.Request) {
	logging.LogRequest(r)
	threadID := mux.Vars(r)["id"]

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.JSONError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	th, err := store.GetThread(threadID)
	if err != nil {
		writeThreadErr(w, threadID, err)
		return
	}

	since := th.LastSeq
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, "invalid_request", "since must be a non-negative integer")
			return
		}
		since = n
	}

	sub, err := streams.Subscribe(threadID, since)
	if err != nil {
		writeThreadErr(w, threadID, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-sub.Events():
			if !open {
				// torn down (slow consumer); client reconnects with since=<last seq>
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(b); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
