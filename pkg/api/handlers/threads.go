package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"bridged/pkg/logging"
	"bridged/pkg/models"
	"bridged/pkg/store"
	"bridged/pkg/utils"
	"bridged/pkg/validation"
)

// RegisterThreads registers thread collection and single-resource routes.
func RegisterThreads(r *mux.Router) {
	r.HandleFunc("/threads", createThread).Methods(http.MethodPost)
	r.HandleFunc("/threads", listThreads).Methods(http.MethodGet)
	r.HandleFunc("/threads/{id}", getThread).Methods(http.MethodGet)
	r.HandleFunc("/threads/{id}/rename", renameThread).Methods(http.MethodPost)
}

// createThread handles POST /threads. Creating a thread appends its
// thread.created event, so a new log is never empty.
func createThread(w http.ResponseWriter, r *http.Request) {
	logging.LogRequest(r)
	var body struct {
		Name string `json:"name"`
		From string `json:"from"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid_json", "request body must be JSON")
		return
	}
	if err := validation.ValidateThreadName(body.Name); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if body.From == "" {
		body.From = models.UserParticipant
	}
	th, err := store.CreateThread(body.Name, body.From)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "internal", "failed to create thread")
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, th)
}

func listThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := store.ListThreads()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "internal", "failed to list threads")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{"threads": threads})
}

func getThread(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	th, err := store.GetThread(id)
	if err != nil {
		writeThreadErr(w, id, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, th)
}

// renameThread appends a thread.renamed event; the index record follows from
// the append, keeping the log as the single source of truth.
func renameThread(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Name string `json:"name"`
		From string `json:"from"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid_json", "request body must be JSON")
		return
	}
	if err := validation.ValidateThreadName(body.Name); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if body.From == "" {
		body.From = models.UserParticipant
	}
	ev := models.Event{
		Thread:  id,
		Type:    models.TypeThreadRenamed,
		From:    body.From,
		Content: map[string]interface{}{"name": body.Name},
	}
	appended, err := store.AppendEvent(ev)
	if err != nil {
		writeThreadErr(w, id, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, appended)
}

func writeThreadErr(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, store.ErrThreadNotFound) {
		utils.JSONErrorBody(w, http.StatusNotFound, utils.ErrorBody{
			Code: "thread_not_found", Message: "no such thread", Thread: id,
		})
		return
	}
	utils.JSONError(w, http.StatusInternalServerError, "internal", "storage error")
}
