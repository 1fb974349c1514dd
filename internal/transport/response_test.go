package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jinkaiteo/QMS-sub001/model"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, map[string]string{"id": "wf-1"})

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if body["id"] != "wf-1" {
		t.Errorf("id = %q, want wf-1", body["id"])
	}
}

func TestWriteError_statusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{model.NewBadRequestError("bad"), http.StatusBadRequest},
		{model.NewUnauthorizedError("who"), http.StatusUnauthorized},
		{model.NewForbiddenError("no"), http.StatusForbidden},
		{model.NewNotFoundError("gone"), http.StatusNotFound},
		{model.NewConflictError("dup"), http.StatusConflict},
		{model.NewValidationError(nil), http.StatusUnprocessableEntity},
		{model.NewInvalidTransitionError("cannot"), http.StatusUnprocessableEntity},
		{model.NewInternalError(), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		w := httptest.NewRecorder()
		WriteError(w, tc.err)
		if w.Code != tc.want {
			ee := tc.err.(*model.ErrorEnvelope)
			t.Errorf("code %s: status = %d, want %d", ee.Code, w.Code, tc.want)
		}
	}
}

func TestWriteError_domainCodes(t *testing.T) {
	cases := []struct {
		code string
		want int
	}{
		{model.ErrAlreadyCompleted, http.StatusConflict},
		{model.ErrSignatureRequired, http.StatusUnprocessableEntity},
		{model.ErrWorkflowNotActive, http.StatusConflict},
		{model.ErrDuplicateWorkflow, http.StatusConflict},
		{model.ErrNotDelegable, http.StatusUnprocessableEntity},
		{model.ErrIntegrityError, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		w := httptest.NewRecorder()
		WriteError(w, &model.ErrorEnvelope{Code: tc.code, Message: "x"})
		if w.Code != tc.want {
			t.Errorf("code %s: status = %d, want %d", tc.code, w.Code, tc.want)
		}
	}
}

func TestWriteError_envelopeShape(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewNotFoundError("workflow instance not found"))

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if body.Error.Code != model.ErrNotFound {
		t.Errorf("code = %q, want %s", body.Error.Code, model.ErrNotFound)
	}
	if body.Error.Message != "workflow instance not found" {
		t.Errorf("message = %q", body.Error.Message)
	}
}

func TestWriteError_nonEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, errors.New("plain failure"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if body.Error.Code != model.ErrInternalError {
		t.Errorf("code = %q, want %s", body.Error.Code, model.ErrInternalError)
	}
}

func TestWriteError_unknownCodeDefaultsTo500(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, &model.ErrorEnvelope{Code: "SOMETHING_NEW", Message: "x"})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
