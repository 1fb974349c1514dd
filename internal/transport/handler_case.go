package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jinkaiteo/QMS-sub001/internal/casemachine"
	"github.com/jinkaiteo/QMS-sub001/model"
)

func handleCaseOpen(machine *casemachine.Machine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			Kind        model.CaseKind `json:"kind"`
			Title       string         `json:"title"`
			Description string         `json:"description"`
			Severity    model.Severity `json:"severity"`
			Owner       string         `json:"owner"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		c, err := machine.Open(r.Context(), rctx, casemachine.OpenRequest{
			Kind:        body.Kind,
			Title:       body.Title,
			Description: body.Description,
			Severity:    body.Severity,
			Owner:       body.Owner,
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, c)
	}
}

func handleCaseTransition(machine *casemachine.Machine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			Action model.CaseAction `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		c, err := machine.Transition(r.Context(), rctx, chi.URLParam(r, "caseId"), body.Action)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, c)
	}
}

func handleCaseAddActionItem(machine *casemachine.Machine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			Title string `json:"title"`
			Owner string `json:"owner"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		c, err := machine.AddActionItem(r.Context(), rctx, chi.URLParam(r, "caseId"), body.Title, body.Owner)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, c)
	}
}

func handleCaseCompleteActionItem(machine *casemachine.Machine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		c, err := machine.CompleteActionItem(r.Context(), rctx,
			chi.URLParam(r, "caseId"), chi.URLParam(r, "itemId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, c)
	}
}

func handleCaseGet(machine *casemachine.Machine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := machine.Get(r.Context(), chi.URLParam(r, "caseId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, c)
	}
}

func handleCaseList(machine *casemachine.Machine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filters := casemachine.Filters{
			Kind:   model.CaseKind(q.Get("kind")),
			Status: model.CaseStatus(q.Get("status")),
			Owner:  q.Get("owner"),
			Limit:  queryInt(r, "limit", 50),
			Offset: queryInt(r, "offset", 0),
		}

		cases, err := machine.List(r.Context(), filters)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": cases})
	}
}
