package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jinkaiteo/QMS-sub001/internal/template"
	"github.com/jinkaiteo/QMS-sub001/model"
)

func handleTemplateList(reg *template.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templates, err := reg.List(r.Context(), r.URL.Query().Get("target_type"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": templates})
	}
}

func handleTemplateGet(reg *template.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tpl, err := reg.Get(r.Context(), chi.URLParam(r, "templateId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, tpl)
	}
}

func handleTemplateCreate(reg *template.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var tpl model.WorkflowTemplate
		if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		created, err := reg.Create(r.Context(), rctx, tpl)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, created)
	}
}

func handleTemplateDeprecate(reg *template.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		if err := reg.Deprecate(r.Context(), rctx, chi.URLParam(r, "templateId")); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"lifecycle": string(model.TemplateDeprecated)})
	}
}
