package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jinkaiteo/QMS-sub001/internal/signature"
	"github.com/jinkaiteo/QMS-sub001/model"
)

func handleSignatureCreate(svc *signature.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			TargetType string                `json:"target_type"`
			TargetID   string                `json:"target_id"`
			StepID     *string               `json:"step_id"`
			Meaning    string                `json:"meaning"`
			Method     model.SignatureMethod `json:"method"`
			Credential string                `json:"credential"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		sig, err := svc.Sign(r.Context(), rctx, signature.Request{
			TargetType: body.TargetType,
			TargetID:   body.TargetID,
			StepID:     body.StepID,
			Meaning:    body.Meaning,
			Method:     body.Method,
			Credential: body.Credential,
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, sig)
	}
}

func handleSignatureGet(svc *signature.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sig, err := svc.Get(r.Context(), chi.URLParam(r, "signatureId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, sig)
	}
}

func handleSignatureVerify(svc *signature.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "signatureId")
		valid, err := svc.VerifyByID(r.Context(), id)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"signature_id": id,
			"valid":        valid,
		})
	}
}

func handleSignatureInvalidate(svc *signature.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		sig, err := svc.Invalidate(r.Context(), rctx, chi.URLParam(r, "signatureId"), body.Reason)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, sig)
	}
}

func handleSignatureListByTarget(svc *signature.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targetType := r.URL.Query().Get("target_type")
		targetID := r.URL.Query().Get("target_id")
		if targetType == "" || targetID == "" {
			WriteError(w, model.NewBadRequestError("target_type and target_id are required"))
			return
		}

		sigs, err := svc.ListByTarget(r.Context(), targetType, targetID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": sigs})
	}
}
