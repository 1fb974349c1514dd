package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jinkaiteo/QMS-sub001/internal/audit"
	"github.com/jinkaiteo/QMS-sub001/model"
)

func handleAuditQuery(ledger *audit.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := model.AuditFilter{
			Actor:      q.Get("actor"),
			EntityType: q.Get("entity_type"),
			EntityID:   q.Get("entity_id"),
			Action:     q.Get("action"),
			Limit:      queryInt(r, "limit", 100),
			Offset:     queryInt(r, "offset", 0),
		}
		if raw := q.Get("from"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				WriteError(w, model.NewBadRequestError("from must be RFC 3339"))
				return
			}
			filter.From = t
		}
		if raw := q.Get("to"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				WriteError(w, model.NewBadRequestError("to must be RFC 3339"))
				return
			}
			filter.To = t
		}

		records, err := ledger.Query(r.Context(), filter)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": records})
	}
}

func handleAuditVerifyChain(ledger *audit.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := ledger.VerifyChain(r.Context(),
			chi.URLParam(r, "entityType"), chi.URLParam(r, "entityId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, report)
	}
}
