package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/Zecruu/SpineLineDemo/internal/audit"
	"github.com/Zecruu/SpineLineDemo/pkg/logging"
)

// AuditReader lists stored audit entries.
type AuditReader interface {
	List(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}

func listAuditHandler(reader AuditReader, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := audit.Filter{
			Action:       strings.ToUpper(q.Get("action")),
			ResourceType: audit.ResourceType(strings.ToUpper(q.Get("resource_type"))),
		}
		if raw := q.Get("resource_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_resource_id", "resource_id must be a valid UUID")
				return
			}
			f.ResourceID = &id
		}
		if raw := q.Get("performed_by"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_performed_by", "performed_by must be a valid UUID")
				return
			}
			f.Actor = &id
		}
		if raw := q.Get("since"); raw != "" {
			since, err := parseTime(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_since", err.Error())
				return
			}
			f.Since = &since
		}
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
				return
			}
			f.Limit = n
		}

		entries, err := reader.List(r.Context(), f)
		if err != nil {
			logger.Error("list audit failed", "request_id", GetRequestID(r.Context()), "error", err)
			writeError(w, http.StatusServiceUnavailable, "service_unavailable", "please retry later")
			return
		}

		resp := ListResponse[AuditEntryResponse]{Count: len(entries), Data: make([]AuditEntryResponse, 0, len(entries))}
		for _, e := range entries {
			resp.Data = append(resp.Data, toAuditEntryResponse(e))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
