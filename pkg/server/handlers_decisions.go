package server

import (
	"net/http"
	"strconv"
	"time"

	"northstar-hq/polaris/pkg/state"
	"northstar-hq/polaris/pkg/state/export"
)

// maxExportRecords bounds one export request. Larger trails page with
// since/until.
const maxExportRecords = 10000

// decisionQuery builds a state.Query from the request's filters:
// provider, key, since, until (RFC 3339), limit, offset.
func decisionQuery(r *http.Request) (state.Query, error) {
	q := state.Query{
		EntityType: state.EntityDecision,
		KeyID:      r.URL.Query().Get("key"),
		ProviderID: r.URL.Query().Get("provider"),
	}

	if v := r.URL.Query().Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, err
		}
		q.Since = ts
	}
	if v := r.URL.Query().Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, err
		}
		q.Until = ts
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, strconv.ErrSyntax
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, strconv.ErrSyntax
		}
		q.Offset = n
	}
	return q, nil
}

func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	q, err := decisionQuery(r)
	if err != nil {
		writeBadRequest(w, "invalid query parameters")
		return
	}
	if q.Limit == 0 {
		q.Limit = 100
	}

	result, err := s.opts.Store.QueryState(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": result.Decisions})
}

func (s *Server) handleExportDecisions(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "csv" && format != "json" {
		writeBadRequest(w, "format must be csv or json")
		return
	}

	q, err := decisionQuery(r)
	if err != nil {
		writeBadRequest(w, "invalid query parameters")
		return
	}
	if q.Limit == 0 || q.Limit > maxExportRecords {
		q.Limit = maxExportRecords
	}

	result, err := s.opts.Store.QueryState(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="decisions.csv"`)
		err = export.NewCSVExporter(true).Export(r.Context(), result.Decisions, w)
	case "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="decisions.json"`)
		err = export.NewJSONExporter(false).Export(r.Context(), result.Decisions, w)
	}
	if err != nil {
		// Headers are out; the best we can do is log and cut the stream.
		s.logger.Error("decision export failed", "format", format, "error", err)
	}
}
