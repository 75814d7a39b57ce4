package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/duckmesh/tableqa/internal/auth"
	"github.com/duckmesh/tableqa/internal/catalog"
	"github.com/duckmesh/tableqa/internal/pipeline"
)

const maxQueryLength = 4096

type askRequest struct {
	Query          string `json:"query"`
	IncludeContext bool   `json:"include_context"`
}

type askResponse struct {
	Answer  string `json:"answer"`
	SQL     string `json:"sql"`
	Context string `json:"context,omitempty"`
}

type tablesResponse struct {
	Tables []tableResponse `json:"tables"`
}

type tableResponse struct {
	Index        int    `json:"index"`
	TableName    string `json:"table_name"`
	TableSummary string `json:"table_summary"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Asker == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "answer pipeline is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAsker); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	query := strings.TrimSpace(request.Query)
	if query == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REQUIRED", "query is required", false, nil)
		return
	}
	if len(query) > maxQueryLength {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_TOO_LONG", fmt.Sprintf("query exceeds %d bytes", maxQueryLength), false, nil)
		return
	}

	ctx := r.Context()
	if deps.AskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deps.AskTimeout)
		defer cancel()
	}

	answer, err := deps.Asker.Run(ctx, query)
	if err != nil {
		if deps.Logger != nil {
			deps.Logger.WarnContext(r.Context(), "ask failed", slog.Any("error", err))
		}
		status, code, retryable := classifyAskError(err)
		writeError(r.Context(), w, status, code, "question could not be answered", retryable, map[string]any{
			"details": err.Error(),
			"stage":   failedStage(err),
		})
		return
	}

	response := askResponse{Answer: answer.Text, SQL: answer.SQL}
	if request.IncludeContext {
		response.Context = answer.Context
	}
	writeJSON(w, http.StatusOK, response)
}

func classifyAskError(err error) (status int, code string, retryable bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "ASK_TIMEOUT", true
	case errors.Is(err, pipeline.ErrCacheUnavailable):
		return http.StatusServiceUnavailable, "CACHE_UNAVAILABLE", true
	case errors.Is(err, pipeline.ErrGeneration):
		return http.StatusBadGateway, "GENERATION_FAILED", true
	case errors.Is(err, pipeline.ErrExecution):
		return http.StatusUnprocessableEntity, "SQL_EXECUTION_FAILED", false
	case errors.Is(err, pipeline.ErrRetrieval):
		return http.StatusInternalServerError, "RETRIEVAL_FAILED", true
	default:
		return http.StatusInternalServerError, "ASK_FAILED", false
	}
}

func failedStage(err error) string {
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage.String()
	}
	return ""
}

func handleListTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CATALOG_NOT_CONFIGURED", "catalog is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleCatalogReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	records, err := deps.Catalog.List(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_LIST_FAILED", "failed to list tables", true, map[string]any{"details": err.Error()})
		return
	}

	tables := make([]tableResponse, 0, len(records))
	for _, record := range sortedRecords(records) {
		tables = append(tables, tableResponse{
			Index:        record.Index,
			TableName:    record.Info.TableName,
			TableSummary: record.Info.TableSummary,
		})
	}
	writeJSON(w, http.StatusOK, tablesResponse{Tables: tables})
}

func sortedRecords(records []catalog.Record) []catalog.Record {
	sorted := append([]catalog.Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	return sorted
}

// requireRole passes requests without an identity, which only happens when
// auth is disabled.
func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}
