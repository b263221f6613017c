package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/goliatone/go-formrelay/core"
	"github.com/goliatone/go-formrelay/query"
)

type outcomeResponse struct {
	Attempt    int            `json:"attempt"`
	Channel    string         `json:"channel"`
	Status     string         `json:"status"`
	Detail     string         `json:"detail,omitempty"`
	Retryable  bool           `json:"retryable"`
	DurationMS int64          `json:"durationMs"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

type dispatchResponse struct {
	DispatchID      string            `json:"dispatchId"`
	ReferenceNumber string            `json:"referenceNumber,omitempty"`
	Outcomes        []outcomeResponse `json:"outcomes"`
}

type errorResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	TextCode string `json:"textCode,omitempty"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: a.now().UTC().Format(time.RFC3339),
	})
}

func (a *API) getDispatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	records, err := a.outcomes.Query(r.Context(), query.GetDispatchOutcomesMessage{DispatchID: id})
	if err != nil {
		a.writeError(w, err)
		return
	}
	resp := dispatchResponse{DispatchID: id, Outcomes: make([]outcomeResponse, 0, len(records))}
	for _, record := range records {
		if resp.ReferenceNumber == "" {
			resp.ReferenceNumber = record.ReferenceNumber
		}
		resp.Outcomes = append(resp.Outcomes, outcomeResponse{
			Attempt:    record.Attempt,
			Channel:    record.Channel.String(),
			Status:     string(record.Status),
			Detail:     record.Detail,
			Retryable:  record.Retryable,
			DurationMS: record.DurationMS,
			Metadata:   record.Metadata,
			CreatedAt:  record.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	mapped := core.MapError(err)
	status := http.StatusInternalServerError
	if mapped.Code >= 400 && mapped.Code < 600 {
		status = mapped.Code
	}
	message := mapped.Message
	if status >= http.StatusInternalServerError {
		a.logger.Error("dispatch lookup failed", "error", err.Error(), "error_text_code", mapped.TextCode)
		if a.production {
			message = http.StatusText(status)
		}
	}
	writeJSON(w, status, errorResponse{Success: false, Message: message, TextCode: mapped.TextCode})
}
