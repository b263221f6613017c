package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-formrelay/core"
)

const (
	messageAccepted      = "Thank you for your message. We will get back to you soon."
	messageInvalidBody   = "Invalid request body"
	messageMissingFields = "Missing required fields"
	messageInternal      = "Failed to process your request. Please try again later."
)

type contactResponse struct {
	Success         bool     `json:"success"`
	Message         string   `json:"message"`
	MessageID       string   `json:"messageId,omitempty"`
	ReferenceNumber string   `json:"referenceNumber,omitempty"`
	MissingFields   []string `json:"missingFields,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// submitContact validates and stores the submission, writes and flushes the
// 200 response, and only then hands the submission off for delivery.
func (a *API) submitContact(w http.ResponseWriter, r *http.Request) {
	responded := false
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		err := fmt.Errorf("panic: %v", recovered)
		if responded {
			a.logger.Error("contact handoff panicked", "error", err.Error())
			return
		}
		a.writeInternalError(w, r, err)
	}()

	raw, err := a.decodeBody(w, r)
	if err != nil {
		a.logger.Warn("contact request rejected", "reason", "invalid body", "error", err.Error())
		writeJSON(w, http.StatusBadRequest, contactResponse{Success: false, Message: messageInvalidBody})
		return
	}

	receipt, err := a.service.Accept(r.Context(), raw)
	if err != nil {
		if missing := core.MissingFields(err); len(missing) > 0 {
			writeJSON(w, http.StatusBadRequest, contactResponse{
				Success:       false,
				Message:       messageMissingFields + ": " + strings.Join(missing, ", "),
				MissingFields: missing,
			})
			return
		}
		if isBadInput(err) {
			writeJSON(w, http.StatusBadRequest, contactResponse{Success: false, Message: err.Error()})
			return
		}
		a.writeInternalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, contactResponse{
		Success:         true,
		Message:         messageAccepted,
		MessageID:       receipt.MessageID,
		ReferenceNumber: receipt.ReferenceNumber,
	})
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	responded = true

	a.service.Handoff(context.WithoutCancel(r.Context()), receipt)
}

func (a *API) decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	if r.Body == nil {
		return nil, errors.New("request body is empty")
	}
	body := http.MaxBytesReader(w, r.Body, a.bodyLimit)
	defer body.Close()
	decoder := json.NewDecoder(body)
	raw := map[string]any{}
	if err := decoder.Decode(&raw); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("request body must contain a single JSON object")
	}
	return raw, nil
}

func (a *API) writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	fields := []any{"path", r.URL.Path, "error", err.Error()}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.TextCode != "" {
		fields = append(fields, "error_text_code", rich.TextCode)
	}
	a.logger.Error("contact request failed", fields...)

	resp := contactResponse{Success: false, Message: messageInternal}
	if !a.production {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusInternalServerError, resp)
}

func isBadInput(err error) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich == nil {
		return false
	}
	return rich.Category == goerrors.CategoryBadInput || rich.Category == goerrors.CategoryValidation
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
