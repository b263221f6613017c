package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// recoverer turns a panic in any route into the JSON 500 envelope.
func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}
			a.logger.Error("request panicked",
				"path", r.URL.Path,
				"request_id", middleware.GetReqID(r.Context()),
				"panic", fmt.Sprint(recovered),
			)
			resp := contactResponse{Success: false, Message: messageInternal}
			if !a.production {
				resp.Error = fmt.Sprintf("panic: %v", recovered)
			}
			writeJSON(w, http.StatusInternalServerError, resp)
		}()
		next.ServeHTTP(w, r)
	})
}
