package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/socialsync/internal/logger"
)

// RecoverJSON ловит панику обработчика. Если ответ ещё не начат, клиент
// получает 500 в том же виде, что и остальные ошибки шлюза: {"error": "..."}.
// http.ErrAbortHandler пробрасывается дальше: его бросают намеренно.
func RecoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Errorf("panic in %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
			if sw.wrote {
				return
			}
			sw.Header().Set("Content-Type", "application/json; charset=utf-8")
			sw.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(sw).Encode(struct {
				Error string `json:"error"`
			}{"internal server error"})
		}()
		next.ServeHTTP(sw, r)
	})
}
