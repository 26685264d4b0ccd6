package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/socialsync/internal/logger"
)

// statusWriter запоминает код ответа. Hijack нужен для /ws, Flush для сжатых ответов.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.status = code
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	w.wrote = true
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// RequestLog пишет строку на запрос: метод, путь, код, время, IP клиента.
// Ответы 5xx идут в error, остальное в debug. Секрет шлюза маскируется.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		line := requestLine(r, sw.status, time.Since(start))
		if sw.status >= http.StatusInternalServerError {
			logger.Errorf("%s", line)
			return
		}
		logger.Debugf("%s", line)
	})
}

func requestLine(r *http.Request, status int, took time.Duration) string {
	line := fmt.Sprintf("http %s %s %d %s ip=%s", r.Method, r.URL.Path, status, took.Round(time.Microsecond), clientIP(r))
	if secret := r.Header.Get(gatewaySecretHeader); secret != "" {
		line += " secret=" + MaskToken(secret)
	}
	return line
}
