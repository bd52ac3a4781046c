package httpx

import (
	"bufio"
	"errors"
	"log"
	"net"
	"net/http"
	"regexp"
	"time"
)

var (
	uuidSegment    = regexp.MustCompile(`/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	numericSegment = regexp.MustCompile(`/\d+(/|$)`)
)

// Logging returns middleware that logs method, normalized path, status and
// latency of every request. Paths in skip are not logged.
func Logging(logger *log.Logger, skip ...string) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	quiet := make(map[string]bool, len(skip))
	for _, p := range skip {
		quiet[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if quiet[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			logger.Printf("%s %s %d %v", r.Method, NormalizePath(r.URL.Path), rw.statusCode,
				time.Since(start).Round(time.Microsecond))
		})
	}
}

// statusWriter captures the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades through the wrapper.
func (rw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (rw *statusWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// NormalizePath replaces result IDs and numeric segments with {id}:
//
//	/v1/results/5f0c...e1/report -> /v1/results/{id}/report
func NormalizePath(path string) string {
	path = uuidSegment.ReplaceAllString(path, "/{id}")
	return numericSegment.ReplaceAllString(path, "/{id}$1")
}
