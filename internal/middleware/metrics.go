package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mcoot/creditshop-go/internal/metrics"
)

// Metrics records request counts and latency labelled by the matched route
// template, so /players/7 and /players/8 share a series. m may be nil.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := Wrap(w)

			next.ServeHTTP(wrapped, r)

			m.RecordHTTP(r.Method, routeTemplate(r), wrapped.Status(), time.Since(start))
		})
	}
}

func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return "unmatched"
	}
	tpl, err := route.GetPathTemplate()
	if err != nil {
		return "unmatched"
	}
	return tpl
}
