package proxy

import "net/http"

// livenessHandler answers 200 whenever the process is up.
func livenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
	}
}

// readinessHandler answers 200 once the gateway accepts traffic and 503
// around startup and shutdown, so load balancers drain cleanly.
func readinessHandler(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		status := http.StatusServiceUnavailable
		if checker.IsReady() {
			status = http.StatusOK
		}
		w.WriteHeader(status)
	}
}
