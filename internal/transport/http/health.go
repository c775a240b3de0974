package http

import (
	stdhttp "net/http"
)

// LivenessHandler answers the root path so the process can be probed
// without touching any dependency.
func LivenessHandler(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
	writeText(w, "alive")
}

// HealthHandler reports basic health for the service.
func HealthHandler(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
	writeText(w, "ok")
}

func writeText(w stdhttp.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(stdhttp.StatusOK)
	_, _ = w.Write([]byte(body))
}
