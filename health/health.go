// Package health exposes run progress over HTTP while a list is being sent.
package health

import (
	"expvar"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Start listens on addr and serves /healthz, which reports status(), and
// /metrics, the expvar counters as JSON. The caller shuts the server down.
func Start(addr string, status func() string) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("health listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "OK %s\n", status())
	})
	mux.Handle("/metrics", expvar.Handler())

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = server.Serve(ln) }()
	return server, ln, nil
}
