package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"

	"sitewatch/internal/auth"
	"sitewatch/internal/metrics"
	"sitewatch/internal/middleware"
	"sitewatch/internal/services"
	"sitewatch/internal/ws"
)

// Paths reachable without a token
var publicPaths = []string{"/health", "/ready", "/metrics", "/api/v1/auth/login"}

// handleHTTPServer starts configures and starts a HTTP server on the given
// URL. It shuts down the server if any error is received in the error channel.
func handleHTTPServer(ctx context.Context, u *url.URL, svc services.Services, m *metrics.Metrics, verdicts *ws.Handler, authenticator *auth.Authenticator, wg *sync.WaitGroup, errc chan error, logger *log.Logger, debug bool) {

	// Build the service HTTP request multiplexer and configure it to serve
	// HTTP requests to the service endpoints.
	var mux goahttp.Muxer
	{
		mux = goahttp.NewMuxer()
	}

	server := services.New(svc, mux, logger)
	server.Mount()

	mux.Handle("GET", "/metrics", m.Handler().ServeHTTP)
	mux.Handle("GET", ws.PathPrefix+"{camera_id}", verdicts.ServeHTTP)

	// Wrap the multiplexer with additional middlewares. Middlewares mounted
	// here apply to all the service endpoints.
	var handler http.Handler = mux
	{
		if !authenticator.IsEnabled() {
			logger.Printf("authentication disabled, set AUTH_ENABLED=true to protect the API")
		}
		handler = middleware.AuthMiddleware(authenticator, publicPaths...)(handler)
		if debug {
			handler = httpmdlwr.Debug(mux, os.Stdout)(handler)
		}
		handler = httpmdlwr.RequestID()(handler)
	}

	// Start HTTP server using default configuration, change the code to
	// configure the server as required by your service.
	srv := &http.Server{Addr: u.Host, Handler: handler, ReadHeaderTimeout: time.Second * 60}
	for _, m := range server.Mounts {
		logger.Printf("HTTP %q mounted on %s %s", m.Method, m.Verb, m.Pattern)
	}
	logger.Printf("HTTP %q mounted on %s %s", "Metrics", "GET", "/metrics")
	logger.Printf("HTTP %q mounted on %s %s", "Verdicts", "GET", ws.PathPrefix+"{camera_id}")

	(*wg).Add(1)
	go func() {
		defer (*wg).Done()

		// Start HTTP server in a separate goroutine.
		go func() {
			logger.Printf("HTTP server listening on %q", u.Host)
			errc <- srv.ListenAndServe()
		}()

		<-ctx.Done()
		logger.Printf("shutting down HTTP server at %q", u.Host)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := srv.Shutdown(ctx)
		if err != nil {
			logger.Printf("failed to shutdown: %v", err)
		}
	}()
}
