// receiver is a webhook endpoint for local testing. It verifies the
// signature of every delivery and prints it.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/felipemaragno/hookline/internal/signature"
)

func main() {
	port := flag.Int("port", 9999, "port to listen on")
	secret := flag.String("secret", os.Getenv("WEBHOOK_SECRET"), "webhook secret used to verify signatures")
	status := flag.Int("status", http.StatusOK, "status code to respond with, e.g. 500 to exercise retries")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/webhook", newHandler(*secret, *status, logger))

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("test webhook receiver listening", "addr", addr, "status", *status, "verify", *secret != "")
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("receiver stopped", "error", err)
		os.Exit(1)
	}
}

func newHandler(secret string, status int, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}

		sig := r.Header.Get(signature.HeaderSignature)
		if secret != "" && !signature.Verify(body, secret, sig) {
			logger.Warn("rejected delivery with bad signature",
				"delivery", r.Header.Get(signature.HeaderDelivery),
			)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		logger.Info("webhook received",
			"event", r.Header.Get(signature.HeaderEvent),
			"event_id", r.Header.Get(signature.HeaderEventID),
			"delivery", r.Header.Get(signature.HeaderDelivery),
			"timestamp", r.Header.Get(signature.HeaderTimestamp),
			"body", string(body),
		)

		w.WriteHeader(status)
		_, _ = w.Write([]byte(http.StatusText(status)))
	}
}
