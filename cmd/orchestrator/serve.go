package main

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	cluelog "goa.design/clue/log"

	"github.com/queryorch/orchestrator/internal/model"
	"github.com/queryorch/orchestrator/internal/service"
	"github.com/queryorch/orchestrator/internal/stream"
	"github.com/queryorch/orchestrator/internal/stream/ssehttp"
)

func newServeCmd(configPath, envPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator HTTP/SSE server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, *configPath, *envPath)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			mux := http.NewServeMux()
			mux.HandleFunc("/ask", askHandler(a))
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			logCtx := cluelog.Context(context.Background(), cluelog.WithFormat(cluelog.FormatJSON))
			srv := &http.Server{
				Handler:     mux,
				BaseContext: func(net.Listener) context.Context { return logCtx },
			}
			addr := a.httpAddr
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}

			go func() {
				<-ctx.Done()
				log.Printf("shutting down orchestrator server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			log.Printf("orchestrator listening on %s", addr)
			if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}

// askRequest is the body POST /ask accepts: a natural-language question
// plus the caller id, an optional source allowlist and the introspect flag.
type askRequest struct {
	Question   string   `json:"question"`
	CallerID   string   `json:"caller_id"`
	Allow      []string `json:"allow_sources"`
	Introspect bool     `json:"introspect"`
}

func askHandler(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Question == "" {
			http.Error(w, "question is required", http.StatusBadRequest)
			return
		}

		sink, err := ssehttp.New(w)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		mux := stream.NewMultiplexer(sink, 32)
		defer mux.Close(r.Context())

		var allow map[string]bool
		if len(req.Allow) > 0 {
			allow = make(map[string]bool, len(req.Allow))
			for _, id := range req.Allow {
				allow[id] = true
			}
		}

		question := model.Question{
			ID:         uuid.NewString(),
			Text:       req.Question,
			CallerID:   req.CallerID,
			ReceivedAt: time.Now().UTC(),
		}

		_, _ = a.svc.Ask(r.Context(), question, service.AskOptions{
			CallerID:   req.CallerID,
			Allow:      allow,
			Emitter:    mux,
			Introspect: req.Introspect,
		})
	}
}
