package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sternrassler/arcgis-client/pkg/arcgis"
	"github.com/Sternrassler/arcgis-client/pkg/client"
	"github.com/Sternrassler/arcgis-client/pkg/logging"
	"github.com/Sternrassler/arcgis-client/pkg/metrics"
)

// tokenHeader carries a per-request token to the proxy.
const tokenHeader = "X-Esri-Authorization"

// statusClientClosedRequest is returned when the caller went away.
const statusClientClosedRequest = 499

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve service info and queries over HTTP",
		Long: `Run an HTTP server exposing:

  GET /health                   liveness
  GET /metrics                  Prometheus metrics
  GET /v1/info?url=...          service description
  GET /v1/query?url=...&where=  every matching record as JSON

Only services matching an --allow entry are proxied; every other url is
rejected with 400. A token can be passed in the ` + tokenHeader + ` header
("Bearer <token>") or as the token query parameter. The default token of
--token/--ask-token is only sent to allowed services.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			allow, err := loadAllowList()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess, cleanup, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			return runServer(ctx, viper.GetString("addr"), allow, sess)
		},
	}

	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().StringSlice("allow", nil, "host or service URL prefix the proxy may forward to (repeatable, required)")
	_ = viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("allow", cmd.Flags().Lookup("allow"))

	return cmd
}

// loadAllowList reads the configured targets. The proxy refuses to start
// without any.
func loadAllowList() (*allowList, error) {
	allow, err := newAllowList(viper.GetStringSlice("allow"))
	if err != nil {
		return nil, err
	}
	if allow.Len() == 0 {
		return nil, fmt.Errorf("serve needs at least one --allow host or service URL prefix")
	}
	return allow, nil
}

func runServer(ctx context.Context, addr string, allow *allowList, sess *arcgis.Session) error {
	logger := logging.NewLogger("arcgis-server")

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(sess, allow, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("http listen")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newRouter(sess *arcgis.Session, allow *allowList, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/health", healthHandler)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/info", infoHandler(sess, allow))
		r.Get("/query", queryHandler(sess, allow))
	})

	return r
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func infoHandler(sess *arcgis.Session, allow *allowList) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, err := allowedTarget(r, allow)
		if err != nil {
			writeError(w, err)
			return
		}

		h, err := sess.Open(r.Context(), target, requestToken(r))
		if err == nil && r.URL.Query().Get("refresh") == "true" {
			h, err = sess.Refresh(r.Context(), h)
		}
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = writeJSON(w, describe(h))
	}
}

func queryHandler(sess *arcgis.Session, allow *allowList) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		target, err := allowedTarget(r, allow)
		if err != nil {
			writeError(w, err)
			return
		}

		opts := queryOptions{
			Where:      q.Get("where"),
			Fields:     q.Get("outFields"),
			OrderBy:    q.Get("orderByFields"),
			BBox:       q.Get("bbox"),
			NoGeometry: q.Get("returnGeometry") == "false",
		}
		if opts.OutSR, err = intParam(q.Get("outSR")); err == nil {
			opts.InSR, err = intParam(q.Get("inSR"))
		}
		if err != nil {
			writeError(w, client.NewError(client.KindClient, 0, "invalid spatial reference", err))
			return
		}
		params, err := opts.params()
		if err != nil {
			writeError(w, client.NewError(client.KindClient, 0, "invalid query", err))
			return
		}

		h, err := sess.Open(r.Context(), target, requestToken(r))
		if err != nil {
			writeError(w, err)
			return
		}

		if q.Get("returnCountOnly") == "true" {
			n, err := sess.Count(r.Context(), h, params)
			if err != nil {
				writeError(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = writeJSON(w, map[string]int{"count": n})
			return
		}

		res, err := sess.Query(r.Context(), h, params)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = writeJSON(w, newQueryOutput(res))
	}
}

// allowedTarget returns the url parameter when the allow list permits it.
// Rejected targets are never contacted, so no token reaches them.
func allowedTarget(r *http.Request, allow *allowList) (string, error) {
	target := r.URL.Query().Get("url")
	if target == "" {
		return "", client.NewError(client.KindClient, 0, "missing url parameter", nil)
	}
	if !allow.permits(target) {
		return "", client.NewError(client.KindClient, 0, "url is not an allowed service", nil)
	}
	return target, nil
}

// requestToken returns the caller's token, header first.
func requestToken(r *http.Request) string {
	if v := r.Header.Get(tokenHeader); v != "" {
		token, _ := strings.CutPrefix(v, "Bearer ")
		return token
	}
	return r.URL.Query().Get("token")
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    client.ErrorKind `json:"kind"`
	Code    int              `json:"code,omitempty"`
	Message string           `json:"message"`
	Offsets []int            `json:"failedOffsets,omitempty"`
}

// statusForError maps an error kind onto the proxy's response status.
func statusForError(err error) int {
	switch client.KindOf(err) {
	case client.KindAuthRequired:
		return http.StatusUnauthorized
	case client.KindClient:
		return http.StatusBadRequest
	case client.KindServiceTypeUnknown:
		return http.StatusUnprocessableEntity
	case client.KindCanceled:
		return statusClientClosedRequest
	case client.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, err error) {
	detail := errorDetail{
		Kind:    client.KindOf(err),
		Message: err.Error(),
	}
	var ce *client.ClassifiedError
	if errors.As(err, &ce) {
		detail.Code = ce.Code
		detail.Offsets = ce.FailedOffsets()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForError(err))
	_ = writeJSON(w, errorBody{Error: detail})
}
