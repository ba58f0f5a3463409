package api

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"ai-tutor/handler"
)

const maxBodyBytes = 1 << 20

// RouterDependencies holds what NewRouter needs to serve the chat API.
type RouterDependencies struct {
	Handler        *handler.Handler
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter creates the chi router exposing the chat operations over HTTP.
func NewRouter(deps RouterDependencies) *chi.Mux {
	h := deps.Handler
	if h == nil {
		panic("api: handler dependency is nil")
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(correlationID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", handler.CorrelationHeader},
		ExposedHeaders: []string{handler.CorrelationHeader},
		MaxAge:         300,
	}))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		respond(w, h.Root())
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respond(w, h.Health())
	})

	r.Route("/chat", func(r chi.Router) {
		r.Post("/start", func(w http.ResponseWriter, req *http.Request) {
			body, err := readBody(w, req)
			if err != nil {
				respond(w, h.InvalidBody(req.Context(), "start", err))
				return
			}
			respond(w, h.Start(req.Context(), req.URL.Query().Get("student_id"), body))
		})
		r.Post("/message", func(w http.ResponseWriter, req *http.Request) {
			body, err := readBody(w, req)
			if err != nil {
				respond(w, h.InvalidBody(req.Context(), "message", err))
				return
			}
			respond(w, h.Message(req.Context(), body))
		})
		r.Post("/regenerate", func(w http.ResponseWriter, req *http.Request) {
			body, err := readBody(w, req)
			if err != nil {
				respond(w, h.InvalidBody(req.Context(), "regenerate", err))
				return
			}
			respond(w, h.Regenerate(req.Context(), body))
		})
		r.Get("/conversation/{id}", func(w http.ResponseWriter, req *http.Request) {
			respond(w, h.Conversation(req.Context(), chi.URLParam(req, "id")))
		})
	})

	notFound := func(w http.ResponseWriter, _ *http.Request) {
		respond(w, h.NotFound())
	}
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	return r
}

// correlationID reuses the caller's X-Correlation-Id or assigns a new one, and
// echoes it on the response.
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := handler.ResolveCorrelationID(r.Header.Get(handler.CorrelationHeader))
		w.Header().Set(handler.CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(handler.WithCorrelationID(r.Context(), id)))
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"correlation_id", handler.CorrelationIDFromContext(r.Context()),
		)
	})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func respond(w http.ResponseWriter, res handler.Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.Status)
	_, _ = w.Write(res.Body)
}
