package http

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"lifecal/internal/handlers"
	"lifecal/internal/storage"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Engine    handlers.Syncer
	Records   storage.RecordStore
	Children  storage.ChildStore
	Rollups   storage.RollupStore
	MoodInbox storage.MoodStore
	Narrator  handlers.Narrator
	DB        *sql.DB
	IndexHTML string // Embedded HTML content
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	// Add chi middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(CORS)
	r.Use(LoggerMiddleware)

	syncHandler := handlers.NewSyncHandler(deps.Engine)

	// Register API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/sync", syncHandler.SyncAll)
		r.Post("/sync/{source}", syncHandler.SyncOne)
		r.Method(http.MethodGet, "/calendar", handlers.NewCalendarHandler(deps.Rollups))
		r.Method(http.MethodGet, "/day/{date}", handlers.NewDayHandler(deps.Records, deps.Children, deps.Narrator))
		r.Method(http.MethodPost, "/mood", handlers.NewMoodHandler(deps.MoodInbox, deps.Engine))
		r.Method(http.MethodGet, "/health", handlers.NewHealthHandler(deps.DB))
	})

	// Serve the calendar page at root
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(deps.IndexHTML))
	})

	return r
}
