package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kiwari-pos/tableorder/internal/cart"
	"github.com/kiwari-pos/tableorder/internal/config"
	"github.com/kiwari-pos/tableorder/internal/enum"
	"github.com/kiwari-pos/tableorder/internal/handler"
	"github.com/kiwari-pos/tableorder/internal/metrics"
	mw "github.com/kiwari-pos/tableorder/internal/middleware"
	"github.com/kiwari-pos/tableorder/internal/service"
	"github.com/kiwari-pos/tableorder/internal/ws"
	"github.com/sirupsen/logrus"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Orders  *service.OrderService
	Groups  *service.GroupService
	Carts   *cart.Service
	Hub     *ws.Hub
	Metrics *metrics.Registry
	Log     logrus.FieldLogger
}

// New creates a Chi router with all application routes wired up.
// Applies authentication, table scoping, and role-based middleware as needed.
func New(cfg *config.Config, d Deps) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	// WebSocket surface (handles auth internally via query param)
	r.Get("/ws/tables/{tid}", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(d.Hub, cfg.JWTSecret, d.Log, w, r)
	})

	sessionHandler := handler.NewSessionHandler(cfg.JWTSecret, d.Log)
	orderHandler := handler.NewOrderHandler(d.Orders, d.Groups, d.Log)
	cartHandler := handler.NewCartHandler(d.Carts, d.Log)
	groupHandler := handler.NewGroupHandler(d.Groups, d.Log)

	r.Route("/tables/{tid}", func(r chi.Router) {
		// Diners scan the table and get a session token (public)
		sessionHandler.RegisterRoutes(r)

		// Protected, table-scoped routes
		r.Group(func(r chi.Router) {
			r.Use(mw.Authenticate(cfg.JWTSecret))
			r.Use(mw.RequireTable)

			r.Route("/orders", func(r chi.Router) {
				orderHandler.RegisterRoutes(r)

				r.Group(func(r chi.Router) {
					r.Use(mw.RequireRole(enum.RoleStaff))
					orderHandler.RegisterStaffRoutes(r)
				})
			})
			r.Route("/cart", cartHandler.RegisterRoutes)
			r.Route("/group", groupHandler.RegisterRoutes)
		})
	})

	d.Log.Info("router initialized")
	return r
}
