package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/commune-sh/public-appservice/internal/handlers"
	"github.com/commune-sh/public-appservice/internal/proxy"
	"github.com/commune-sh/public-appservice/internal/service"
)

// Handlers groups everything the router dispatches to.
type Handlers struct {
	Appservice *handlers.AppserviceHandler
	Room       *handlers.RoomHandler
	Directory  *handlers.DirectoryHandler
	Proxy      *handlers.ProxyHandler
	System     *handlers.SystemHandler
	WebSocket  *handlers.WebSocketHandler
	Access     *service.RoomAccess
}

type Options struct {
	HSToken        string
	AdminToken     string
	AllowedOrigins []string
	SearchDisabled bool
	Logger         zerolog.Logger
}

func NewRouter(h Handlers, o Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RealIP,
		hlog.NewHandler(o.Logger),
		hlog.RequestIDHandler("req_id", "X-Request-Id"),
		hlog.AccessHandler(accessLog),
		middleware.Recoverer,
		middleware.StripSlashes,
	)

	if len(o.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   o.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
			ExposedHeaders:   []string{"Content-Disposition"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	// Homeserver push API.
	r.Group(func(r chi.Router) {
		r.Use(handlers.RequireToken(o.HSToken))
		r.Put("/_matrix/app/v1/transactions/{txnId}", h.Appservice.Transaction)
		r.Post("/_matrix/app/v1/ping", h.Appservice.Ping)
	})

	room := "/{" + handlers.RoomParam + "}"
	r.Route("/_matrix/client/v3/rooms"+room, func(r chi.Router) {
		r.Use(handlers.RequirePublicRoom(h.Access))
		for _, p := range []string{
			"/state", "/state/*", "/events", "/messages", "/joined_members",
			"/members", "/initialSync", "/aliases", "/event/*", "/context/*",
			"/timestamp_to_event",
		} {
			r.Get(p, h.Proxy.ServeHTTP)
		}
		r.Get("/info", h.Room.Info)
	})
	r.Route("/_matrix/client/v1/rooms"+room, func(r chi.Router) {
		r.Use(handlers.RequirePublicRoom(h.Access))
		r.Get("/hierarchy", h.Proxy.ServeHTTP)
		r.Get("/threads", h.Proxy.ServeHTTP)
		r.Get("/relations/*", h.Proxy.ServeHTTP)
	})

	r.Get("/_matrix/client/v1/media/preview_url", h.Proxy.ServeHTTP)
	r.Get("/_matrix/client/v1/media/thumbnail/*", h.Proxy.ServeHTTP)
	r.Get("/_matrix/client/v1/media/download/*", h.Proxy.ServeHTTP)
	if !o.SearchDisabled {
		r.Post(proxy.SearchPath, h.Proxy.ServeHTTP)
	}

	r.Get("/publicRooms", h.Directory.PublicRooms)
	r.Route("/spaces", func(r chi.Router) {
		r.Get("/", h.Directory.Spaces)
		r.Get("/{space}", h.Directory.Space)
		r.Get("/{space}/rooms", h.Directory.SpaceRooms)
	})

	r.Route("/admin/room"+room, func(r chi.Router) {
		r.Use(handlers.RequireToken(o.AdminToken))
		r.Put("/join", h.Room.Join)
		r.Put("/leave", h.Room.Leave)
	})

	r.Get("/directory/ws", h.WebSocket.HandleWebSocket)

	r.Get("/health", h.System.Health)
	r.Get("/identity", h.System.Identity)
	r.Get("/version", h.System.Version)
	r.Get("/", h.System.Index)

	return r
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("Request")
}
