package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/socialsync/internal/config"
	"github.com/socialsync/internal/middleware"
	"github.com/socialsync/internal/push"
	"github.com/socialsync/internal/ws"
)

// Deps: всё, что нужно маршрутам шлюза.
type Deps struct {
	Config        *config.Config
	Session       ws.ChatController
	Notifications ws.NotificationController
	Hub           *ws.Hub
	Push          *push.Client
}

// NewRouter собирает chi-роутер шлюза для локального UI.
func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	chatH := NewChatHandler(d.Session, cfg.UserID)
	notesH := NewNotificationHandler(d.Notifications)
	configH := NewConfigHandler(cfg)
	pushH := NewPushHandler(d.Push)
	wsH := NewWSHandler(d.Hub, cfg.CORSAllowedOrigins, cfg.Stream.SendBufferSize)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Gateway-Secret"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })

	r.Group(func(r chi.Router) {
		r.Use(middleware.LocalOnly(cfg.GatewaySecret))
		r.Use(middleware.RateLimit(cfg.RateLimit))
		r.Get("/api/config/push", configH.GetPushConfig)
		r.Get("/api/chats", chatH.ListChats)
		r.Post("/api/chats/select", chatH.SelectChat)
		r.Get("/api/chats/active", chatH.ActiveChat)
		r.Post("/api/messages", chatH.SendMessage)
		r.Get("/api/notifications", notesH.List)
		r.Post("/api/notifications/{kind}/{id}/{action}", notesH.Act)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/ws", wsH.ServeWS)
	})
	return r
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
