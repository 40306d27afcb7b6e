package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/NickNameYouTuber/NIMeet/internal/signaling"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// The room id and user identity are validated by the REST layer before a
	// client ever reaches the relay, so the relay accepts any origin and
	// leaves origin policy to the deployment in front of it.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewRouter builds the relay's HTTP surface: the websocket endpoint and a
// health probe.
func NewRouter(hub *signaling.Hub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Get("/ws", serveWs(hub))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("signaling server is healthy"))
}

// serveWs upgrades the request, mints a connection identity, and hands the
// connection to the hub.
func serveWs(hub *signaling.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("websocket upgrade failed", "err", err)
			return
		}

		client := signaling.NewClient(hub, conn, uuid.NewString())
		hub.Register <- client

		go client.WritePump()
		go client.ReadPump()
	}
}
