package web

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultStreamInterval = 200 * time.Millisecond
	streamWriteTimeout    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 8 << 10,
}

// streamHandler pushes an engine snapshot as a JSON text frame every
// interval until the client goes away. ?interval_ms= overrides the period.
func streamHandler(d Deps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		interval := d.StreamInterval
		if interval <= 0 {
			interval = defaultStreamInterval
		}
		if s := strings.TrimSpace(r.URL.Query().Get("interval_ms")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 20 || v > 10000 {
				http.Error(w, "interval_ms must be an integer in [20,10000]", http.StatusBadRequest)
				return
			}
			interval = time.Duration(v) * time.Millisecond
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			return
		}
		defer conn.Close()

		// Clients only send control frames; the reader notices close.
		gone := make(chan struct{})
		conn.SetReadLimit(512)
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(d.snapshot()); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("web stream write failed remote=%s: %v", r.RemoteAddr, err)
				}
				return
			}
			select {
			case <-gone:
				return
			case <-r.Context().Done():
				return
			case <-t.C:
			}
		}
	})
}
