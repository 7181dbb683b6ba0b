package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kwv/collarmesh/locator"
)

const (
	// writeWait is how long to wait for a websocket write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// streamBuffer is the per-connection backlog of position updates
	streamBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// positionsResponse mirrors the combined MQTT message
type positionsResponse struct {
	Collars     []locator.LivePosition `json:"collars"`
	TimestampMs int64                  `json:"timestampMs"`
}

// collarResponse is one collar with its data-quality counters
type collarResponse struct {
	Position locator.LivePosition `json:"position"`
	Stats    locator.CollarStats  `json:"stats"`
}

// sortedPositions returns the tracker's positions ordered by collar id
func sortedPositions(tracker *locator.Tracker) []locator.LivePosition {
	positions := tracker.GetPositions()
	list := make([]locator.LivePosition, 0, len(positions))
	for _, p := range positions {
		list = append(list, *p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CollarID < list[j].CollarID })
	return list
}

func writeJSON(w http.ResponseWriter, contentType string, v interface{}) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding %s response: %v", contentType, err)
	}
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(tracker *locator.Tracker, config *locator.Config) http.Handler {
	mux := http.NewServeMux()

	gridSpacing := 1.0
	if config != nil && config.FloorPlan.GridSpacing > 0 {
		gridSpacing = config.FloorPlan.GridSpacing
	}
	registry := tracker.Engine().Registry()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Beacons   int       `json:"beacons"`
			Collars   int       `json:"collars"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Beacons:   registry.Len(),
			Collars:   len(tracker.GetPositions()),
		}
		writeJSON(w, "application/json", status)
	})

	mux.HandleFunc("GET /positions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, "application/json", positionsResponse{
			Collars:     sortedPositions(tracker),
			TimestampMs: time.Now().UnixMilli(),
		})
	})

	mux.HandleFunc("GET /positions/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		pos, ok := tracker.GetPosition(id)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown collar %q", id), http.StatusNotFound)
			return
		}
		stats, _ := tracker.Stats(id)
		writeJSON(w, "application/json", collarResponse{Position: *pos, Stats: stats})
	})

	mux.HandleFunc("GET /beacons", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, "application/json", registry.Beacons())
	})

	mux.HandleFunc("GET /map.geojson", func(w http.ResponseWriter, r *http.Request) {
		fc := locator.BuildFeatureCollection(registry, tracker.Zones(), tracker.Mapper(), tracker.GetPositions())
		writeJSON(w, "application/geo+json", fc)
	})

	// Vector SVG endpoints
	svgHandler := func(live bool) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			vr := locator.NewVectorRenderer(tracker.Mapper(), registry, tracker.Zones())
			vr.GridSpacing = gridSpacing

			var positions map[string]*locator.LivePosition
			if live {
				positions = tracker.GetPositions()
			}

			w.Header().Set("Content-Type", "image/svg+xml")
			w.Header().Set("Cache-Control", "no-cache")
			if err := vr.RenderToSVG(w, positions); err != nil {
				log.Printf("Error encoding SVG %s: %v", r.URL.Path, err)
			}
		}
	}
	mux.HandleFunc("GET /floorplan.svg", svgHandler(false))
	mux.HandleFunc("GET /live.svg", svgHandler(true))

	mux.HandleFunc("GET /live.png", func(w http.ResponseWriter, r *http.Request) {
		rr := locator.NewRasterRenderer(tracker.Mapper(), registry, tracker.Zones())
		rr.GridSpacing = gridSpacing

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := rr.WritePNG(w, tracker.GetPositions()); err != nil {
			log.Printf("Error encoding live PNG: %v", err)
		}
	})

	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		serveStream(w, r, tracker)
	})

	// Default route serves an HTML page refreshing the live SVG
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>collarmesh</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
html,body{width:100%;height:100%;overflow:hidden;background:#1a1a1a}
img{display:block;width:100vw;height:100vh;object-fit:contain}
</style>
</head>
<body>
<img id="plan" src="/live.svg" alt="Live positions">
<script>
const img = document.getElementById("plan");
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = () => { img.src = "/live.svg?t=" + Date.now(); };
</script>
</body>
</html>`)
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}

// serveStream upgrades to a websocket and streams position updates: first a
// snapshot of every collar, then each update as it happens
func serveStream(w http.ResponseWriter, r *http.Request, tracker *locator.Tracker) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[HTTP] websocket upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	defer func() { _ = conn.Close() }()

	updates, cancel := tracker.Subscribe(streamBuffer)
	defer cancel()

	// Read pump: clients send nothing, but reading detects disconnects and pongs
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, p := range sortedPositions(tracker) {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(p); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case p, ok := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(p); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
