// Package telemetry exposes a read-only websocket feed of duplex channel
// statistics, for dashboards or ad hoc inspection. It never touches the
// frame path — purely observational, by construction it cannot become a
// second transport for request/response data (spec's "no cross-host
// transport" Non-goal still holds for the actual ring buffers).
package telemetry

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// StatsProvider is whatever a duplex server (or any other component)
// exposes as its observable counters. duplex.ImmutableServer and
// duplex.MutableServer both satisfy this.
type StatsProvider interface {
	RequestCount() uint64
	ResponseCount() uint64
	LastError() string
}

// Snapshot is one JSON frame pushed to a subscriber.
type Snapshot struct {
	Channel   string `json:"channel"`
	Requests  uint64 `json:"requests"`
	Responses uint64 `json:"responses"`
	LastError string `json:"last_error,omitempty"`
}

// Server publishes a Snapshot per registered channel to every connected
// websocket client on a fixed tick, grounded on the websocket dial/accept
// style used for exchange feeds elsewhere in this stack (nhooyr.io/websocket
// + wsjson), here on the accept side instead of the dial side.
type Server struct {
	tick time.Duration

	mu        sync.Mutex
	providers map[string]StatsProvider
}

// NewServer builds a telemetry Server that polls its registered providers
// every tick and pushes a Snapshot per channel to each connected client.
func NewServer(tick time.Duration) *Server {
	if tick <= 0 {
		tick = time.Second
	}
	return &Server{tick: tick, providers: make(map[string]StatsProvider)}
}

// Register makes channel's stats visible to subscribers. Call again with
// the same channel name to replace a stale provider.
func (s *Server) Register(channel string, p StatsProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[channel] = p
}

// Unregister stops publishing channel's stats.
func (s *Server) Unregister(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.providers, channel)
}

// ServeHTTP accepts a websocket connection and streams Snapshot lines until
// the client disconnects or the request context is canceled.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("telemetry: accept: %v", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
			for _, snap := range s.snapshots() {
				if err := wsjson.Write(ctx, conn, snap); err != nil {
					return
				}
			}
		}
	}
}

func (s *Server) snapshots() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Snapshot, 0, len(s.providers))
	for channel, p := range s.providers {
		out = append(out, Snapshot{
			Channel:   channel,
			Requests:  p.RequestCount(),
			Responses: p.ResponseCount(),
			LastError: p.LastError(),
		})
	}
	return out
}

// MarshalSnapshots is a test/debug helper returning the current snapshots
// as indented JSON.
func (s *Server) MarshalSnapshots() ([]byte, error) {
	return json.MarshalIndent(s.snapshots(), "", "  ")
}
