// Package web serves the status page, the history and the remote watering
// controls over HTTP.
package web

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/garden-controller/internal/logic"
	"github.com/sweeney/garden-controller/internal/orchestrator"
	"github.com/sweeney/garden-controller/internal/status"
	"github.com/sweeney/garden-controller/internal/trigger"
)

// History reads persisted records, newest first.
type History interface {
	LatestStates(n int) ([]logic.StateRecord, error)
	LatestSessions(n int) ([]logic.Session, error)
	LatestReadings(kind logic.ReadingKind, n int) ([]logic.Reading, error)
}

// Options wires the server.
type Options struct {
	Tracker  *status.Tracker
	History  History                // optional
	Commands chan<- trigger.Command // optional; nil disables the POST routes
	Gatherer prometheus.Gatherer    // optional; nil disables /metrics
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	opts       Options
	stopWait   time.Duration
}

// New creates a Server listening on addr.
func New(addr string, opts Options) *Server {
	s := &Server{opts: opts, stopWait: 5 * time.Second}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	r.HandleFunc("/history.json", s.handleHistory).Methods(http.MethodGet)
	if opts.Commands != nil {
		r.HandleFunc("/water/{zone}", s.handleWater).Methods(http.MethodPost)
		r.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)
	}
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	s.router = r

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page := indexPage{Snapshot: s.opts.Tracker.Snapshot()}
	if s.opts.History != nil {
		sessions, err := s.opts.History.LatestSessions(10)
		if err != nil {
			log.Printf("web: recent sessions: %v", err)
		}
		page.Sessions = sessions
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, page); err != nil {
		log.Printf("web: render index: %v", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.opts.Tracker.Snapshot()))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		http.Error(w, "history not available", http.StatusServiceUnavailable)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	kind := logic.ReadingKind(r.URL.Query().Get("kind"))

	h, err := buildHistory(s.opts.History, kind, limit)
	if err != nil {
		log.Printf("web: history: %v", err)
		http.Error(w, "history read failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleWater(w http.ResponseWriter, r *http.Request) {
	zone, ok := logic.ParseZone(mux.Vars(r)["zone"])
	if !ok {
		writeJSON(w, http.StatusNotFound, commandResponse{Outcome: string(orchestrator.OutcomeRejectedUnknownZone)})
		return
	}
	if !trigger.Send(s.opts.Commands, trigger.Command{Kind: trigger.KindWater, Zone: zone, Origin: trigger.OriginHTTP}) {
		writeJSON(w, http.StatusServiceUnavailable, commandResponse{Outcome: "queue_full", Zone: string(zone)})
		return
	}
	writeJSON(w, http.StatusAccepted, commandResponse{Outcome: "queued", Zone: string(zone)})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	reply := make(chan orchestrator.Outcome, 1)
	if !trigger.SendContext(r.Context(), s.opts.Commands, trigger.Command{Kind: trigger.KindStop, Origin: trigger.OriginHTTP, Reply: reply}) {
		writeJSON(w, http.StatusServiceUnavailable, commandResponse{Outcome: "unavailable"})
		return
	}
	select {
	case out := <-reply:
		writeJSON(w, http.StatusOK, commandResponse{Outcome: string(out)})
	case <-time.After(s.stopWait):
		writeJSON(w, http.StatusAccepted, commandResponse{Outcome: "queued"})
	case <-r.Context().Done():
	}
}

type commandResponse struct {
	Outcome string `json:"outcome"`
	Zone    string `json:"zone,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: encode response: %v", err)
	}
}
