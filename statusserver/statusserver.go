// Package statusserver exposes the progress of a running download batch.
package statusserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"planet-fetch/download"
	"planet-fetch/metrics"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// TaskSource is satisfied by *download.Coordinator.
type TaskSource interface {
	Snapshot() []download.TaskSnapshot
}

type StatusServer struct {
	Source  TaskSource
	Metrics *metrics.Metrics
	RunID   string
	Started time.Time
}

func New(src TaskSource, m *metrics.Metrics, runID string) *StatusServer {
	return &StatusServer{
		Source:  src,
		Metrics: m,
		RunID:   runID,
		Started: time.Now(),
	}
}

type statusCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
}

type statusResponse struct {
	Run     string                  `json:"run,omitempty"`
	Uptime  string                  `json:"uptime,omitempty"`
	Counts  *statusCounts           `json:"counts,omitempty"`
	Results []download.TaskSnapshot `json:"results"`
	Error   string                  `json:"error"`
}

func count(tasks []download.TaskSnapshot) *statusCounts {
	c := &statusCounts{}
	for _, t := range tasks {
		switch download.Status(t.Status) {
		case download.Pending:
			c.Pending++
		case download.InProgress:
			c.InProgress++
		case download.Succeeded:
			c.Succeeded++
		case download.Failed:
			c.Failed++
		}
	}
	return c
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("status encode: %v", err)
	}
}

func (s *StatusServer) serveTasks(w http.ResponseWriter, r *http.Request) {
	all := s.Source.Snapshot()
	tasks := all
	if want := r.URL.Query().Get("status"); want != "" {
		var filtered []download.TaskSnapshot
		for _, t := range all {
			if t.Status == want {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	if tasks == nil {
		tasks = []download.TaskSnapshot{}
	}
	writeJSON(w, http.StatusOK, &statusResponse{
		Run:     s.RunID,
		Uptime:  time.Since(s.Started).Round(time.Second).String(),
		Counts:  count(all),
		Results: tasks,
	})
}

func (s *StatusServer) serveTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	for _, t := range s.Source.Snapshot() {
		if t.ItemID == id {
			writeJSON(w, http.StatusOK, &statusResponse{Run: s.RunID, Results: []download.TaskSnapshot{t}})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, &statusResponse{
		Run:     s.RunID,
		Results: []download.TaskSnapshot{},
		Error:   fmt.Sprintf("no task for item %q", id),
	})
}

// Router returns the HTTP routes.
func (s *StatusServer) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/api/tasks", s.serveTasks).Methods("GET")
	router.HandleFunc("/api/tasks/{id}", s.serveTask).Methods("GET")
	if s.Metrics != nil {
		router.Handle("/metrics", s.Metrics.Handler()).Methods("GET")
	}
	return router
}

// Serve listens on addr until ctx is cancelled.
func (s *StatusServer) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()
	log.Infof("Status server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
