package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cuemby/kros/pkg/behaviour"
	"github.com/cuemby/kros/pkg/bus"
)

type errorResponse struct {
	Error string `json:"error"`
}

// BusResponse is returned by GET /v1/bus
type BusResponse struct {
	Stats      bus.Stats `json:"stats"`
	Publishers []string  `json:"publishers"`
	Tasks      []string  `json:"tasks"`
}

// BehavioursResponse is returned by GET /v1/behaviours
type BehavioursResponse struct {
	Active     string           `json:"active,omitempty"`
	Behaviours []behaviour.Info `json:"behaviours"`
}

func (s *Server) handleBus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BusResponse{
		Stats:      s.bus.Stats(),
		Publishers: s.bus.Publishers(),
		Tasks:      s.bus.TaskNames(),
	})
}

func (s *Server) handleSubscribers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bus.Subscribers())
}

func (s *Server) handleBehaviours(w http.ResponseWriter, r *http.Request) {
	if s.behaviours == nil {
		writeJSON(w, http.StatusOK, BehavioursResponse{Behaviours: []behaviour.Info{}})
		return
	}
	writeJSON(w, http.StatusOK, BehavioursResponse{
		Active:     s.behaviours.ActiveBehaviourName(),
		Behaviours: s.behaviours.Info(),
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.notifications == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "notifications disabled"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	sub := s.notifications.Subscribe()
	defer s.notifications.Unsubscribe(sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.streams.Done():
			return
		case n, open := <-sub:
			if !open {
				return
			}
			data, err := json.Marshal(n)
			if err != nil {
				s.logger.Warn().Err(err).Msg("cannot encode notification")
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", n.ID, n.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
