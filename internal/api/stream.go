package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/goodtune/pedometer/internal/pedometer"
)

// streamBuffer is how many step values may queue for a slow client before
// values are dropped.
const streamBuffer = 64

// handleStream sends each raw step-counter value as a server-sent event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	values := make(chan int, streamBuffer)
	cancel := s.pedometer.TrackSteps(pedometer.ListenerFunc(func(steps int) {
		select {
		case values <- steps:
		default:
		}
	}))
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Debug().Err(err).Msg("Streaming not supported")
		return
	}

	keepAlive := time.NewTicker(30 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case steps := <-values:
			if _, err := fmt.Fprintf(w, "event: steps\ndata: {\"steps\":%d}\n\n", steps); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
