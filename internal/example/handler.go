// Package example serves the demo endpoints traffic logging is exercised
// against.
package example

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"trafficlog/internal/host"
)

const (
	// MaxChunks caps /api/stream.
	MaxChunks = 100
	// MaxEchoBytes caps the body /api/echo reads.
	MaxEchoBytes int64 = 1 << 20
)

// Message is the body of the hello endpoints.
type Message struct {
	Value string `json:"value"`
}

// HandleSync handles GET /api/sync.
func HandleSync(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, Message{Value: "Hello, world!"})
}

// HandleAsync handles GET /api/async. It returns without a response and
// completes it from another goroutine.
func HandleAsync(w http.ResponseWriter, r *http.Request) {
	ac, err := host.StartAsync(r)
	if err != nil {
		log.Warn().Err(err).Msg("Async not available, answering synchronously")
		HandleSync(w, r)
		return
	}
	go func() {
		if err := ac.Dispatch(http.HandlerFunc(HandleSync)); err != nil {
			log.Error().Err(err).Msg("Error resuming async exchange")
		}
	}()
}

// HandleEcho handles POST /api/echo by writing the request body back.
func HandleEcho(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxEchoBytes))
	if err != nil {
		http.Error(w, "Error reading body", http.StatusBadRequest)
		return
	}

	h := w.Header()
	if ct := r.Header.Get("Content-Type"); ct != "" {
		h.Set("Content-Type", ct)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	h.Set("X-Content-Type-Options", "nosniff")

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("Error writing echo response")
	}
}

// HandleStream handles GET /api/stream?chunks={N}. Every chunk is written in
// its own dispatch, with the exchange deferred in between.
func HandleStream(w http.ResponseWriter, r *http.Request) {
	chunks := 3
	if raw := r.URL.Query().Get("chunks"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxChunks {
			http.Error(w, "Invalid chunks. Expected 1-"+strconv.Itoa(MaxChunks), http.StatusBadRequest)
			return
		}
		chunks = n
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	streamChunk(w, r, 1, chunks)
}

func streamChunk(w http.ResponseWriter, r *http.Request, i, total int) {
	if _, err := io.WriteString(w, "chunk "+strconv.Itoa(i)+"/"+strconv.Itoa(total)+"\n"); err != nil {
		log.Error().Err(err).Msg("Error writing stream chunk")
		return
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	if i == total {
		return
	}

	ac, err := host.StartAsync(r)
	if err != nil {
		// not dispatched, finish inline
		streamChunk(w, r, i+1, total)
		return
	}
	time.AfterFunc(10*time.Millisecond, func() {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			streamChunk(w, r, i+1, total)
		})
		if err := ac.Dispatch(next); err != nil {
			log.Error().Err(err).Int("chunk", i+1).Msg("Error resuming stream")
		}
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Error writing JSON response")
	}
}
