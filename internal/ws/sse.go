package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arbi/kvengine/pkg/kv"
)

const sseKeepAlive = 30 * time.Second

// SSEHandler streams store pub/sub channels as server-sent events
type SSEHandler struct {
	store  kv.Store
	logger *zap.SugaredLogger

	done     chan struct{}
	doneOnce sync.Once
}

func NewSSEHandler(store kv.Store, logger *zap.SugaredLogger) *SSEHandler {
	return &SSEHandler{
		store:  store,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Shutdown ends every open stream. http.Server.Shutdown does not cancel
// request contexts, so register this with RegisterOnShutdown.
func (h *SSEHandler) Shutdown() {
	h.doneOnce.Do(func() { close(h.done) })
}

func (h *SSEHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	channels := ParseChannels(r)
	if len(channels) == 0 {
		http.Error(w, "channels query parameter is required", http.StatusBadRequest)
		return
	}

	// Create context that cancels when client disconnects
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := h.store.Subscribe(ctx, channels...)
	if err != nil {
		h.logger.Errorw("Subscribe failed", "channels", channels, "error", err)
		http.Error(w, "subscribe failed", http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	h.logger.Debugw("SSE connection established", "channels", channels)
	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debugw("SSE client disconnected", "channels", channels)
			return
		case <-h.done:
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			data, err := Envelope(msg, time.Now())
			if err != nil {
				h.logger.Errorw("Failed to marshal SSE message", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
