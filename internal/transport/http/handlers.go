package http

import (
	"context"
	"errors"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/vovakirdan/wirestatus/internal/core"
)

// Poster runs a function on the reactor goroutine.
type Poster interface {
	Post(fn func())
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// AdminHandlers exposes hub status and event ingestion over HTTP. Every hub
// access is marshalled onto the reactor with Post.
type AdminHandlers struct {
	loop        Poster
	hub         *core.Hub
	reload      func() error
	log         *zerolog.Logger
	callTimeout time.Duration
}

// NewAdminHandlers creates the admin handlers. reload may be nil.
func NewAdminHandlers(loop Poster, hub *core.Hub, reload func() error, logger *zerolog.Logger) *AdminHandlers {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &AdminHandlers{
		loop:        loop,
		hub:         hub,
		reload:      reload,
		log:         logger,
		callTimeout: 5 * time.Second,
	}
}

var errLoopUnavailable = errors.New("event loop did not respond")

// call runs fn on the reactor and waits for it, bounded by ctx and the
// handler's call timeout.
func (h *AdminHandlers) call(ctx context.Context, fn func()) error {
	ctx, cancel := context.WithTimeout(ctx, h.callTimeout)
	defer cancel()

	done := make(chan struct{})
	h.loop.Post(func() {
		fn()
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errLoopUnavailable
	}
}

// Health reports liveness.
// GET /health
func (h *AdminHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ProcessStats describes the server process.
type ProcessStats struct {
	PID        int    `json:"pid"`
	RSSBytes   uint64 `json:"rss_bytes"`
	OpenFDs    int32  `json:"open_fds"`
	Goroutines int    `json:"goroutines"`
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	core.Status
	Process ProcessStats `json:"process"`
}

// Status reports hub state and process statistics.
// GET /v1/status
func (h *AdminHandlers) Status(c *gin.Context) {
	var st core.Status
	if err := h.call(c.Request.Context(), func() { st = h.hub.Status() }); err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: core.ErrCodeUnavailable})
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: st, Process: h.processStats()})
}

func (h *AdminHandlers) processStats() ProcessStats {
	stats := ProcessStats{PID: os.Getpid(), Goroutines: runtime.NumGoroutine()}

	proc, err := process.NewProcess(int32(stats.PID))
	if err != nil {
		h.log.Debug().Err(err).Msg("process stats unavailable")
		return stats
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		stats.RSSBytes = mem.RSS
	}
	if fds, err := proc.NumFDs(); err == nil {
		stats.OpenFDs = fds
	}
	return stats
}

// IngestResponse tells the caller whether the event passed the filter.
type IngestResponse struct {
	Passed bool `json:"passed"`
}

// SetWindowLevel records a window level change and broadcasts it.
// POST /v1/windows
func (h *AdminHandlers) SetWindowLevel(c *gin.Context) {
	var req WindowLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid window request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}
	h.ingest(c, func() (bool, error) {
		return h.hub.WindowLevel(req.Window(), *req.Level)
	})
}

// DestroyWindow forgets a window and broadcasts level 0.
// DELETE /v1/windows
func (h *AdminHandlers) DestroyWindow(c *gin.Context) {
	var req WindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid window request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}
	h.ingest(c, func() (bool, error) {
		return h.hub.WindowDestroyed(req.Window())
	})
}

// PostMessage broadcasts a private or public message.
// POST /v1/messages
func (h *AdminHandlers) PostMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid message request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}
	h.ingest(c, func() (bool, error) {
		if req.WType == "query" {
			return h.hub.PrivateMessage(req.Server, req.Sender(), req.Message)
		}
		return h.hub.PublicMessage(req.Server, req.Name, req.Nick, req.Message)
	})
}

func (h *AdminHandlers) ingest(c *gin.Context, fn func() (bool, error)) {
	var (
		passed bool
		err    error
	)
	if callErr := h.call(c.Request.Context(), func() { passed, err = fn() }); callErr != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: callErr.Error(), Code: core.ErrCodeUnavailable})
		return
	}
	if err != nil {
		writeCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, IngestResponse{Passed: passed})
}

// Reload rebuilds settings from the config file.
// POST /v1/reload
func (h *AdminHandlers) Reload(c *gin.Context) {
	if h.reload == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "reload not configured"})
		return
	}
	if err := h.reload(); err != nil {
		h.log.Warn().Err(err).Msg("reload failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}

func writeCoreError(c *gin.Context, err error) {
	var coreErr *core.CoreError
	if errors.As(err, &coreErr) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: coreErr.Message, Code: coreErr.Code})
		return
	}
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}
