package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"reddot-watch/newsfeed/internal/process"
)

// Trigger runs one ingestion.
type Trigger interface {
	Run(ctx context.Context) (process.Report, error)
}

// IngestHandler starts ingestion runs on demand.
type IngestHandler struct {
	trigger    Trigger
	runTimeout time.Duration
	logger     zerolog.Logger
	running    atomic.Int32
}

func NewIngestHandler(trigger Trigger, runTimeout time.Duration, logger zerolog.Logger) *IngestHandler {
	return &IngestHandler{trigger: trigger, runTimeout: runTimeout, logger: logger}
}

// Ingest starts a run. By default it answers 202 and runs in the background;
// with wait=true it answers 200 with the run report once the run finishes.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	// The run outlives the request unless the caller waits for it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.runTimeout)

	if r.URL.Query().Get("wait") != "true" {
		go func() {
			defer cancel()
			h.run(ctx)
		}()
		log.Info().Msg("Ingestion run triggered")
		writeJSONStatus(w, log, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}
	defer cancel()

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(h.runTimeout + 10*time.Second)); err != nil {
		log.Debug().Err(err).Msg("Could not extend write deadline")
	}

	report, err := h.run(ctx)
	if err != nil {
		unavailable(w)
		return
	}
	writeJSON(w, log, report)
}

func (h *IngestHandler) run(ctx context.Context) (process.Report, error) {
	h.running.Add(1)
	defer h.running.Add(-1)

	report, err := h.trigger.Run(ctx)
	if err != nil {
		h.logger.Error().Err(err).Str("run_id", report.RunID).Msg("Triggered ingestion run failed")
	}
	return report, err
}

// Running reports how many triggered runs are in flight.
func (h *IngestHandler) Running() int {
	return int(h.running.Load())
}
