package hasher

import (
	"fmt"

	"GoKmerSpectra/internal/model"
)

// unsupportedWorker runs on a backend without counting devices. It reports
// model.ErrConfiguration and only drains its queue.
type unsupportedWorker struct {
	workerContext
	backend string
}

func (w *unsupportedWorker) run() error {
	err := fmt.Errorf("device %d: %w: backend %q has no counting devices",
		w.id, model.ErrConfiguration, w.backend)
	w.log.Error(err, "Cannot count on this backend")
	discard(w.input)
	return err
}

func (w *unsupportedWorker) stats() model.Stats {
	return model.Stats{}
}
