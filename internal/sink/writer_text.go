package sink

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"GoKmerSpectra/internal/config"
	"GoKmerSpectra/internal/factory"
	"GoKmerSpectra/internal/logging"
	"GoKmerSpectra/internal/model"
)

const TypeText = "text"

func init() {
	factory.RegisterWriter(TypeText, func(def config.WriterDef, env factory.Env) (model.Writer, error) {
		return NewTextWriter(filepath.Join(def.Text.RootPath, env.RunID.String()), env.K, env.Log)
	})
}

type outputKey struct {
	device int
	file   model.FileID
}

// TextWriter writes one "<k-mer> <count>" line per entry, into
// device_<d>/file_<f>.txt below its root. Each device keeps one file open
// at a time; a file the device returns to is reopened for appending.
type TextWriter struct {
	rootPath string
	k        int
	log      logr.Logger
	open     map[int]*textFile
}

type textFile struct {
	key outputKey
	f   *os.File
	w   *bufio.Writer
}

func (tf *textFile) close() error {
	return multierr.Append(tf.w.Flush(), tf.f.Close())
}

// NewTextWriter creates a new text writer for counted k-mers of length k.
func NewTextWriter(rootPath string, k int, log logr.Logger) (*TextWriter, error) {
	if k < 1 || k > model.MaxK {
		return nil, fmt.Errorf("%w: k must be in [1,%d], got %d", model.ErrConfiguration, model.MaxK, k)
	}
	if err := os.MkdirAll(rootPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &TextWriter{
		rootPath: rootPath,
		k:        k,
		log:      log.WithName("text-writer"),
		open:     make(map[int]*textFile),
	}, nil
}

func (w *TextWriter) Write(batch *model.ResultBatch) error {
	tf, err := w.file(outputKey{batch.DeviceID, batch.FileID})
	if err != nil {
		return err
	}
	for _, e := range batch.Entries {
		if _, err := fmt.Fprintf(tf.w, "%s %d\n", e.KMer.Decode(w.k), e.Count); err != nil {
			return fmt.Errorf("failed to write k-mer to file: %w", err)
		}
	}
	if batch.Final {
		delete(w.open, batch.DeviceID)
		return tf.close()
	}
	return nil
}

func (w *TextWriter) file(key outputKey) (*textFile, error) {
	if tf, ok := w.open[key.device]; ok {
		if tf.key == key {
			return tf, nil
		}
		delete(w.open, key.device)
		if err := tf.close(); err != nil {
			return nil, fmt.Errorf("failed to close output of file %d: %w", tf.key.file, err)
		}
	}
	dir := filepath.Join(w.rootPath, fmt.Sprintf("device_%d", key.device))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("file_%d.txt", key.file))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file '%s': %w", path, err)
	}
	tf := &textFile{key: key, f: f, w: bufio.NewWriter(f)}
	w.open[key.device] = tf
	return tf, nil
}

func (w *TextWriter) Close() error {
	var err error
	for device, tf := range w.open {
		err = multierr.Append(err, tf.close())
		delete(w.open, device)
	}
	w.log.V(logging.VERBOSE).Info("Closed text output", "root", w.rootPath)
	return err
}
