package sink

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"GoKmerSpectra/internal/config"
	"GoKmerSpectra/internal/factory"
	"GoKmerSpectra/internal/logging"
	"GoKmerSpectra/internal/model"
)

const TypeGob = "gob"

func init() {
	factory.RegisterWriter(TypeGob, func(def config.WriterDef, env factory.Env) (model.Writer, error) {
		return NewGobWriter(def.Gob.RootPath, env.RunID, env.K, env.Log)
	})
}

// SummaryData holds the metadata of one run, written next to the .dat files.
type SummaryData struct {
	RunID       string          `json:"run_id"`
	K           int             `json:"k"`
	Batches     int             `json:"batches"`
	Entries     int             `json:"entries"`
	Occurrences uint64          `json:"occurrences"`
	Devices     []DeviceSummary `json:"devices"`
	Timestamp   string          `json:"timestamp"`
}

type DeviceSummary struct {
	DeviceID int  `json:"device_id"`
	Files    int  `json:"files"`
	Entries  int  `json:"entries"`
	Complete bool `json:"complete"`
}

// GobWriter appends result entries to <root>/<run>/device_<d>/file_<f>.dat
// as a stream of gob-encoded []model.KMerCount and writes summary.json on
// Close.
//
// Each device keeps at most one file open: a device emits the extraction
// of one file at a time, so its file is closed as soon as the device moves
// on. If a device comes back to a file, the new entries go to
// file_<f>-<n>.dat, since a gob stream cannot be reopened for appending.
type GobWriter struct {
	runDir   string
	runID    uuid.UUID
	k        int
	log      logr.Logger
	open     map[int]*gobFile
	segments map[outputKey]int
	summary  SummaryData
	devices  map[int]*DeviceSummary
}

type gobFile struct {
	key outputKey
	f   *os.File
	w   *bufio.Writer
	enc *gob.Encoder
}

func (gf *gobFile) close() error {
	return multierr.Append(gf.w.Flush(), gf.f.Close())
}

// NewGobWriter creates a new writer for counted k-mers.
func NewGobWriter(rootPath string, runID uuid.UUID, k int, log logr.Logger) (*GobWriter, error) {
	runDir := filepath.Join(rootPath, runID.String())
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &GobWriter{
		runDir:   runDir,
		runID:    runID,
		k:        k,
		log:      log.WithName("gob-writer"),
		open:     make(map[int]*gobFile),
		segments: make(map[outputKey]int),
		devices:  make(map[int]*DeviceSummary),
	}, nil
}

// RunDir is the directory holding this run's output.
func (w *GobWriter) RunDir() string {
	return w.runDir
}

func (w *GobWriter) Write(batch *model.ResultBatch) error {
	key := outputKey{batch.DeviceID, batch.FileID}
	dev, ok := w.devices[batch.DeviceID]
	if !ok {
		dev = &DeviceSummary{DeviceID: batch.DeviceID}
		w.devices[batch.DeviceID] = dev
	}
	dev.Complete = dev.Complete || batch.Final
	w.summary.Batches++

	if len(batch.Entries) == 0 {
		return w.closeIfFinal(batch)
	}
	gf, err := w.file(key, dev)
	if err != nil {
		return err
	}
	if err := gf.enc.Encode(batch.Entries); err != nil {
		return fmt.Errorf("failed to encode entries to gob for file %d: %w", batch.FileID, err)
	}

	dev.Entries += len(batch.Entries)
	w.summary.Entries += len(batch.Entries)
	for _, e := range batch.Entries {
		w.summary.Occurrences += uint64(e.Count)
	}
	return w.closeIfFinal(batch)
}

// file returns the open file of key, closing whatever else the device had
// open.
func (w *GobWriter) file(key outputKey, dev *DeviceSummary) (*gobFile, error) {
	if gf, ok := w.open[key.device]; ok {
		if gf.key == key {
			return gf, nil
		}
		delete(w.open, key.device)
		if err := gf.close(); err != nil {
			return nil, fmt.Errorf("failed to close output of file %d: %w", gf.key.file, err)
		}
	}

	dir := filepath.Join(w.runDir, fmt.Sprintf("device_%d", key.device))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	seg := w.segments[key]
	name := fmt.Sprintf("file_%d.dat", key.file)
	if seg > 0 {
		name = fmt.Sprintf("file_%d-%d.dat", key.file, seg)
	} else {
		dev.Files++
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file '%s': %w", path, err)
	}
	w.segments[key] = seg + 1

	bw := bufio.NewWriter(f)
	gf := &gobFile{key: key, f: f, w: bw, enc: gob.NewEncoder(bw)}
	w.open[key.device] = gf
	return gf, nil
}

// closeIfFinal closes the device's file after its last batch.
func (w *GobWriter) closeIfFinal(batch *model.ResultBatch) error {
	if !batch.Final {
		return nil
	}
	gf, ok := w.open[batch.DeviceID]
	if !ok {
		return nil
	}
	delete(w.open, batch.DeviceID)
	return gf.close()
}

func (w *GobWriter) Close() error {
	var err error
	for device, gf := range w.open {
		err = multierr.Append(err, gf.close())
		delete(w.open, device)
	}

	summary := w.summary
	summary.RunID = w.runID.String()
	summary.K = w.k
	summary.Timestamp = time.Now().UTC().Format(time.RFC3339)
	for _, dev := range w.devices {
		summary.Devices = append(summary.Devices, *dev)
	}
	sort.Slice(summary.Devices, func(i, j int) bool {
		return summary.Devices[i].DeviceID < summary.Devices[j].DeviceID
	})

	summaryFile, cerr := os.Create(filepath.Join(w.runDir, "summary.json"))
	if cerr != nil {
		return multierr.Append(err, fmt.Errorf("failed to create summary file: %w", cerr))
	}
	defer summaryFile.Close()

	jsonEncoder := json.NewEncoder(summaryFile)
	jsonEncoder.SetIndent("", "  ")
	if cerr := jsonEncoder.Encode(summary); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("failed to encode summary to json: %w", cerr))
	}
	w.log.V(logging.VERBOSE).Info("Wrote gob output", "dir", w.runDir, "entries", summary.Entries)
	return err
}

// ReadGobFile decodes every entry of a .dat file written by GobWriter.
func ReadGobFile(path string) ([]model.KMerCount, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []model.KMerCount
	dec := gob.NewDecoder(f)
	for {
		var chunk []model.KMerCount
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return all, nil
			}
			return nil, fmt.Errorf("failed to decode '%s': %w", path, err)
		}
		all = append(all, chunk...)
	}
}
