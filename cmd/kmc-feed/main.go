package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/nats-io/nats.go"
	"github.com/spf13/pflag"

	"GoKmerSpectra/internal/estimate"
	"GoKmerSpectra/internal/ingest"
	"GoKmerSpectra/internal/logging"
	"GoKmerSpectra/internal/model"
	"GoKmerSpectra/internal/sink"
	"GoKmerSpectra/internal/wire"
)

func main() {
	// --- Command-Line Flag Parsing ---
	mode := pflag.String("mode", "pub", "Operating mode: 'pub' to publish k-mer files, 'sub' to print published results.")
	natsURL := pflag.String("nats", nats.DefaultURL, "NATS server URL.")
	prefix := pflag.String("prefix", "kmc.batches", "Subject prefix of the engine's ingest.")
	resultSubject := pflag.String("results", "kmc.results", "Subject the engine's NATS writer publishes to (sub mode).")
	devices := pflag.Int("devices", 1, "Number of engine devices to spread batches over.")
	batchSize := pflag.Int("batch", 4096, "K-mers per published batch.")
	estimates := pflag.String("estimates", "", "Directory to write per-file cardinality estimates to.")
	k := pflag.Int("k", 31, "K-mer length, used to print results.")
	verbosity := pflag.Int("v", logging.DEFAULT, "Log verbosity.")
	pflag.Parse()

	log := logging.NewDevelopment(*verbosity).WithName("kmc-feed")

	// --- Mode Dispatch ---
	var err error
	switch *mode {
	case "pub":
		err = runPublisher(log, *natsURL, *prefix, *devices, *batchSize, *estimates, pflag.Args())
	case "sub":
		err = runSubscriber(log, *natsURL, *resultSubject, *k)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		pflag.Usage()
		os.Exit(1)
	}
	if err != nil {
		log.Error(err, "kmc-feed failed")
		os.Exit(1)
	}
}

// runPublisher sends every input file as one temp file id. Files hold one
// k-mer per line. The batches of a file are spread over the devices in
// order, then every device stream is ended.
func runPublisher(log logr.Logger, url, prefix string, devices, batchSize int, estimateDir string, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("no k-mer files given")
	}
	if devices < 1 || batchSize < 1 {
		return fmt.Errorf("devices and batch must be positive")
	}

	pub, err := ingest.NewPublisher(url, prefix)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer pub.Close()

	next := 0
	for i, path := range paths {
		file := model.FileID(i)

		// The estimate has to be on disk before the engine sees the first
		// batch of the file, since it sizes the table on that batch.
		fe, err := estimateFile(path)
		if err != nil {
			return err
		}
		if estimateDir != "" {
			if err := estimate.SaveFile(estimateDir, file, fe); err != nil {
				return fmt.Errorf("failed to save estimate: %w", err)
			}
		}

		published, err := publishFile(pub, path, file, batchSize, devices, &next)
		if err != nil {
			return err
		}
		log.Info("Published file", "path", path, "file", file, "kmers", published, "estimate", fe.Cardinality())
	}

	for d := 0; d < devices; d++ {
		if err := pub.EndOfStream(d); err != nil {
			return fmt.Errorf("failed to end stream of device %d: %w", d, err)
		}
	}
	return nil
}

func estimateFile(path string) (*estimate.FileEstimate, error) {
	fe, err := estimate.New(estimate.DefaultLog2m)
	if err != nil {
		return nil, err
	}
	err = scanKMers(path, func(km model.KMer) error {
		fe.Add(km)
		return nil
	})
	return fe, err
}

func publishFile(pub *ingest.Publisher, path string, file model.FileID, batchSize, devices int, next *int) (int, error) {
	total := 0
	batch := &model.KMerBatch{FileID: file}
	flush := func() error {
		if len(batch.KMers) == 0 {
			return nil
		}
		if err := pub.Publish(*next%devices, batch); err != nil {
			return fmt.Errorf("failed to publish batch: %w", err)
		}
		*next++
		total += len(batch.KMers)
		batch = &model.KMerBatch{FileID: file}
		return nil
	}

	err := scanKMers(path, func(km model.KMer) error {
		batch.KMers = append(batch.KMers, km)
		if len(batch.KMers) == batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	return total, flush()
}

// scanKMers calls fn for every k-mer of a one-k-mer-per-line file. Blank
// lines and # comments are skipped.
func scanKMers(path string, fn func(model.KMer) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		km, err := model.Encode(text)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if err := fn(km); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// runSubscriber prints result batches published by the engine's NATS writer.
func runSubscriber(log logr.Logger, url, subject string, k int) error {
	nc, err := nats.Connect(url)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	sub, err := nc.Subscribe(subject+".*", func(msg *nats.Msg) {
		rb, err := wire.UnmarshalResultBatch(msg.Data)
		if err != nil {
			log.Error(err, "Error decoding result batch")
			return
		}
		for _, e := range rb.Entries {
			fmt.Printf("%d\t%d\t%s\t%d\n", rb.DeviceID, rb.FileID, e.KMer.Decode(k), e.Count)
		}
		if msg.Header.Get(sink.HeaderFinal) == "1" {
			log.Info("Device finished", "device", rb.DeviceID, "run", msg.Header.Get(sink.HeaderRunID))
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	log.Info("Subscribed, waiting for results", "subject", subject+".*")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	return nil
}
