// Package metrics holds the Prometheus collectors of the counting engine.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const subsystem = "kmc"

var (
	deviceLabels = []string{"device"}

	extractions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "extractions_total",
			Help:      "Number of table extractions per device.",
		}, deviceLabels)

	processedKMers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "processed_kmers_total",
			Help:      "Number of k-mers inserted per device.",
		}, deviceLabels)

	emittedEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "emitted_entries_total",
			Help:      "Number of (k-mer, count) pairs pushed to the output queue per device.",
		}, deviceLabels)

	throughput = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "device_throughput_kmers_per_second",
			Help:      "Throughput measured over the last extraction window.",
		}, deviceLabels)

	tableCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "table_capacity",
			Help:      "Current capacity of the device counting table.",
		}, deviceLabels)

	splitRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "split_ratio",
			Help:      "Last split ratio granted to the device.",
		}, deviceLabels)

	writtenBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "written_batches_total",
			Help:      "Result batches handed to writers, by writer and outcome.",
		}, []string{"writer", "outcome"})
)

var registerOnce sync.Once

// Register adds every collector to the registry. Only the first call has an
// effect.
func Register(registry prometheus.Registerer) {
	registerOnce.Do(func() {
		registry.MustRegister(
			extractions,
			processedKMers,
			emittedEntries,
			throughput,
			tableCapacity,
			splitRatio,
			writtenBatches,
		)
	})
}

// RecordExtraction updates the per-window collectors of a device.
func RecordExtraction(device int, processed uint64, emitted int, kmersPerSecond float64) {
	d := strconv.Itoa(device)
	extractions.WithLabelValues(d).Inc()
	processedKMers.WithLabelValues(d).Add(float64(processed))
	emittedEntries.WithLabelValues(d).Add(float64(emitted))
	throughput.WithLabelValues(d).Set(kmersPerSecond)
}

// RecordResize records the ratio and the capacity a device resized to.
func RecordResize(device int, ratio float64, capacity uint64) {
	d := strconv.Itoa(device)
	splitRatio.WithLabelValues(d).Set(ratio)
	tableCapacity.WithLabelValues(d).Set(float64(capacity))
}

// RecordWrite counts a batch handed to a writer.
func RecordWrite(writer string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	writtenBatches.WithLabelValues(writer, outcome).Inc()
}
