package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"GoKmerSpectra/internal/logging"
	"GoKmerSpectra/internal/model"
)

// --- Main Function ---
func main() {
	mode := pflag.String("mode", "api", "Query mode: 'api' to query the engine status, 'direct' to query ClickHouse directly.")
	apiURL := pflag.String("api", "http://localhost:8080", "Engine API base URL.")
	chAddr := pflag.String("clickhouse", "localhost:9000", "ClickHouse address (direct mode).")
	chPassword := pflag.String("password", "", "ClickHouse password (direct mode).")
	run := pflag.String("run", "", "Run id to query (direct mode, required).")
	top := pflag.Int("top", 20, "Number of most frequent k-mers to print (direct mode).")
	pflag.Parse()

	log := logging.NewDevelopment(logging.DEFAULT).WithName("query")
	log.Info("Running query", "mode", *mode)

	var err error
	switch *mode {
	case "api":
		err = queryViaAPI(log, *apiURL)
	case "direct":
		err = directQueryClickHouse(log, *chAddr, *chPassword, *run, *top)
	default:
		err = fmt.Errorf("invalid mode: %s. Use 'api' or 'direct'", *mode)
	}
	if err != nil {
		log.Error(err, "Query failed")
		os.Exit(1)
	}
}

// --- API Query Logic ---
func queryViaAPI(log logr.Logger, baseURL string) error {
	for _, path := range []string{"/api/v1/stats", "/api/v1/devices"} {
		resp, err := http.Get(baseURL + path)
		if err != nil {
			return fmt.Errorf("error sending request: %w", err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("error reading response body: %w", err)
		}
		if resp.StatusCode == http.StatusServiceUnavailable {
			log.Info("Engine is still counting", "path", path)
		} else if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("API returned status %d for %s: %s", resp.StatusCode, path, respBody)
		}

		var prettyJSON bytes.Buffer
		if err := json.Indent(&prettyJSON, respBody, "", "  "); err != nil {
			fmt.Println(string(respBody))
			continue
		}
		fmt.Printf("--- %s\n%s\n", path, prettyJSON.String())
	}
	return nil
}

// --- Direct ClickHouse Query Logic ---
func directQueryClickHouse(log logr.Logger, addr, password, run string, top int) error {
	runID, err := uuid.Parse(run)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", run, err)
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: password,
		},
	})
	if err != nil {
		return fmt.Errorf("error connecting to ClickHouse: %w", err)
	}
	defer conn.Close()

	const query = `
		SELECT Sequence, sum(Count) AS Total, uniqExact(FileID) AS Files
		FROM kmer_counts
		WHERE RunID = ?
		GROUP BY KMer, Sequence
		ORDER BY Total DESC
		LIMIT ?`

	rows, err := conn.Query(context.Background(), query, runID, uint64(top))
	if err != nil {
		return fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	var found bool
	for rows.Next() {
		found = true
		var (
			sequence string
			total    uint64
			files    uint64
		)
		if err := rows.Scan(&sequence, &total, &files); err != nil {
			log.Error(err, "Error scanning row")
			continue
		}
		fmt.Printf("%-*s %10d  (%d files)\n", model.MaxK, sequence, total, files)
	}
	if !found {
		log.Info("No data found for the run", "run", runID)
	}
	return rows.Err()
}
