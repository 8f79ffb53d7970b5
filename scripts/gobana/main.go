package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"GoKmerSpectra/internal/logging"
	"GoKmerSpectra/internal/sink"
)

func main() {
	k := pflag.Int("k", 31, "K-mer length used by the run.")
	pflag.Parse()
	if pflag.NArg() < 1 {
		fmt.Println("Usage: go run ./scripts/gobana/main.go [--k N] <dat_file>...")
		os.Exit(1)
	}
	log := logging.NewDevelopment(logging.DEFAULT).WithName("gobana")

	for _, path := range pflag.Args() {
		entries, err := sink.ReadGobFile(path)
		if err != nil {
			log.Error(err, "Failed to decode gob data", "path", path)
			os.Exit(1)
		}
		fmt.Printf("# %s: %d k-mers\n", path, len(entries))
		for _, e := range entries {
			fmt.Printf("%s %d\n", e.KMer.Decode(*k), e.Count)
		}
	}
}
