package factory

import (
	"fmt"
	"sort"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"GoKmerSpectra/internal/config"
	"GoKmerSpectra/internal/model"
)

// Env carries what every writer needs besides its own config block.
type Env struct {
	// K is the k-mer length, used to render k-mers as bases.
	K int
	// RunID tags all results of one engine run.
	RunID uuid.UUID
	Log   logr.Logger
}

// WriterFactory defines a function that creates a writer from its config.
type WriterFactory func(def config.WriterDef, env Env) (model.Writer, error)

// NamedWriter is a writer together with the type it was created from.
type NamedWriter struct {
	Name string
	model.Writer
}

// registry holds the mapping of writer types to their factory functions.
var registry = make(map[string]WriterFactory)

// RegisterWriter registers a new writer type with its factory function.
func RegisterWriter(name string, factory WriterFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("writer type '%s' already registered", name))
	}
	registry[name] = factory
}

// Registered returns the known writer types, sorted.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds the enabled writers of defs. If one fails, the writers
// created so far are closed.
func Create(defs []config.WriterDef, env Env) (_ []NamedWriter, err error) {
	var writers []NamedWriter
	defer func() {
		if err != nil {
			for _, w := range writers {
				err = multierr.Append(err, w.Close())
			}
		}
	}()

	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		env.Log.Info("Creating writer", "type", def.Type)

		factory, ok := registry[def.Type]
		if !ok {
			return nil, fmt.Errorf("%w: unknown writer type: '%s'", model.ErrConfiguration, def.Type)
		}

		w, err := factory(def, env)
		if err != nil {
			return nil, fmt.Errorf("error creating writer type '%s': %w", def.Type, err)
		}
		writers = append(writers, NamedWriter{Name: def.Type, Writer: w})
	}

	return writers, nil
}
