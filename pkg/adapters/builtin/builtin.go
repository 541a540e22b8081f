// Package builtin wires the adapters shipped with qingest into a registry.
package builtin

import (
	"fmt"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/adapters/aiimpact"
	"github.com/qarbon/qingest/pkg/adapters/codecarbon"
	"github.com/qarbon/qingest/pkg/adapters/csvfile"
	"github.com/qarbon/qingest/pkg/adapters/fit"
	"github.com/qarbon/qingest/pkg/adapters/jsonfile"
	"github.com/qarbon/qingest/pkg/adapters/schemajson"
	"github.com/qarbon/qingest/pkg/adapters/xlsxfile"
	"github.com/qarbon/qingest/pkg/adapters/xmlfile"
	"github.com/qarbon/qingest/pkg/adapters/yamlfile"
	"github.com/qarbon/qingest/pkg/registry"
)

type Config struct {
	// SchemaDir holds extra JSON Schemas for the schema adapter. Optional.
	SchemaDir string
}

// Adapters returns the built-in adapters, specific formats before generic
// ones so ties resolve toward the more specific adapter.
func Adapters(cfg Config) ([]adapters.Adapter, error) {
	var opts []schemajson.Option
	if cfg.SchemaDir != "" {
		opts = append(opts, schemajson.WithSchemaDir(cfg.SchemaDir))
	}
	schema, err := schemajson.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("schema adapter: %w", err)
	}
	return []adapters.Adapter{
		codecarbon.New(),
		aiimpact.New(),
		schema,
		fit.New(),
		xlsxfile.New(),
		csvfile.New(),
		xmlfile.New(),
		yamlfile.New(),
		jsonfile.New(),
	}, nil
}

// Register adds every built-in adapter to r.
func Register(r *registry.Registry, cfg Config) error {
	list, err := Adapters(cfg)
	if err != nil {
		return err
	}
	for _, a := range list {
		if err := r.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry builds a registry with opts and the built-in adapters.
func NewRegistry(opts registry.Options, cfg Config) (*registry.Registry, error) {
	r, err := registry.New(opts)
	if err != nil {
		return nil, err
	}
	if err := Register(r, cfg); err != nil {
		return nil, err
	}
	return r, nil
}
