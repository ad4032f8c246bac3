package schemarefresh

import (
	"fmt"

	"rel-graphql/internal/assemble"
	"rel-graphql/internal/opvalues"
	"rel-graphql/internal/schema"
	"rel-graphql/internal/schemadsl"
	"rel-graphql/internal/schemafilter"
	"rel-graphql/internal/storage"

	"github.com/graphql-go/graphql"
)

// BuildSchemaConfig defines inputs for shared snapshot assembly.
type BuildSchemaConfig struct {
	Filename     string
	Source       string
	Store        storage.Client
	Filters      schemafilter.Config
	Mutations    bool
	MaxDepth     int
	DefaultLimit int
	MaxLimit     int
}

// BuildSchemaResult contains the artifacts produced by BuildSchema.
type BuildSchemaResult struct {
	Source        *schema.Schema
	SDL           string
	GraphQLSchema graphql.Schema
}

// BuildSchema runs the canonical assembly pipeline used by the runtime and
// tests: parse the definition text, apply table filters, derive the
// executable schema. Every generated root-field resolver publishes its result
// to the request's operation-value store.
func BuildSchema(cfg BuildSchemaConfig) (*BuildSchemaResult, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("schema builder requires a storage client")
	}

	parsed, err := schemadsl.Parse(cfg.Filename, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema definition: %w", err)
	}

	filtered := schemafilter.Apply(parsed, cfg.Filters)

	built, err := assemble.Build(filtered, cfg.Store, assemble.Options{
		Mutations:    cfg.Mutations,
		MaxDepth:     cfg.MaxDepth,
		DefaultLimit: cfg.DefaultLimit,
		MaxLimit:     cfg.MaxLimit,
		Intercept:    opvalues.Publish,
	})
	if err != nil {
		return nil, err
	}

	return &BuildSchemaResult{
		Source:        filtered,
		SDL:           built.SDL,
		GraphQLSchema: built.Schema,
	}, nil
}
