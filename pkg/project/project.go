// Package project loads read-only project data (abundance table, taxonomy
// map, sample metadata) from a storage provider.
//
// A project lives under "<uid>/<pid>/" relative to the provider root:
//
//	project.yaml           descriptor (name, shared flag, ...)
//	otu_table.tsv          samples x OTUs counts
//	otu_taxonomy_map.tsv   OTU lineage, Kingdom..Species
//	otu_metadata.tsv       samples x metadata columns
package project

import (
	"context"
	"errors"
	"time"

	"github.com/3leaps/gomian/pkg/request"
)

// File names inside a project directory.
const (
	DescriptorFile = "project.yaml"
	TableFile      = "otu_table.tsv"
	TaxonomyFile   = "otu_taxonomy_map.tsv"
	MetadataFile   = "otu_metadata.tsv"
)

// ErrNotFound is returned when a project, file, or metadata column does
// not exist.
var ErrNotFound = errors.New("project: not found")

// Accessor is the read-only data interface analysis jobs run against.
//
// Implementations must be safe for concurrent use.
type Accessor interface {
	// LoadAbundanceMatrix returns the samples x features matrix after
	// filtering and aggregation to level.
	LoadAbundanceMatrix(ctx context.Context, uid, pid string, level int, f Filters) (*Matrix, error)

	LoadMetadata(ctx context.Context, uid, pid string) (*Metadata, error)

	LoadTaxonomyMap(ctx context.Context, uid, pid string) (*TaxonomyMap, error)

	// LoadInfo returns the project descriptor.
	LoadInfo(ctx context.Context, uid, pid string) (*Info, error)
}

// Filters restrict and reduce the abundance matrix. They are applied in
// order: sample filter, taxonomy filter, low-expression filter.
type Filters struct {
	Sample        request.Filter
	Taxonomy      request.Filter
	LowExpression request.LowExpression
}

// FiltersFrom extracts the matrix filters carried by a request context.
func FiltersFrom(rc *request.Context) Filters {
	return Filters{
		Sample:        rc.SampleFilter(),
		Taxonomy:      rc.TaxonomyFilter(),
		LowExpression: rc.LowExpression(),
	}
}

// Info is the project descriptor stored in project.yaml.
type Info struct {
	ID              string    `yaml:"-" json:"id"`
	Owner           string    `yaml:"-" json:"owner"`
	Name            string    `yaml:"name" json:"name"`
	Shared          bool      `yaml:"shared" json:"shared"`
	CreatedAt       time.Time `yaml:"created_at" json:"created_at"`
	OrigFilename    string    `yaml:"orig_filename" json:"orig_filename"`
	SubsampledValue int64     `yaml:"subsampled_value" json:"subsampled_value"`

	// TableSize and TableModified describe the OTU table object. Only
	// ListProjects fills them.
	TableSize     int64     `yaml:"-" json:"table_size,omitempty"`
	TableModified time.Time `yaml:"-" json:"table_modified,omitzero"`
}
