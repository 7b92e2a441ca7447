package project

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/gomian/pkg/provider"
	"github.com/3leaps/gomian/pkg/request"
)

// Store implements Accessor over a storage provider.
type Store struct {
	p provider.Provider
}

var _ Accessor = (*Store)(nil)

// NewStore returns a Store reading from p.
func NewStore(p provider.Provider) *Store {
	return &Store{p: p}
}

// Provider returns the underlying storage provider.
func (s *Store) Provider() provider.Provider {
	return s.p
}

// LoadInfo reads and parses project.yaml.
func (s *Store) LoadInfo(ctx context.Context, uid, pid string) (*Info, error) {
	var info Info
	if err := s.read(ctx, uid, pid, DescriptorFile, func(r io.Reader) error {
		dec := yaml.NewDecoder(r)
		if err := dec.Decode(&info); err != nil && !errors.Is(err, io.EOF) {
			return &ParseError{File: DescriptorFile, Msg: err.Error()}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	info.ID = pid
	info.Owner = uid
	return &info, nil
}

// LoadMetadata reads the sample metadata table.
func (s *Store) LoadMetadata(ctx context.Context, uid, pid string) (*Metadata, error) {
	var md *Metadata
	err := s.read(ctx, uid, pid, MetadataFile, func(r io.Reader) (err error) {
		md, err = parseMetadata(r)
		return err
	})
	return md, err
}

// LoadTaxonomyMap reads the OTU lineage table.
func (s *Store) LoadTaxonomyMap(ctx context.Context, uid, pid string) (*TaxonomyMap, error) {
	var tax *TaxonomyMap
	err := s.read(ctx, uid, pid, TaxonomyFile, func(r io.Reader) (err error) {
		tax, err = parseTaxonomy(r)
		return err
	})
	return tax, err
}

func (s *Store) loadTable(ctx context.Context, uid, pid string) (*Matrix, error) {
	var m *Matrix
	err := s.read(ctx, uid, pid, TableFile, func(r io.Reader) (err error) {
		m, err = parseTable(r)
		return err
	})
	return m, err
}

// LoadAbundanceMatrix loads the OTU table and, when needed, the taxonomy and
// metadata in parallel, then filters and aggregates.
func (s *Store) LoadAbundanceMatrix(ctx context.Context, uid, pid string, level int, f Filters) (*Matrix, error) {
	if level < request.LevelNone || level >= len(Ranks) {
		return nil, &request.ValidationError{Field: request.FieldLevel, Reason: fmt.Sprintf("level %d out of range", level)}
	}

	var (
		table *Matrix
		tax   *TaxonomyMap
		md    *Metadata
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		table, err = s.loadTable(gctx, uid, pid)
		return err
	})
	if f.Taxonomy.Active() || level >= 0 {
		g.Go(func() (err error) {
			tax, err = s.LoadTaxonomyMap(gctx, uid, pid)
			return err
		})
	}
	if f.Sample.Active() {
		g.Go(func() (err error) {
			md, err = s.LoadMetadata(gctx, uid, pid)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m, err := ApplySampleFilter(table, md, f.Sample)
	if err != nil {
		return nil, err
	}
	if m, err = ApplyTaxonomyFilter(m, tax, f.Taxonomy); err != nil {
		return nil, err
	}
	m = ApplyLowExpression(m, f.LowExpression)
	return Aggregate(m, tax, level), nil
}

// HeadersAtLevel returns the column names of the OTU table aggregated to
// level, without loading the counts into a filtered matrix.
func (s *Store) HeadersAtLevel(ctx context.Context, uid, pid string, level int) ([]string, error) {
	m, err := s.LoadAbundanceMatrix(ctx, uid, pid, level, Filters{})
	if err != nil {
		return nil, err
	}
	return m.Features, nil
}

// ListProjects returns the descriptors of every project owned by uid,
// sorted by id, with the size and modification time of each OTU table.
func (s *Store) ListProjects(ctx context.Context, uid string) ([]*Info, error) {
	if err := checkID(uid); err != nil {
		return nil, err
	}
	keys, err := provider.Glob(ctx, s.p, uid+"/*/"+DescriptorFile)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	out := make([]*Info, 0, len(keys))
	for _, k := range keys {
		pid := path.Base(path.Dir(k))
		info, err := s.LoadInfo(ctx, uid, pid)
		if err != nil {
			return nil, err
		}
		meta, err := s.p.Head(ctx, path.Join(uid, pid, TableFile))
		switch {
		case err == nil:
			info.TableSize = meta.Size
			info.TableModified = meta.LastModified
		case !provider.IsNotFound(err):
			return nil, fmt.Errorf("stat %s/%s/%s: %w", uid, pid, TableFile, err)
		}
		out = append(out, info)
	}
	return out, nil
}

func (s *Store) read(ctx context.Context, uid, pid, file string, fn func(io.Reader) error) error {
	if err := checkID(uid); err != nil {
		return err
	}
	if err := checkID(pid); err != nil {
		return err
	}
	key := path.Join(uid, pid, file)
	rc, err := s.p.Get(ctx, key)
	if err != nil {
		if provider.IsNotFound(err) {
			return fmt.Errorf("%s/%s/%s: %w", uid, pid, file, ErrNotFound)
		}
		return fmt.Errorf("read %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	return fn(rc)
}

// checkID rejects identifiers that are empty or would escape the project
// directory.
func checkID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("invalid id %q: %w", id, ErrNotFound)
	}
	return nil
}
