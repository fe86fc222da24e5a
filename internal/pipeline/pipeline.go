// Package pipeline is the local runner: it reads VCF files matching an
// input pattern, converts every record to BigQuery rows and loads them into
// a table through an engine.Sink.
package pipeline

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/vtharness/internal/bqrow"
	"github.com/roach88/vtharness/internal/engine"
	"github.com/roach88/vtharness/internal/vcf"
)

// DefaultBatchSize is the number of rows handed to the sink per Write.
const DefaultBatchSize = 1000

// ErrRemoteInput is returned for input patterns the local runner cannot
// read.
var ErrRemoteInput = errors.New("remote input patterns need a distributed runner")

// ErrNoInput is returned when an input pattern matches no files.
var ErrNoInput = errors.New("no files match")

// Options configures one pipeline run.
type Options struct {
	// InputPattern is a local glob. Files ending in .gz or .bgz are
	// decompressed.
	InputPattern string
	// Table is the destination table name.
	Table string
	// AnnotationFields are INFO ids parsed as annotation records.
	AnnotationFields []string
	// Rows controls row generation.
	Rows bqrow.Options
	// BatchSize defaults to DefaultBatchSize.
	BatchSize int
	// Parallel bounds concurrent file parsing. Zero means one file per
	// goroutine with no limit.
	Parallel int
	Logger   *slog.Logger
}

// Stats counts what a run processed.
type Stats struct {
	Files                int
	Variants             int
	Rows                 int
	UnmatchedAnnotations int
}

// parsedFile is one fully read input.
type parsedFile struct {
	*File
	path string
}

// Run loads the files matching opts.InputPattern into opts.Table.
func Run(ctx context.Context, opts Options, sink engine.Sink) (*Stats, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Table == "" {
		return nil, fmt.Errorf("pipeline requires a table name")
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	paths, err := ExpandPattern(opts.InputPattern)
	if err != nil {
		return nil, err
	}
	logger.Info("pipeline input", "pattern", opts.InputPattern, "files", len(paths))

	files, err := readAll(ctx, paths, opts.Parallel)
	if err != nil {
		return nil, err
	}

	header, err := mergeHeaders(files)
	if err != nil {
		return nil, err
	}

	proc, err := bqrow.NewProcessor(header, opts.AnnotationFields)
	if err != nil {
		return nil, err
	}
	schema := bqrow.PETSchema()
	if !opts.Rows.WriteToPET {
		schema, err = bqrow.SchemaFromHeader(header, proc.Parsers(opts.AnnotationFields))
		if err != nil {
			return nil, err
		}
	}
	if err := sink.CreateTable(ctx, opts.Table, schema); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", opts.Table, err)
	}

	gen := bqrow.NewRowGenerator(schema, nil)
	stats := &Stats{Files: len(files)}
	batch := make([]bqrow.Row, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := sink.Write(ctx, opts.Table, batch); err != nil {
			return err
		}
		batch = make([]bqrow.Row, 0, batchSize)
		return nil
	}

	for _, f := range files {
		for _, v := range f.Variants {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			pv, err := proc.Process(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %s:%d: %w", f.path, v.ReferenceName, v.Start+1, err)
			}
			rows, err := gen.Rows(pv, opts.Rows)
			if err != nil {
				return nil, fmt.Errorf("%s: %s:%d: %w", f.path, v.ReferenceName, v.Start+1, err)
			}
			stats.Variants++
			stats.UnmatchedAnnotations += pv.UnmatchedAnnotations
			stats.Rows += len(rows)

			for _, r := range rows {
				batch = append(batch, r)
				if len(batch) == batchSize {
					if err := flush(); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	logger.Info("pipeline done",
		"table", opts.Table,
		"files", stats.Files,
		"variants", stats.Variants,
		"rows", stats.Rows,
		"unmatched_annotations", stats.UnmatchedAnnotations)
	return stats, nil
}

// ExpandPattern returns the sorted local files matching pattern.
func ExpandPattern(pattern string) ([]string, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty input pattern")
	}
	if strings.Contains(pattern, "://") {
		return nil, fmt.Errorf("%s: %w", pattern, ErrRemoteInput)
	}
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid input pattern %s: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w %s", ErrNoInput, pattern)
	}
	sort.Strings(paths)
	return paths, nil
}

// readAll parses every file concurrently. Results keep the order of paths.
func readAll(ctx context.Context, paths []string, parallel int) ([]*parsedFile, error) {
	files := make([]*parsedFile, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			f, err := ReadFile(ctx, path)
			if err != nil {
				return err
			}
			files[i] = &parsedFile{File: f, path: path}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// File is the header and records of one VCF file.
type File struct {
	Header   *vcf.Header
	Variants []*vcf.Variant
}

// ReadFile reads a whole VCF file, decompressing .gz and .bgz inputs.
func ReadFile(ctx context.Context, path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer fh.Close()

	var r io.Reader = bufio.NewReader(fh)
	if isGzip(path) {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	f, err := Read(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Read parses a VCF stream to the end.
func Read(ctx context.Context, r io.Reader) (*File, error) {
	rd, err := vcf.NewReader(r)
	if err != nil {
		return nil, err
	}
	f := &File{Header: rd.Header()}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := rd.Read()
		if err == io.EOF {
			return f, nil
		}
		if err != nil {
			return nil, err
		}
		f.Variants = append(f.Variants, v)
	}
}

func isGzip(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".gz" || ext == ".bgz"
}

// mergeHeaders combines the definitions of all files into the first
// header's order. Sample names are not merged.
func mergeHeaders(files []*parsedFile) (*vcf.Header, error) {
	merged := vcf.NewHeader()
	for _, f := range files {
		if err := merged.Merge(f.Header); err != nil {
			return nil, fmt.Errorf("%s: %w", f.path, err)
		}
	}
	return merged, nil
}
