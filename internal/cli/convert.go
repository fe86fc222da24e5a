package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/vtharness/internal/bqrow"
	"github.com/roach88/vtharness/internal/canonical"
	"github.com/roach88/vtharness/internal/pipeline"
	"github.com/roach88/vtharness/internal/vcf"
)

// ConvertOptions holds flags for the convert command.
type ConvertOptions struct {
	*RootOptions
	PET               bool
	AnnotationFields  []string
	OmitEmptyCalls    bool
	AllowIncompatible bool
	Reverse           bool
}

// NewConvertCommand creates the convert command.
func NewConvertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConvertOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "convert <vcf-pattern>",
		Short: "Print the BigQuery rows of VCF files as NDJSON",
		Long: `Convert local VCF files to BigQuery rows and print one canonical JSON
object per line, exactly as the local runner would load them.

With --reverse each row is converted back into a variant, with annotation
strings rebuilt from their records.

Examples:
  vtharness convert input.vcf --annotation-fields CSQ
  vtharness convert "data/*.vcf.gz" --pet
  vtharness convert input.vcf --annotation-fields CSQ --reverse`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.PET, "pet", false, "emit position-expanded rows")
	cmd.Flags().StringSliceVar(&opts.AnnotationFields, "annotation-fields", nil, "INFO fields holding annotation strings")
	cmd.Flags().BoolVar(&opts.OmitEmptyCalls, "omit-empty-calls", false, "drop calls with no genotype and no data")
	cmd.Flags().BoolVar(&opts.AllowIncompatible, "allow-incompatible", false, "cast values that do not match the schema")
	cmd.Flags().BoolVar(&opts.Reverse, "reverse", false, "convert rows back into variants")

	return cmd
}

func runConvert(opts *ConvertOptions, pattern string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	if opts.Reverse && opts.PET {
		return NewExitError(ExitCommandError, "--reverse cannot be combined with --pet")
	}

	sink := &ndjsonSink{
		w:                cmd.OutOrStdout(),
		reverse:          opts.Reverse,
		annotationFields: opts.AnnotationFields,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	stats, err := pipeline.Run(ctx, pipeline.Options{
		InputPattern:     pattern,
		Table:            "convert",
		AnnotationFields: opts.AnnotationFields,
		Rows: bqrow.Options{
			AllowIncompatibleRecords: opts.AllowIncompatible,
			OmitEmptySampleCalls:     opts.OmitEmptyCalls,
			WriteToPET:               opts.PET,
		},
		Logger: opts.logger(),
	}, sink)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoInput) || errors.Is(err, pipeline.ErrRemoteInput) {
			_ = formatter.Error(ErrCodeFixtureNotFound, err.Error(), nil)
			return WrapExitError(ExitCommandError, "no input", err)
		}
		// Rows already printed stay on stdout; the error goes to stderr
		errFormatter := *formatter
		errFormatter.Writer = formatter.GetErrWriter()
		_ = errFormatter.Error(ErrCodeConversionFailed, err.Error(), nil)
		return WrapExitError(ExitFailure, "conversion failed", err)
	}

	formatter.VerboseLog("Converted %d variant(s) from %d file(s) into %d row(s)",
		stats.Variants, stats.Files, stats.Rows)
	return nil
}

// ndjsonSink prints rows, or the variants rebuilt from them, as one
// canonical JSON object per line.
type ndjsonSink struct {
	w                io.Writer
	reverse          bool
	annotationFields []string

	variants *bqrow.VariantGenerator
}

func (s *ndjsonSink) CreateTable(_ context.Context, _ string, schema *bqrow.Schema) error {
	if !s.reverse {
		return nil
	}
	names := make(map[string][]string, len(s.annotationFields))
	alts := schema.Record(bqrow.ColAlternateBases)
	for _, id := range s.annotationFields {
		if alts == nil {
			break
		}
		if rec := alts.Record(bqrow.SanitizeFieldName(id)); rec != nil {
			names[id] = rec.Names()
		}
	}
	s.variants = bqrow.NewVariantGenerator(names)
	return nil
}

func (s *ndjsonSink) Write(ctx context.Context, _ string, rows []bqrow.Row) error {
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		var obj any = row
		if s.reverse {
			v, err := s.variants.Variant(row)
			if err != nil {
				return fmt.Errorf("failed to rebuild variant: %w", err)
			}
			obj = variantObject(v)
		}
		line, err := canonical.Marshal(obj)
		if err != nil {
			return fmt.Errorf("failed to encode row: %w", err)
		}
		line = append(line, '\n')
		if _, err := s.w.Write(line); err != nil {
			return err
		}
	}
	return nil
}

func variantObject(v *vcf.Variant) map[string]any {
	obj := map[string]any{
		"reference_name":  v.ReferenceName,
		"start":           v.Start,
		"end":             v.End,
		"reference_bases": v.ReferenceBases,
		"alternate_bases": stringList(v.AlternateBases),
		"names":           stringList(v.Names),
		"filters":         stringList(v.Filters),
		"quality":         nil,
		"info":            v.Info,
	}
	if v.Quality != nil {
		obj["quality"] = *v.Quality
	}

	calls := make([]any, len(v.Calls))
	for i, c := range v.Calls {
		gt := make([]any, len(c.Genotype))
		for j, g := range c.Genotype {
			gt[j] = int64(g)
		}
		calls[i] = map[string]any{
			"name":     c.Name,
			"genotype": gt,
			"phaseset": c.Phaseset,
			"info":     c.Info,
		}
	}
	obj["calls"] = calls
	return obj
}

func stringList(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
