package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/lexlapax/engram/pkg/mem/query"
	"github.com/lexlapax/engram/pkg/mem/record"
	"github.com/spf13/cobra"
)

func newRememberCmd(opts *rootOptions) *cobra.Command {
	var (
		kind      string
		priority  int
		tags      string
		valence   float64
		intensity float64
	)
	cmd := &cobra.Command{
		Use:   "remember <text>",
		Short: "Store a memory and print its id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := record.ParseKind(kind)
			if err != nil {
				return err
			}
			e, _, err := opts.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			// Unset flags keep the per-kind defaults of the factories.
			var recOpts []record.Option
			if cmd.Flags().Changed("priority") {
				recOpts = append(recOpts, record.WithPriority(priority))
			}
			if cmd.Flags().Changed("valence") || cmd.Flags().Changed("intensity") {
				recOpts = append(recOpts, record.WithEmotion(valence, intensity))
			}
			if tags != "" {
				recOpts = append(recOpts, record.WithTags(record.SplitTags(tags)...))
			}
			rec := record.New(k, strings.Join(args, " "), recOpts...)
			id, err := e.Remember(cmd.Context(), rec)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", string(record.Episodic), "Memory kind: episodic, semantic, emotional or procedural")
	cmd.Flags().IntVarP(&priority, "priority", "p", 50, "Priority 0-100")
	cmd.Flags().StringVarP(&tags, "tags", "t", "", "Comma-separated tags")
	cmd.Flags().Float64Var(&valence, "valence", 0, "Emotional valence -1..1")
	cmd.Flags().Float64Var(&intensity, "intensity", 0, "Emotional intensity 0..1")
	return cmd
}

func newQueryCmd(opts *rootOptions) *cobra.Command {
	var (
		limit     int
		sortBy    string
		kinds     []string
		tags      []string
		connected bool
	)
	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Retrieve memories as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := query.Query{
				Text:             strings.Join(args, " "),
				Limit:            limit,
				Tags:             tags,
				IncludeConnected: connected,
			}
			s, err := query.ParseSortBy(sortBy)
			if err != nil {
				return err
			}
			q.SortBy = s
			for _, raw := range kinds {
				k, err := record.ParseKind(raw)
				if err != nil {
					return err
				}
				q.Kinds = append(q.Kinds, k)
			}

			e, _, err := opts.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.Query(cmd.Context(), q)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", query.DefaultLimit, "Maximum number of results")
	cmd.Flags().StringVarP(&sortBy, "sort", "s", string(query.BySalience), "SALIENCE, RECENCY, PRIORITY, EMOTIONAL or TEXT_RELEVANCE")
	cmd.Flags().StringSliceVarP(&kinds, "kind", "k", nil, "Restrict to kinds (repeatable)")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "Required tags (repeatable)")
	cmd.Flags().BoolVar(&connected, "connected", false, "Include connected memories")
	return cmd
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import memories from a JSON backup (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			e, _, err := opts.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.Import(cmd.Context(), in, replace)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d memories\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "Discard existing memories first")
	return cmd
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every memory as a JSON array",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := opts.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return e.Export(out)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	return cmd
}

func newConsolidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate",
		Short: "Run one consolidation pass and print its report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := opts.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			rep, err := e.Consolidate(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rep)
		},
	}
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show memory statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := opts.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			return writeJSON(cmd.OutOrStdout(), e.Stats())
		},
	}
}
