package main

import (
	"fmt"

	"github.com/spf13/cobra"

	service "github.com/okian/ratorade/internal/app"
	"github.com/okian/ratorade/internal/domain/filter"
	"github.com/okian/ratorade/internal/domain/histogram"
)

func newHistogramCmd(c *cli) *cobra.Command {
	var (
		req   histogram.Request
		bins  []string
		expr  string
		where []string
		show  int
	)
	cmd := &cobra.Command{
		Use:   "histogram",
		Short: "Build a histogram collection from a source collection",
		Long: "Group the source records by --group keys, optionally binning numeric keys " +
			"with --bin key:bins=N[,min=X][,max=Y], and write one bucket per group. " +
			"--filter takes a CEL expression over record, --where takes attr=value pairs.",
		Example: "  ratorade histogram --source beers --name by_abv --group style,abv " +
			"--bin abv:bins=10 --filter 'record.abv > 0' --prob --cumulative",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(bins) > 0 {
				req.Bins = make(map[string]histogram.BinSpec, len(bins))
				for _, arg := range bins {
					key, spec, err := histogram.ParseBinArg(arg)
					if err != nil {
						return err
					}
					req.Bins[key] = spec
				}
			}
			compiled, err := filter.Compile(expr)
			if err != nil {
				return err
			}
			pairs, err := filter.FromPairs(where)
			if err != nil {
				return err
			}
			req.Filter = filter.Combine(compiled, pairs)

			return c.withService(cmd.Context(), func(svc *service.Service) error {
				res, err := svc.BuildHistogram(cmd.Context(), req)
				if err != nil {
					return err
				}
				if show == 0 {
					return c.printJSON(res)
				}
				buckets, err := svc.Buckets(cmd.Context(), req.Result, req.SortPath(), !req.Ascending, show)
				if err != nil {
					return err
				}
				return c.printJSON(map[string]any{"result": res, "buckets": buckets})
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Source, "source", "", "source collection")
	f.StringVar(&req.Result, "name", "", "result collection, dropped and rebuilt")
	f.StringSliceVar(&req.GroupKeys, "group", nil, "group keys, comma separated")
	f.StringArrayVar(&bins, "bin", nil, "bin spec key:bins=N[,min=X][,max=Y], repeatable")
	f.StringVar(&expr, "filter", "", "CEL filter over record")
	f.StringArrayVar(&where, "where", nil, "equality filter attr=value, repeatable")
	f.StringVar(&req.SortKey, "sort", "", "field ordering the cumulative pass (default freq)")
	f.BoolVar(&req.Prob, "prob", false, "write prob")
	f.BoolVar(&req.Cumulative, "cumulative", false, "write cfreq and cprob")
	f.BoolVar(&req.Ranks, "ranks", false, "write count and cfrac")
	f.BoolVar(&req.Ascending, "asc", false, "run the cumulative pass in ascending order")
	f.Float64Var(&req.SampleSize, "sample", 0, "sample fraction (<1) or approximate record count (>=1)")
	f.IntVar(&show, "show", 0, "print the first N buckets after building")
	for _, name := range []string{"source", "name", "group"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Sprintf("mark %s required: %v", name, err))
		}
	}
	return cmd
}

func newQuantileCmd(c *cli) *cobra.Command {
	var field string
	cmd := &cobra.Command{
		Use:   "quantile <histogram> <q>",
		Short: "Find the first bucket whose cumulative field reaches q",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := parseFloatArg("quantile", args[1])
			if err != nil {
				return err
			}
			return c.withService(cmd.Context(), func(svc *service.Service) error {
				b, err := svc.Quantile(cmd.Context(), args[0], q, field)
				if err != nil {
					return err
				}
				return c.printJSON(b)
			})
		},
	}
	cmd.Flags().StringVar(&field, "field", "", "cumulative field to search (default cprob)")
	return cmd
}
