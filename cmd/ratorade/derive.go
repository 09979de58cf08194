package main

import (
	"github.com/spf13/cobra"

	service "github.com/okian/ratorade/internal/app"
	"github.com/okian/ratorade/internal/domain/model"
)

func newDeriveCmd(c *cli) *cobra.Command {
	var (
		attrs           model.Attrs
		pair            []string
		minCount        int
		minRSquared     float64
		maxAbsSlope     float64
		maxAbsIntercept float64
	)
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Fit pair models from the recorded statistics",
		Long: "Fit linear models for every pair, or for the one named by --pair. " +
			"Threshold flags override the configured defaults.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := service.DeriveRequest{Attrs: attrs}
			switch len(pair) {
			case 0:
			case 2:
				req.A, req.B = model.ParseID(pair[0]), model.ParseID(pair[1])
			default:
				return errPairArgs
			}
			flags := cmd.Flags()
			if flags.Changed("min-count") {
				req.MinCount = &minCount
			}
			if flags.Changed("min-r2") {
				req.MinRSquared = &minRSquared
			}
			if flags.Changed("max-slope") {
				req.MaxAbsSlope = &maxAbsSlope
			}
			if flags.Changed("max-intercept") {
				req.MaxAbsIntercept = &maxAbsIntercept
			}
			return c.withService(cmd.Context(), func(svc *service.Service) error {
				sum, err := svc.Derive(cmd.Context(), req)
				if err != nil {
					return err
				}
				return c.printJSON(sum)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&attrs.ID, "id-attr", "", "id attribute of the rating space")
	f.StringVar(&attrs.Rating, "rating-attr", "", "rating attribute of the rating space")
	f.StringSliceVar(&pair, "pair", nil, "derive a single pair: --pair a,b")
	f.IntVar(&minCount, "min-count", 0, "minimum joint ratings per pair")
	f.Float64Var(&minRSquared, "min-r2", 0, "minimum coefficient of determination")
	f.Float64Var(&maxAbsSlope, "max-slope", 0, "maximum absolute slope, 0 disables")
	f.Float64Var(&maxAbsIntercept, "max-intercept", 0, "maximum absolute intercept, 0 disables")
	return cmd
}

func newPredictCmd(c *cli) *cobra.Command {
	var attrs model.Attrs
	cmd := &cobra.Command{
		Use:   "predict <x> <y> <rating>",
		Short: "Predict y's rating from a rating of x",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rating, err := parseFloatArg("rating", args[2])
			if err != nil {
				return err
			}
			x, y := model.ParseID(args[0]), model.ParseID(args[1])
			return c.withService(cmd.Context(), func(svc *service.Service) error {
				pred, m, err := svc.Predict(cmd.Context(), attrs, x, y, rating)
				if err != nil {
					return err
				}
				return c.printJSON(map[string]any{
					"rating":     rating,
					"prediction": pred,
					"a":          m.A,
					"b":          m.B,
					"n":          m.N,
					"rr":         m.RSquared,
				})
			})
		},
	}
	cmd.Flags().StringVar(&attrs.ID, "id-attr", "", "id attribute of the rating space")
	cmd.Flags().StringVar(&attrs.Rating, "rating-attr", "", "rating attribute of the rating space")
	return cmd
}
