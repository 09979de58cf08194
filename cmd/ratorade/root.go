package main

import (
	"context"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	service "github.com/okian/ratorade/internal/app"
	"github.com/okian/ratorade/internal/config"
	"github.com/okian/ratorade/pkg/logger"
)

// cli carries state shared by every subcommand.
type cli struct {
	cfgPath   string
	logLevel  string
	logFormat string

	cfg    *config.Config
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

// newRootCmd builds the command tree. Command output goes to out and logs
// to errOut.
func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	c := &cli{in: in, out: out, errOut: errOut}

	root := &cobra.Command{
		Use:          "ratorade",
		Short:        "Pairwise rating models and histograms over a document store",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd.Context())
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgPath, "config", "", "YAML config file (overrides "+config.EnvConfig+")")
	pf.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&c.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		newServeCmd(c),
		newLoadCmd(c),
		newObserveCmd(c),
		newDeriveCmd(c),
		newPredictCmd(c),
		newHistogramCmd(c),
		newQuantileCmd(c),
	)
	return root
}

// setup loads configuration and initializes logging. Flags win over the
// file and environment.
func (c *cli) setup(ctx context.Context) error {
	cfg, err := config.Load(ctx, c.cfgPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if c.logFormat != "" {
		cfg.LogFormat = c.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithWriter(c.errOut)); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		return fmt.Errorf("set log level: %w", err)
	}
	c.cfg = cfg
	return nil
}

// withService runs fn against a started service and stops it afterwards.
func (c *cli) withService(ctx context.Context, fn func(*service.Service) error) (err error) {
	svc := service.New(service.WithConfig(c.cfg), service.WithLogger(logger.Named("ratorade")))
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer func() {
		if stopErr := svc.Stop(context.WithoutCancel(ctx)); stopErr != nil && err == nil {
			err = fmt.Errorf("stop service: %w", stopErr)
		}
	}()
	return fn(svc)
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
