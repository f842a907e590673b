// Package main is the entry point for the stc2gii CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Faultbox/stc2gii/internal/assemble"
	"github.com/Faultbox/stc2gii/internal/config"
	"github.com/Faultbox/stc2gii/internal/convert"
	"github.com/Faultbox/stc2gii/internal/logger"
)

// version is set at build time via ldflags.
var version = "dev"

// ErrBadExtension is returned when an input does not carry the expected
// extension. It is checked before any input is opened.
var ErrBadExtension = errors.New("unexpected file extension")

// app carries state shared by the commands of one invocation.
type app struct {
	flags config.Flags
	cfg   *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "stc2gii [flags] <fif> <stc_left> <stc_right> <basename>",
		Short: "Convert MNE source estimates to GIFTI surfaces and time series",
		Long: `stc2gii reads an MNE source space (.fif) and the source estimates of the
left and right hemispheres (.stc), compacts each decimated cortical surface
to its active vertices and writes four GIFTI files:

  <basename>-lh.gii, <basename>-rh.gii            surface geometry
  <basename>-lh.time.gii, <basename>-rh.time.gii  one array per time sample

Settings are read from --config, ./stc2gii.yaml or the user config
directory; command-line flags take priority.`,
		Args:          cobra.MatchAll(cobra.ExactArgs(4), validateExtensions),
		PreRunE:       a.setup,
		RunE:          a.runConvert,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	a.flags.Register(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newInfoCmd(), newConfigCmd(a), newVersionCmd())
	return rootCmd
}

// validateExtensions checks the three input names. Inputs are positional:
// the first source estimate is the left hemisphere.
func validateExtensions(_ *cobra.Command, args []string) error {
	checks := []struct {
		path string
		ext  string
	}{
		{args[0], ".fif"},
		{args[1], ".stc"},
		{args[2], ".stc"},
	}
	for _, c := range checks {
		if !strings.HasSuffix(c.path, c.ext) {
			return fmt.Errorf("%w: file %s is not a %s file", ErrBadExtension, c.path, c.ext)
		}
	}
	return nil
}

// setup loads the configuration and initializes logging. Only the conversion
// and the config commands run it; info and version ignore the config file.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(&a.flags)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	a.cfg = cfg
	logger.Debug("configuration loaded",
		zap.String("command", cmd.CommandPath()),
		zap.String("level", cfg.Logging.Level),
		zap.String("encoding", cfg.Conversion.Encoding))
	return nil
}

func (a *app) runConvert(cmd *cobra.Command, args []string) error {
	enc, err := a.cfg.GIFTIEncoding()
	if err != nil {
		return err
	}

	log, _ := logger.WithRun()
	log.Info("starting conversion",
		zap.String("version", version),
		zap.Strings("inputs", args[:3]),
		zap.String("basename", args[3]),
		zap.Float64("scale", a.cfg.Conversion.ScaleValues),
		zap.Float64("scale_coordinates", a.cfg.Conversion.ScaleCoordinates),
		zap.String("encoding", string(enc)))

	res, err := convert.Run(cmd.Context(), convert.Request{
		SourceSpacePath: args[0],
		LeftSTCPath:     args[1],
		RightSTCPath:    args[2],
		Basename:        args[3],
		Scale: assemble.Scale{
			Coordinates: a.cfg.Conversion.ScaleCoordinates,
			Values:      a.cfg.Conversion.ScaleValues,
		},
		Encoding: enc,
	}, log)
	if err != nil {
		log.Error("conversion failed", zap.Error(err))
		return err
	}

	out := cmd.OutOrStdout()
	for _, p := range res.Paths {
		fmt.Fprintln(out, p)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if errors.Is(err, context.Canceled) {
		logger.Warn("interrupted")
	}
	logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
