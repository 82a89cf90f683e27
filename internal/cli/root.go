package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bitsnark/charms/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	v      *viper.Viper
	cfg    *config.Config
	logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the charms CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{v: config.New()}

	cmd := &cobra.Command{
		Use:   "charms",
		Short: "charms - programmable assets on bitcoin",
		Long: `Verify, normalize and prove charms spells.

Settings come from charms.yaml (or --config), CHARMS_* environment
variables and flags, in increasing order of precedence.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			_, _, err := opts.setup(cmd)
			return err
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.ConfigFile, "config", "", "config file (default ./charms.yaml)")
	flags.Bool("mock", false, "mock proving and verification")
	flags.String("db", "", "path to SQLite cache database")
	flags.String("network", "mainnet", "bitcoin network")
	flags.Uint64("max-fuel", 0, "fuel budget per contract run")
	flags.Int("parallelism", 0, "concurrent contract runs")
	for key, flag := range map[string]string{
		"mock":        "mock",
		"db":          "db",
		"network":     "network",
		"max_fuel":    "max-fuel",
		"parallelism": "parallelism",
	} {
		_ = opts.v.BindPFlag(key, flags.Lookup(flag))
	}

	// Add subcommands
	cmd.AddCommand(NewSpellCommand(opts))
	cmd.AddCommand(NewAppCommand(opts))
	cmd.AddCommand(NewTxCommand(opts))
	cmd.AddCommand(NewServerCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// setup loads the configuration once and installs the default logger,
// writing to the command's stderr.
func (o *RootOptions) setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	if o.cfg != nil {
		return o.cfg, o.logger, nil
	}
	if o.v == nil {
		o.v = config.New()
	}
	cfg, err := config.Load(o.v, o.ConfigFile)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	level, _ := cfg.Level()
	if o.Verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	})
	o.logger = slog.New(handler)
	slog.SetDefault(o.logger)
	o.cfg = cfg
	return o.cfg, o.logger, nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
