package cli

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/bitsnark/charms/internal/charms"
	"github.com/bitsnark/charms/internal/spell"
)

// NewAppCommand creates the app command group.
func NewAppCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Work with app contracts",
	}
	cmd.AddCommand(newAppVKCommand(rootOpts))
	cmd.AddCommand(newAppRunCommand(rootOpts))
	return cmd
}

func newAppVKCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "vk <contract.wasm>",
		Short:         "Print a contract's verification key",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			bin, err := os.ReadFile(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read contract", err)
			}
			return formatterFor(rootOpts, cmd).Success(VKResult{VK: charms.VK(bin)})
		},
	}
}

// RunOptions holds flags for app run.
type RunOptions struct {
	Spell string
	App   string
}

// RunResult is the outcome of one contract run.
type RunResult struct {
	App    charms.App `json:"app"`
	Cycles uint64     `json:"cycles"`
}

func (r RunResult) String() string {
	return fmt.Sprintf("✓ %s accepted the spell (%d cycles)", r.App, r.Cycles)
}

func newAppRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run <contract.wasm>",
		Short: "Run one contract against a spell",
		Long: `Run a contract against the transaction a spell describes.

Every input of the spell must declare its charms. The app is picked with
--app, or is the only app of the spell whose verification key matches the
contract.

Example:
  charms app run token.wasm --spell spell.yaml --app '$token'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(rootOpts, opts, args[0], cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Spell, "spell", "", "spell source file (required)")
	cmd.Flags().StringVar(&opts.App, "app", "", "app key in the spell")
	_ = cmd.MarkFlagRequired("spell")
	return cmd
}

func runApp(rootOpts *RootOptions, opts *RunOptions, path string, cmd *cobra.Command) error {
	f := formatterFor(rootOpts, cmd)

	bin, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read contract", err)
	}
	src, err := spell.Load(opts.Spell)
	if err != nil {
		if charms.CodeOf(err) != "" {
			return rejection(f, err, nil)
		}
		return WrapExitError(ExitCommandError, "failed to load spell", err)
	}
	key, err := pickApp(src, opts.App, charms.VK(bin))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to pick app", err)
	}
	tx, err := src.ToTransaction()
	if err != nil {
		return rejection(f, err, nil)
	}

	rt, err := newRuntime(rootOpts, cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	app := src.Apps[key]
	cycles, err := rt.engine.Runner().Run(bin, app, tx, src.PublicArgs[key], src.PrivateArgs[key])
	if err != nil {
		return rejection(f, err, nil)
	}
	return f.Success(RunResult{App: app, Cycles: cycles})
}

// pickApp returns key when set, otherwise the key of the only app with
// verification key vk.
func pickApp(s *spell.Spell, key string, vk charms.B32) (string, error) {
	if key != "" {
		if _, ok := s.Apps[key]; !ok {
			return "", fmt.Errorf("spell has no app %q", key)
		}
		return key, nil
	}
	var matches []string
	for _, k := range slices.Sorted(maps.Keys(s.Apps)) {
		if s.Apps[k].VK == vk {
			matches = append(matches, k)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no app in the spell has verification key %s", vk)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("apps %v share verification key %s; pick one with --app", matches, vk)
	}
}
