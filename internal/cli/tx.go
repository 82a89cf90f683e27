package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bitsnark/charms/internal/ledger"
	"github.com/bitsnark/charms/internal/ledger/bitcoin"
	"github.com/bitsnark/charms/internal/spell"
)

// ErrCodeNoSpell is reported when a transaction carries no spell.
const ErrCodeNoSpell = "NO_SPELL"

// NewTxCommand creates the tx command group.
func NewTxCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Inspect spell transactions",
	}
	cmd.AddCommand(newTxShowSpellCommand(rootOpts))
	return cmd
}

// shownSpell prints as YAML in text mode.
type shownSpell struct {
	*spell.Spell
}

func (s shownSpell) String() string {
	data, err := yaml.Marshal(s.Spell)
	if err != nil {
		return err.Error()
	}
	return strings.TrimSuffix(string(data), "\n")
}

func newTxShowSpellCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show-spell <tx>",
		Short: "Print the spell a transaction carries",
		Long: `Extract the spell from a bitcoin transaction, given as hex or @file.

The spell is printed only if its proof verifies and its mock flag matches
--mock.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			f := formatterFor(rootOpts, cmd)

			raw, err := readHex(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read transaction", err)
			}
			rt, err := newRuntime(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer rt.close()
			sp, err := rt.spellProver(ctx)
			if err != nil {
				return err
			}

			ns, err := ledger.ExtractAndVerify(ctx, bitcoin.Adapter{}, raw, sp.VK(), rt.backend, rt.cfg.Mock)
			if errors.Is(err, ledger.ErrNoSpell) {
				if outErr := f.Error(ErrCodeNoSpell, err.Error(), nil); outErr != nil {
					return outErr
				}
				return WrapExitError(ExitFailure, "no spell", err)
			}
			if err != nil {
				return WrapExitError(ExitFailure, "invalid spell transaction", err)
			}
			src, err := spell.Denormalize(ns)
			if err != nil {
				return err
			}
			return f.Success(shownSpell{src})
		},
	}
}
