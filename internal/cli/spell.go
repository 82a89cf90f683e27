package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"maps"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/spf13/cobra"

	"github.com/bitsnark/charms/internal/charms"
	"github.com/bitsnark/charms/internal/engine"
	"github.com/bitsnark/charms/internal/ledger"
	"github.com/bitsnark/charms/internal/ledger/bitcoin"
	"github.com/bitsnark/charms/internal/prover"
	"github.com/bitsnark/charms/internal/spell"
	"github.com/bitsnark/charms/internal/store"
)

// NewSpellCommand creates the spell command group.
func NewSpellCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spell",
		Short: "Check, normalize and prove spells",
	}
	cmd.AddCommand(newSpellCheckCommand(rootOpts))
	cmd.AddCommand(newSpellNormalizeCommand(rootOpts))
	cmd.AddCommand(newSpellProveCommand(rootOpts))
	cmd.AddCommand(newSpellVKCommand(rootOpts))
	return cmd
}

// SpellInputs are the flags that supply a spell's context: its ancestors
// and the contract binaries.
type SpellInputs struct {
	PrevTxs   []string // hex, or @file with one transaction per line
	Ancestors []string // TXID=PATH
	AppBins   []string
}

func (in *SpellInputs) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&in.PrevTxs, "prev-txs", nil, "transactions the spell spends or references, as hex or @file")
	cmd.Flags().StringArrayVar(&in.Ancestors, "ancestor", nil, "trusted ancestor spell source as TXID=PATH")
	cmd.Flags().StringSliceVar(&in.AppBins, "app-bins", nil, "contract binaries (.wasm)")
}

// preparedSpell is a normalized spell together with its verification
// context.
type preparedSpell struct {
	spell        *charms.NormalizedSpell
	private      map[charms.App]charms.Data
	beams        map[charms.UtxoID]charms.UtxoID
	declaredIns  []charms.Charms
	declaredRefs []charms.Charms
	ancestors    map[charms.TxID]*charms.NormalizedSpell
	binaries     map[charms.B32][]byte
}

func (p *preparedSpell) request() engine.Request {
	var in *engine.AppInput
	if p.binaries != nil {
		in = &engine.AppInput{Binaries: p.binaries, PrivateInputs: p.private}
	}
	return engine.Request{
		Spell:        p.spell,
		Ancestors:    p.ancestors,
		BeamSources:  p.beams,
		DeclaredIns:  p.declaredIns,
		DeclaredRefs: p.declaredRefs,
		AppInput:     in,
	}
}

// normalizeFile loads and normalizes a spell source file. Errors carry a
// charms error code when the spell itself is at fault.
func normalizeFile(path string) (*preparedSpell, error) {
	src, err := spell.Load(path)
	if err != nil {
		return nil, err
	}
	ns, private, beams, err := spell.Normalize(src)
	if err != nil {
		return nil, err
	}
	ins, refs, err := src.DeclaredInputs()
	if err != nil {
		return nil, err
	}
	return &preparedSpell{
		spell:        ns,
		private:      private,
		beams:        beams,
		declaredIns:  ins,
		declaredRefs: refs,
		ancestors:    map[charms.TxID]*charms.NormalizedSpell{},
	}, nil
}

// prepare normalizes the spell at path and gathers its ancestors and
// binaries. Ancestors from --prev-txs are verified against the prover's
// key and cached in st when it is not nil.
func (in *SpellInputs) prepare(ctx context.Context, rt *runtime, st *store.Store, path string) (*preparedSpell, error) {
	p, err := normalizeFile(path)
	if err != nil {
		if charms.CodeOf(err) == "" {
			return nil, WrapExitError(ExitCommandError, "failed to load spell", err)
		}
		return nil, err
	}

	if len(in.PrevTxs) > 0 {
		raws, err := readTxs(in.PrevTxs)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to read --prev-txs", err)
		}
		sp, err := rt.spellProver(ctx)
		if err != nil {
			return nil, err
		}
		var prev map[charms.TxID]*charms.NormalizedSpell
		if st != nil {
			prev, err = st.PrevSpells(ctx, bitcoin.Adapter{}, raws, sp.VK(), rt.backend, rt.cfg.Mock)
		} else {
			prev, err = ledger.PrevSpells(ctx, bitcoin.Adapter{}, raws, sp.VK(), rt.backend, rt.cfg.Mock)
		}
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to read ancestor spells", err)
		}
		maps.Copy(p.ancestors, prev)
	}

	for _, arg := range in.Ancestors {
		txid, ns, err := loadAncestor(arg)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load --ancestor", err)
		}
		p.ancestors[txid] = ns
	}

	if len(in.AppBins) > 0 {
		if p.binaries, err = engine.LoadBinaries(in.AppBins...); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load --app-bins", err)
		}
	}
	rt.logger.Debug("spell prepared",
		"apps", len(p.spell.Apps()),
		"ancestors", len(p.ancestors),
		"binaries", len(p.binaries))
	return p, nil
}

func loadAncestor(arg string) (charms.TxID, *charms.NormalizedSpell, error) {
	id, path, ok := strings.Cut(arg, "=")
	if !ok {
		return charms.TxID{}, nil, fmt.Errorf("%q is not TXID=PATH", arg)
	}
	txid, err := charms.ParseTxID(id)
	if err != nil {
		return charms.TxID{}, nil, err
	}
	p, err := normalizeFile(path)
	if err != nil {
		return charms.TxID{}, nil, err
	}
	return txid, p.spell, nil
}

// readHex decodes a hex argument, or the contents of the file named after
// a leading @.
func readHex(arg string) ([]byte, error) {
	if name, ok := strings.CutPrefix(arg, "@"); ok {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, err
		}
		arg = string(bytes.TrimSpace(data))
	}
	return hex.DecodeString(strings.TrimSpace(arg))
}

// readTxs decodes --prev-txs values. An @file holds one hex transaction
// per line.
func readTxs(args []string) ([][]byte, error) {
	var raws [][]byte
	for _, arg := range args {
		name, ok := strings.CutPrefix(arg, "@")
		if !ok {
			raw, err := hex.DecodeString(arg)
			if err != nil {
				return nil, err
			}
			raws = append(raws, raw)
			continue
		}
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		sc := bufio.NewScanner(f)
		sc.Buffer(nil, 4<<20)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			raw, err := hex.DecodeString(line)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			raws = append(raws, raw)
		}
		err = sc.Err()
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	return raws, nil
}

// rejection reports a spell the engine refused and returns the matching
// exit error.
func rejection(f *OutputFormatter, err error, details any) error {
	code := charms.CodeOf(err)
	if outErr := f.Error(string(code), err.Error(), details); outErr != nil {
		return outErr
	}
	return WrapExitError(ExitFailure, "spell rejected", err)
}

func formatterFor(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// CheckResult is the outcome of spell check.
type CheckResult struct {
	Accepted       bool             `json:"accepted"`
	ErrorCode      charms.ErrorCode `json:"error_code,omitempty"`
	FastPath       bool             `json:"fast_path"`
	TotalCycles    uint64           `json:"total_cycles"`
	Fee            uint64           `json:"fee"`
	Apps           []AppCheck       `json:"apps"`
	VerificationID string           `json:"verification_id,omitempty"`
}

type AppCheck struct {
	App      charms.App `json:"app"`
	FastPath bool       `json:"fast_path"`
	Cycles   uint64     `json:"cycles"`
}

func (r CheckResult) String() string {
	var b strings.Builder
	if r.FastPath {
		b.WriteString("✓ spell accepted as a simple transfer")
	} else {
		fmt.Fprintf(&b, "✓ spell accepted (%d cycles)", r.TotalCycles)
	}
	for _, a := range r.Apps {
		if a.FastPath {
			fmt.Fprintf(&b, "\n  %s: simple transfer", a.App)
		} else {
			fmt.Fprintf(&b, "\n  %s: %d cycles", a.App, a.Cycles)
		}
	}
	if r.Fee > 0 {
		fmt.Fprintf(&b, "\n  fee: %d sat", r.Fee)
	}
	if r.VerificationID != "" {
		fmt.Fprintf(&b, "\n  verification: %s", r.VerificationID)
	}
	return b.String()
}

func newSpellCheckCommand(rootOpts *RootOptions) *cobra.Command {
	inputs := &SpellInputs{}

	cmd := &cobra.Command{
		Use:   "check <spell-file>",
		Short: "Verify a spell without proving it",
		Long: `Verify a spell against its ancestors and contracts.

Ancestor spells come from the transactions given with --prev-txs, whose
proofs are checked, and from trusted spell files given with --ancestor.
Without --app-bins every app must be a simple transfer.

Exit codes:
  0 - Spell accepted
  1 - Spell rejected
  2 - Command error (unreadable files, bad config, etc.)

Examples:
  charms spell check spell.yaml --prev-txs @prev.txt --app-bins token.wasm
  charms spell check spell.yaml --mock --ancestor <txid>=parent.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSpellCheck(rootOpts, inputs, args[0], cmd)
		},
	}
	inputs.addFlags(cmd)
	return cmd
}

func runSpellCheck(opts *RootOptions, inputs *SpellInputs, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f := formatterFor(opts, cmd)

	rt, err := newRuntime(opts, cmd)
	if err != nil {
		return err
	}
	defer rt.close()
	st, err := rt.openStore()
	if err != nil {
		return err
	}

	p, err := inputs.prepare(ctx, rt, st, path)
	if err != nil {
		if charms.CodeOf(err) != "" {
			return rejection(f, err, nil)
		}
		return err
	}

	res, verr := rt.verifier.Verify(ctx, p.request())

	result := CheckResult{Apps: []AppCheck{}}
	if st != nil {
		rec, err := st.RecordVerification(ctx, p.spell, rt.variant(), res, verr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to record verification", err)
		}
		result.VerificationID = rec.ID.String()
	}
	if verr != nil {
		result.ErrorCode = charms.CodeOf(verr)
		return rejection(f, verr, result)
	}

	result.Accepted = true
	result.FastPath = res.FastPath
	result.TotalCycles = res.TotalCycles
	result.Fee = rt.cfg.Fee.Amount(res.TotalCycles)
	for _, a := range res.Apps {
		result.Apps = append(result.Apps, AppCheck{App: a.App, FastPath: a.FastPath, Cycles: a.Cycles})
	}
	return f.Success(result)
}

// NormalizeResult is a spell's canonical form.
type NormalizeResult struct {
	Spell *charms.NormalizedSpell `json:"spell"`
	Hash  charms.B32              `json:"hash"`
	CBOR  string                  `json:"cbor"`
}

func (r NormalizeResult) String() string {
	return fmt.Sprintf("hash: %s\ncbor: %s", r.Hash, r.CBOR)
}

func newSpellNormalizeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <spell-file>",
		Short: "Print a spell's canonical encoding",
		Long: `Normalize a spell and print its canonical CBOR encoding and hash.

Two spells with the same meaning normalize to the same bytes, whatever
their app keys or field order.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatterFor(rootOpts, cmd)
			p, err := normalizeFile(args[0])
			if err != nil {
				if charms.CodeOf(err) != "" {
					return rejection(f, err, nil)
				}
				return WrapExitError(ExitCommandError, "failed to load spell", err)
			}
			data, err := charms.Marshal(p.spell)
			if err != nil {
				return err
			}
			hash, err := store.SpellHash(p.spell)
			if err != nil {
				return err
			}
			return f.Success(NormalizeResult{Spell: p.spell, Hash: hash, CBOR: hex.EncodeToString(data)})
		},
	}
}

// ProveResult is a proven spell ready to be committed on chain.
type ProveResult struct {
	VK          charms.B32  `json:"vk"`
	Envelope    string      `json:"envelope"`
	Cycles      uint64      `json:"cycles"`
	Fee         uint64      `json:"fee"`
	FeePkScript string      `json:"fee_pk_script,omitempty"`
	Commitment  *Commitment `json:"commitment,omitempty"`
}

// Commitment is the taproot output that reveals the envelope when spent.
type Commitment struct {
	PkScript     string `json:"pk_script"`
	Script       string `json:"script"`
	ControlBlock string `json:"control_block"`
}

func (r ProveResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "vk: %s\nenvelope: %s\ncycles: %d", r.VK, r.Envelope, r.Cycles)
	if r.FeePkScript != "" {
		fmt.Fprintf(&b, "\nfee: %d sat to %s", r.Fee, r.FeePkScript)
	}
	if r.Commitment != nil {
		fmt.Fprintf(&b, "\ncommit pk_script: %s\ncommit script: %s\ncontrol block: %s",
			r.Commitment.PkScript, r.Commitment.Script, r.Commitment.ControlBlock)
	}
	return b.String()
}

// ProveOptions holds flags for spell prove.
type ProveOptions struct {
	SpellInputs
	Tx        string
	CommitKey string
}

func newSpellProveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProveOptions{}

	cmd := &cobra.Command{
		Use:   "prove <spell-file>",
		Short: "Verify and prove a spell",
		Long: `Verify a spell, prove it and print the envelope to commit on chain.

With --tx the spell's inputs are aligned with the transaction's: the
spell's inputs must come first and the remaining transaction inputs are
added to the spell. With --commit-key the taproot commitment for the
envelope is printed too.

Examples:
  charms spell prove spell.yaml --prev-txs @prev.txt --app-bins token.wasm
  charms spell prove spell.yaml --tx @unsigned.hex --commit-key <pubkey>`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSpellProve(rootOpts, opts, args[0], cmd)
		},
	}
	opts.addFlags(cmd)
	cmd.Flags().StringVar(&opts.Tx, "tx", "", "transaction to align the spell with, as hex or @file")
	cmd.Flags().StringVar(&opts.CommitKey, "commit-key", "", "public key for the envelope commitment (hex)")
	return cmd
}

func runSpellProve(rootOpts *RootOptions, opts *ProveOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f := formatterFor(rootOpts, cmd)

	rt, err := newRuntime(rootOpts, cmd)
	if err != nil {
		return err
	}
	defer rt.close()
	st, err := rt.openStore()
	if err != nil {
		return err
	}

	var key *btcec.PublicKey
	if opts.CommitKey != "" {
		if key, err = parsePubKey(opts.CommitKey); err != nil {
			return WrapExitError(ExitCommandError, "invalid --commit-key", err)
		}
	}

	p, err := opts.prepare(ctx, rt, st, path)
	if err != nil {
		if charms.CodeOf(err) != "" {
			return rejection(f, err, nil)
		}
		return err
	}
	if opts.Tx != "" {
		raw, err := readHex(opts.Tx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read --tx", err)
		}
		tx, err := bitcoin.Decode(raw)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read --tx", err)
		}
		if p.spell, err = bitcoin.AlignSpell(p.spell, tx); err != nil {
			return WrapExitError(ExitCommandError, "spell does not match --tx", err)
		}
	}

	sp, err := rt.spellProver(ctx)
	if err != nil {
		return err
	}
	proved, err := sp.Prove(ctx, prover.Request{
		Spell:         p.spell,
		Ancestors:     p.ancestors,
		BeamSources:   p.beams,
		DeclaredIns:   p.declaredIns,
		DeclaredRefs:  p.declaredRefs,
		Binaries:      p.binaries,
		PrivateInputs: p.private,
	})
	if err != nil {
		if charms.CodeOf(err) != "" {
			return rejection(f, err, nil)
		}
		return WrapExitError(ExitFailure, "failed to prove spell", err)
	}

	envelope, err := (&ledger.Envelope{Spell: proved.Spell, Proof: proved.Proof}).Encode()
	if err != nil {
		return err
	}
	result := ProveResult{
		VK:       sp.VK(),
		Envelope: hex.EncodeToString(envelope),
		Cycles:   proved.Cycles,
		Fee:      rt.cfg.Fee.Amount(proved.Cycles),
	}
	if rt.cfg.Fee.Address != "" {
		script, err := rt.cfg.Fee.PkScript(rt.cfg.Network)
		if err != nil {
			return err
		}
		result.FeePkScript = hex.EncodeToString(script)
	}
	if key != nil {
		c, err := bitcoin.Commit(key, envelope)
		if err != nil {
			return err
		}
		result.Commitment = &Commitment{
			PkScript:     hex.EncodeToString(c.PkScript),
			Script:       hex.EncodeToString(c.Script),
			ControlBlock: hex.EncodeToString(c.ControlBlock),
		}
	}
	return f.Success(result)
}

// parsePubKey accepts x-only (32 byte) and SEC (33 or 65 byte) keys.
func parsePubKey(s string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) == schnorr.PubKeyBytesLen {
		return schnorr.ParsePubKey(b)
	}
	return btcec.ParsePubKey(b)
}

// VKResult is a verification key.
type VKResult struct {
	VK charms.B32 `json:"vk"`
}

func (r VKResult) String() string {
	return r.VK.String()
}

func newSpellVKCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "vk",
		Short:         "Print the key spell proofs verify under",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
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
			return formatterFor(rootOpts, cmd).Success(VKResult{VK: sp.VK()})
		},
	}
}
