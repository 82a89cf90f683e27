package spell

import (
	"fmt"
	"maps"
	"slices"

	"golang.org/x/text/unicode/norm"

	"github.com/bitsnark/charms/internal/charms"
)

// KeyedCharms maps spell app keys to charm values.
type KeyedCharms map[string]charms.Data

// Input is a transaction input (or reference input) as written in a spell.
type Input struct {
	UtxoID     *charms.UtxoID `json:"utxo_id,omitempty" yaml:"utxo_id,omitempty"`
	Charms     KeyedCharms    `json:"charms,omitempty" yaml:"charms,omitempty"`
	BeamedFrom *charms.UtxoID `json:"beamed_from,omitempty" yaml:"beamed_from,omitempty"`
}

// Output is a transaction output as written in a spell.
type Output struct {
	Address string      `json:"address,omitempty" yaml:"address,omitempty"`
	Amount  *uint64     `json:"amount,omitempty" yaml:"amount,omitempty"`
	Charms  KeyedCharms `json:"charms,omitempty" yaml:"charms,omitempty"`
	BeamTo  *charms.B32 `json:"beam_to,omitempty" yaml:"beam_to,omitempty"`
}

// Spell is the human-authored source form of a transaction's intent.
//
// App keys are arbitrary strings, unique within the spell. They are
// normalized to Unicode NFC before use, so visually identical keys refer
// to the same app.
type Spell struct {
	Version     uint32                `json:"version" yaml:"version"`
	Apps        map[string]charms.App `json:"apps" yaml:"apps"`
	PublicArgs  KeyedCharms           `json:"public_args,omitempty" yaml:"public_args,omitempty"`
	PrivateArgs KeyedCharms           `json:"private_args,omitempty" yaml:"private_args,omitempty"`
	Ins         []Input               `json:"ins" yaml:"ins"`
	Refs        []Input               `json:"refs,omitempty" yaml:"refs,omitempty"`
	Outs        []Output              `json:"outs" yaml:"outs"`
}

// New returns an empty spell at the current protocol version.
func New() *Spell {
	return &Spell{Version: charms.CurrentVersion, Apps: map[string]charms.App{}}
}

// IndexKey is the positional app key used by Denormalize: "$0000", "$0001", ...
func IndexKey(i int) string {
	return fmt.Sprintf("$%04d", i)
}

func malformed(format string, args ...any) *charms.Error {
	return charms.Errorf(charms.ErrCodeMalformedSpell, format, args...)
}

// appTable resolves NFC-normalized app keys.
type appTable map[string]charms.App

func (s *Spell) appTable() (appTable, error) {
	table := make(appTable, len(s.Apps))
	seen := make(map[charms.App]string, len(s.Apps))
	for _, key := range slices.Sorted(maps.Keys(s.Apps)) {
		app := s.Apps[key]
		nk := norm.NFC.String(key)
		if _, dup := table[nk]; dup {
			return nil, malformed("duplicate app key %q", nk)
		}
		if other, dup := seen[app]; dup {
			return nil, malformed("duplicate apps: keys %q and %q name the same app", other, key).WithApp(app)
		}
		table[nk] = app
		seen[app] = key
	}
	return table, nil
}

func (t appTable) lookup(key string) (charms.App, bool) {
	app, ok := t[norm.NFC.String(key)]
	return app, ok
}

func (t appTable) resolve(kc KeyedCharms) (charms.Charms, error) {
	out := make(charms.Charms, len(kc))
	for _, key := range slices.Sorted(maps.Keys(kc)) {
		app, ok := t.lookup(key)
		if !ok {
			return nil, malformed("missing app %q", key)
		}
		out[app] = kc[key]
	}
	return out, nil
}

// args maps every app to its argument (empty if none supplied).
func (t appTable) args(keyed KeyedCharms, kind string) (map[charms.App]charms.Data, error) {
	out := make(map[charms.App]charms.Data, len(t))
	for _, app := range t {
		out[app] = charms.Data{}
	}
	seen := make(map[charms.App]string, len(keyed))
	for _, key := range slices.Sorted(maps.Keys(keyed)) {
		app, ok := t.lookup(key)
		if !ok {
			return nil, malformed("%s for unknown app key %q", kind, key)
		}
		if other, dup := seen[app]; dup {
			return nil, malformed("%s keys %q and %q name the same app", kind, other, key).WithApp(app)
		}
		seen[app] = key
		out[app] = keyed[key]
	}
	return out, nil
}

// Normalize converts a spell into its canonical form. It also returns the
// apps' private inputs and, for inputs beamed from another chain, the map
// of input to beam source.
//
// Normalization is lossy: addresses, amounts, private inputs and the
// original app keys do not appear in the canonical form.
func Normalize(s *Spell) (*charms.NormalizedSpell, map[charms.App]charms.Data, map[charms.UtxoID]charms.UtxoID, error) {
	if s.Version != charms.CurrentVersion {
		return nil, nil, nil, malformed("unsupported version %d (current %d)", s.Version, charms.CurrentVersion)
	}

	table, err := s.appTable()
	if err != nil {
		return nil, nil, nil, err
	}
	apps := charms.SortedApps(maps.Values(table))
	appIndex := make(map[charms.App]uint32, len(apps))
	for i, app := range apps {
		appIndex[app] = uint32(i)
	}

	publicInputs, err := table.args(s.PublicArgs, "public args")
	if err != nil {
		return nil, nil, nil, err
	}
	privateInputs, err := table.args(s.PrivateArgs, "private args")
	if err != nil {
		return nil, nil, nil, err
	}

	ins := make([]charms.UtxoID, 0, len(s.Ins))
	seen := make(map[charms.UtxoID]struct{}, len(s.Ins))
	beamSources := make(map[charms.UtxoID]charms.UtxoID)
	for i, in := range s.Ins {
		if in.UtxoID == nil {
			return nil, nil, nil, malformed("input %d: missing utxo_id", i)
		}
		if _, dup := seen[*in.UtxoID]; dup {
			return nil, nil, nil, malformed("duplicate input").WithUtxo(*in.UtxoID)
		}
		if _, err := table.resolve(in.Charms); err != nil {
			return nil, nil, nil, err
		}
		seen[*in.UtxoID] = struct{}{}
		ins = append(ins, *in.UtxoID)
		if in.BeamedFrom != nil {
			beamSources[*in.UtxoID] = *in.BeamedFrom
		}
	}

	var refs []charms.UtxoID
	for i, ref := range s.Refs {
		if ref.UtxoID == nil {
			return nil, nil, nil, malformed("reference input %d: missing utxo_id", i)
		}
		refs = append(refs, *ref.UtxoID)
	}

	outs := make([]charms.NormalizedCharms, len(s.Outs))
	var beamedOuts map[uint32]charms.B32
	for i, out := range s.Outs {
		resolved, err := table.resolve(out.Charms)
		if err != nil {
			return nil, nil, nil, err
		}
		nc := make(charms.NormalizedCharms, len(resolved))
		for app, d := range resolved {
			nc[appIndex[app]] = d
		}
		outs[i] = nc
		if out.BeamTo != nil {
			if beamedOuts == nil {
				beamedOuts = make(map[uint32]charms.B32)
			}
			beamedOuts[uint32(i)] = *out.BeamTo
		}
	}

	ns := &charms.NormalizedSpell{
		Version: s.Version,
		Tx: charms.NormalizedTransaction{
			Ins:        ins,
			Refs:       refs,
			Outs:       outs,
			BeamedOuts: beamedOuts,
		},
		AppPublicInputs: publicInputs,
	}
	return ns, privateInputs, beamSources, nil
}

// Denormalize projects a canonical spell back into source form for display.
// Apps get positional keys in index order; empty public args and empty
// output charm maps are omitted. It fails only if the inputs were cleared.
func Denormalize(ns *charms.NormalizedSpell) (*Spell, error) {
	if ns.Tx.Ins == nil {
		return nil, malformed("spell must have inputs")
	}

	apps := ns.Apps()
	s := &Spell{
		Version: ns.Version,
		Apps:    make(map[string]charms.App, len(apps)),
	}
	for i, app := range apps {
		s.Apps[IndexKey(i)] = app
		if d := ns.AppPublicInputs[app]; !d.IsEmpty() {
			if s.PublicArgs == nil {
				s.PublicArgs = KeyedCharms{}
			}
			s.PublicArgs[IndexKey(i)] = d
		}
	}

	s.Ins = make([]Input, len(ns.Tx.Ins))
	for i, u := range ns.Tx.Ins {
		s.Ins[i] = Input{UtxoID: &u}
	}
	for _, u := range ns.Tx.Refs {
		s.Refs = append(s.Refs, Input{UtxoID: &u})
	}

	s.Outs = make([]Output, len(ns.Tx.Outs))
	for i, nc := range ns.Tx.Outs {
		var out Output
		if len(nc) > 0 {
			out.Charms = make(KeyedCharms, len(nc))
			for idx, d := range nc {
				out.Charms[IndexKey(int(idx))] = d
			}
		}
		if b, ok := ns.Tx.BeamedOuts[uint32(i)]; ok {
			out.BeamTo = &b
		}
		s.Outs[i] = out
	}
	return s, nil
}

// ToTransaction builds the transaction view directly from the source spell.
// Every input and reference input must declare its charms; outputs without
// charms are empty.
func (s *Spell) ToTransaction() (*charms.Transaction, error) {
	table, err := s.appTable()
	if err != nil {
		return nil, err
	}
	ins, err := table.utxoCharms(s.Ins, "input")
	if err != nil {
		return nil, err
	}
	refs, err := table.utxoCharms(s.Refs, "reference input")
	if err != nil {
		return nil, err
	}
	outs := make([]charms.Charms, len(s.Outs))
	for i, out := range s.Outs {
		if outs[i], err = table.resolve(out.Charms); err != nil {
			return nil, err
		}
	}
	return &charms.Transaction{Ins: ins, Refs: refs, Outs: outs}, nil
}

func (t appTable) utxoCharms(inputs []Input, kind string) ([]charms.UtxoCharms, error) {
	out := make([]charms.UtxoCharms, len(inputs))
	for i, in := range inputs {
		if in.UtxoID == nil {
			return nil, malformed("%s %d: missing utxo_id", kind, i)
		}
		if in.Charms == nil {
			return nil, malformed("%s %d: missing charms field", kind, i).WithUtxo(*in.UtxoID)
		}
		c, err := t.resolve(in.Charms)
		if err != nil {
			return nil, err
		}
		out[i] = charms.UtxoCharms{Utxo: *in.UtxoID, Charms: c}
	}
	return out, nil
}

// DeclaredInputs returns the charms the author declared on each input and
// reference input, nil where none were declared. The consistency checker
// compares them with what the ancestors actually hold.
func (s *Spell) DeclaredInputs() (ins, refs []charms.Charms, err error) {
	table, err := s.appTable()
	if err != nil {
		return nil, nil, err
	}
	declared := func(inputs []Input) ([]charms.Charms, error) {
		out := make([]charms.Charms, len(inputs))
		for i, in := range inputs {
			if in.Charms == nil {
				continue
			}
			if out[i], err = table.resolve(in.Charms); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	if ins, err = declared(s.Ins); err != nil {
		return nil, nil, err
	}
	if refs, err = declared(s.Refs); err != nil {
		return nil, nil, err
	}
	return ins, refs, nil
}
