package spell

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/bitsnark/charms/internal/charms"
)

//go:embed schema.cue
var schemaCUE string

// Format is the encoding of a spell source document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf picks the format from a file extension; anything that is not
// .json is treated as YAML (a superset of JSON).
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Load reads and parses a spell source file.
func Load(path string) (*Spell, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spell: %w", err)
	}
	return Parse(filepath.Base(path), data, FormatOf(path))
}

// Parse validates a source document against the spell schema and decodes it.
// Schema violations are reported as MalformedSpell with the offending line.
func Parse(filename string, data []byte, format Format) (*Spell, error) {
	if err := validateSource(filename, data, format); err != nil {
		return nil, err
	}

	s := &Spell{}
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(s); err != nil {
			return nil, charms.WrapError(charms.ErrCodeMalformedSpell, "decode spell", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, charms.WrapError(charms.ErrCodeMalformedSpell, "decode spell", err)
		}
	default:
		return nil, fmt.Errorf("unknown spell format %q", format)
	}
	return s, nil
}

func validateSource(filename string, data []byte, format Format) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("spell-schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("spell schema: %w", err)
	}

	var doc cue.Value
	switch format {
	case FormatJSON:
		expr, err := cuejson.Extract(filename, data)
		if err != nil {
			return sourceError("parse spell", err)
		}
		doc = ctx.BuildExpr(expr)
	case FormatYAML:
		file, err := cueyaml.Extract(filename, data)
		if err != nil {
			return sourceError("parse spell", err)
		}
		doc = ctx.BuildFile(file)
	default:
		return fmt.Errorf("unknown spell format %q", format)
	}
	if err := doc.Err(); err != nil {
		return sourceError("parse spell", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Spell"))
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return sourceError("spell does not match schema", err)
	}
	return nil
}

func sourceError(msg string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) > 0 {
		if pos := errs[0].Position(); pos.IsValid() {
			msg = fmt.Sprintf("%s (line %d)", msg, pos.Line())
		}
	}
	return charms.WrapError(charms.ErrCodeMalformedSpell, msg, err)
}
