package charms

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// B32 is a fixed 32-byte identifier, typically a SHA-256 digest.
// Ordering and equality are byte-wise.
type B32 [32]byte

// ParseB32 parses a 64-character hex string.
func ParseB32(s string) (B32, error) {
	var b B32
	if len(s) != 2*len(b) {
		return b, fmt.Errorf("invalid B32 %q: expected %d hex characters, got %d", s, 2*len(b), len(s))
	}
	if _, err := hex.Decode(b[:], []byte(s)); err != nil {
		return b, fmt.Errorf("invalid B32 %q: %w", s, err)
	}
	return b, nil
}

func (b B32) String() string {
	return hex.EncodeToString(b[:])
}

// Compare returns -1, 0 or +1 comparing b and o byte-wise.
func (b B32) Compare(o B32) int {
	return bytes.Compare(b[:], o[:])
}

func (b B32) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *B32) UnmarshalText(text []byte) error {
	v, err := ParseB32(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// TxID identifies a transaction. Bytes are kept in hash (internal) order;
// the text form is byte-reversed hex, matching block explorer display.
type TxID [32]byte

// ParseTxID parses the display (reversed hex) form of a transaction ID.
func ParseTxID(s string) (TxID, error) {
	b, err := ParseB32(s)
	if err != nil {
		return TxID{}, fmt.Errorf("invalid txid: %w", err)
	}
	var id TxID
	for i := range b {
		id[i] = b[len(b)-1-i]
	}
	return id, nil
}

func (id TxID) String() string {
	var rev [32]byte
	for i := range id {
		rev[i] = id[len(id)-1-i]
	}
	return hex.EncodeToString(rev[:])
}

// Compare orders transaction IDs by their internal byte order.
func (id TxID) Compare(o TxID) int {
	return bytes.Compare(id[:], o[:])
}

func (id TxID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *TxID) UnmarshalText(text []byte) error {
	v, err := ParseTxID(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// UtxoID references an output: (transaction ID, output index).
// Encoded in CBOR as a 2-element array.
type UtxoID struct {
	_    struct{} `cbor:",toarray"`
	TxID TxID
	Vout uint32
}

// NewUtxoID builds a UtxoID.
func NewUtxoID(txid TxID, vout uint32) UtxoID {
	return UtxoID{TxID: txid, Vout: vout}
}

// ParseUtxoID parses the "txid:vout" form.
func ParseUtxoID(s string) (UtxoID, error) {
	txPart, voutPart, ok := strings.Cut(s, ":")
	if !ok {
		return UtxoID{}, fmt.Errorf("invalid utxo id %q: expected txid:vout", s)
	}
	txid, err := ParseTxID(txPart)
	if err != nil {
		return UtxoID{}, fmt.Errorf("invalid utxo id %q: %w", s, err)
	}
	vout, err := strconv.ParseUint(voutPart, 10, 32)
	if err != nil {
		return UtxoID{}, fmt.Errorf("invalid utxo id %q: bad output index: %w", s, err)
	}
	return NewUtxoID(txid, uint32(vout)), nil
}

// Bytes returns txid (32 bytes) followed by vout as little-endian u32.
func (u UtxoID) Bytes() []byte {
	buf := make([]byte, 36)
	copy(buf, u.TxID[:])
	binary.LittleEndian.PutUint32(buf[32:], u.Vout)
	return buf
}

func (u UtxoID) String() string {
	return fmt.Sprintf("%s:%d", u.TxID, u.Vout)
}

// Compare orders by transaction ID, then output index.
func (u UtxoID) Compare(o UtxoID) int {
	if c := u.TxID.Compare(o.TxID); c != 0 {
		return c
	}
	switch {
	case u.Vout < o.Vout:
		return -1
	case u.Vout > o.Vout:
		return 1
	}
	return 0
}

func (u UtxoID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *UtxoID) UnmarshalText(text []byte) error {
	v, err := ParseUtxoID(string(text))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// Tags recognised by the default simple-transfer predicate.
const (
	TokenTag = "t"
	NFTTag   = "n"
)

// App identifies a set of verification rules. VK is the SHA-256 of the
// app's contract binary. Identity, not value, is compared.
type App struct {
	_        struct{} `cbor:",toarray"`
	Tag      string
	Identity B32
	VK       B32
}

// NewApp builds an App.
func NewApp(tag string, identity, vk B32) App {
	return App{Tag: tag, Identity: identity, VK: vk}
}

// ParseApp parses the "tag/identity/vk" form.
func ParseApp(s string) (App, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 || parts[0] == "" {
		return App{}, fmt.Errorf("invalid app %q: expected tag/identity/vk", s)
	}
	identity, err := ParseB32(parts[1])
	if err != nil {
		return App{}, fmt.Errorf("invalid app %q: identity: %w", s, err)
	}
	vk, err := ParseB32(parts[2])
	if err != nil {
		return App{}, fmt.Errorf("invalid app %q: vk: %w", s, err)
	}
	return NewApp(parts[0], identity, vk), nil
}

func (a App) String() string {
	return a.Tag + "/" + a.Identity.String() + "/" + a.VK.String()
}

// Compare orders apps by tag, identity, then verification key.
func (a App) Compare(o App) int {
	if c := strings.Compare(a.Tag, o.Tag); c != 0 {
		return c
	}
	if c := a.Identity.Compare(o.Identity); c != 0 {
		return c
	}
	return a.VK.Compare(o.VK)
}

func (a App) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *App) UnmarshalText(text []byte) error {
	v, err := ParseApp(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
