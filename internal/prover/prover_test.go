package prover

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/bitsnark/charms/internal/charms"
	"github.com/bitsnark/charms/internal/engine"
	"github.com/bitsnark/charms/internal/sandbox"
	"github.com/bitsnark/charms/internal/testutil"
)

func TestMockBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	var b MockBackend

	pk, vk, err := b.Setup(ctx, SpellCheckerProgram)
	require.NoError(t, err)
	pk2, vk2, err := b.Setup(ctx, SpellCheckerProgram)
	require.NoError(t, err)
	assert.Equal(t, pk, pk2)
	assert.Equal(t, vk, vk2, "setup is deterministic")

	_, otherVK, err := b.Setup(ctx, []byte("another program"))
	require.NoError(t, err)
	assert.NotEqual(t, vk, otherVK)

	proof, err := b.Prove(ctx, pk, []byte("committed"))
	require.NoError(t, err)
	assert.Len(t, proof, 64)

	require.NoError(t, b.VerifyProof(ctx, vk, []byte("committed"), proof))
	assert.ErrorIs(t, b.VerifyProof(ctx, vk, []byte("tampered"), proof), ErrInvalidProof)
	assert.ErrorIs(t, b.VerifyProof(ctx, otherVK, []byte("committed"), proof), ErrInvalidProof)
	assert.ErrorIs(t, b.VerifyProof(ctx, vk, []byte("committed"), proof[:10]), ErrInvalidProof)

	_, err = b.Prove(ctx, ProvingKey("short"), nil)
	assert.Error(t, err)
}

func startServer(t *testing.T, system ProofSystem) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	gs := grpc.NewServer()
	NewServer(system).Register(gs)
	go func() {
		_ = gs.Serve(lis)
	}()
	t.Cleanup(gs.GracefulStop)
	return lis.Addr().String()
}

func TestRemoteBackendMatchesLocal(t *testing.T) {
	ctx := context.Background()
	addr := startServer(t, MockBackend{})

	remote, err := Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer remote.Close()

	pk, vk, err := remote.Setup(ctx, SpellCheckerProgram)
	require.NoError(t, err)
	localPK, localVK, err := MockBackend{}.Setup(ctx, SpellCheckerProgram)
	require.NoError(t, err)
	assert.Equal(t, localPK, pk)
	assert.Equal(t, localVK, vk)

	proof, err := remote.Prove(ctx, pk, []byte("committed"))
	require.NoError(t, err)
	localProof, err := MockBackend{}.Prove(ctx, localPK, []byte("committed"))
	require.NoError(t, err)
	assert.Equal(t, localProof, proof)

	require.NoError(t, remote.VerifyProof(ctx, vk, []byte("committed"), proof))
	assert.ErrorIs(t, remote.VerifyProof(ctx, vk, []byte("other"), proof), ErrInvalidProof)

	_, err = remote.Prove(ctx, ProvingKey("short"), nil)
	assert.Error(t, err, "backend errors travel as RPC errors")
}

func TestCodec(t *testing.T) {
	var c Codec
	assert.Equal(t, codecName, c.Name())

	in := &VerifyRequest{VK: testutil.Fill(7), Committed: []byte{1}, Proof: []byte{2, 3}}
	data, err := c.Marshal(in)
	require.NoError(t, err)
	out := new(VerifyRequest)
	require.NoError(t, c.Unmarshal(data, out))
	assert.Equal(t, in, out)
	assert.Error(t, c.Unmarshal([]byte{0xff}, out))
}

func tokenSpell(app charms.App) (*charms.NormalizedSpell, map[charms.TxID]*charms.NormalizedSpell) {
	funding := testutil.Utxo("funding", 0)
	parent := &charms.NormalizedSpell{
		Version:         charms.CurrentVersion,
		Tx:              charms.NormalizedTransaction{Ins: []charms.UtxoID{}, Outs: []charms.NormalizedCharms{{0: charms.MustData(5)}}},
		AppPublicInputs: map[charms.App]charms.Data{app: {}},
	}
	spell := &charms.NormalizedSpell{
		Version:         charms.CurrentVersion,
		Tx:              charms.NormalizedTransaction{Ins: []charms.UtxoID{funding}, Outs: []charms.NormalizedCharms{{0: charms.MustData(5)}}},
		AppPublicInputs: map[charms.App]charms.Data{app: {}},
	}
	return spell, map[charms.TxID]*charms.NormalizedSpell{funding.TxID: parent}
}

func TestProveMock(t *testing.T) {
	ctx := context.Background()
	v := engine.NewMockVerifier(engine.New(sandbox.New()))
	p, err := New(ctx, MockBackend{}, v, nil)
	require.NoError(t, err)

	app := charms.NewApp(charms.TokenTag, testutil.Fill(1), testutil.Fill(2))
	spell, ancestors := tokenSpell(app)

	proved, err := p.Prove(ctx, Request{Spell: spell, Ancestors: ancestors})
	require.NoError(t, err)
	assert.True(t, proved.Spell.Mock)
	assert.Nil(t, proved.Spell.Tx.Ins, "inputs are cleared")
	assert.False(t, spell.Mock, "the caller's spell is not modified")
	assert.Zero(t, proved.Cycles)

	restored := *proved.Spell
	restored.Tx.Ins = spell.Tx.Ins
	require.NoError(t, VerifySpell(ctx, MockBackend{}, p.VK(), &restored, proved.Proof))

	restored.Mock = false
	assert.ErrorIs(t, VerifySpell(ctx, MockBackend{}, p.VK(), &restored, proved.Proof), ErrInvalidProof,
		"the mock flag is committed")

	assert.Error(t, VerifySpell(ctx, MockBackend{}, p.VK(), proved.Spell, proved.Proof),
		"verification needs the inputs")
}

func TestProveRunsContracts(t *testing.T) {
	ctx := context.Background()
	never := func(charms.App, *charms.Transaction) bool { return false }
	e := engine.New(sandbox.New(sandbox.WithMetering(true)), engine.WithSimpleTransfer(never))
	v, err := engine.NewProductionVerifier(e)
	require.NoError(t, err)
	p, err := New(ctx, MockBackend{}, v, nil)
	require.NoError(t, err)

	app, bin := testutil.ContractApp(t, charms.TokenTag, 1, "accept")
	spell, ancestors := tokenSpell(app)

	_, err = p.Prove(ctx, Request{Spell: spell, Ancestors: ancestors})
	require.Error(t, err)
	assert.True(t, charms.IsMissingBinary(err))

	proved, err := p.Prove(ctx, Request{
		Spell:     spell,
		Ancestors: ancestors,
		Binaries:  map[charms.B32][]byte{app.VK: bin},
	})
	require.NoError(t, err)
	assert.False(t, proved.Spell.Mock)
	assert.Positive(t, proved.Cycles)

	rejecting, rbin := testutil.ContractApp(t, charms.TokenTag, 1, "reject")
	spell, ancestors = tokenSpell(rejecting)
	_, err = p.Prove(ctx, Request{
		Spell:     spell,
		Ancestors: ancestors,
		Binaries:  map[charms.B32][]byte{rejecting.VK: rbin},
	})
	require.Error(t, err)
	assert.True(t, charms.IsContractRejected(err))
}
