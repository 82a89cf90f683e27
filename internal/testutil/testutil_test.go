package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitsnark/charms/internal/charms"
)

func TestDeterministicClock(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, int64(1), clock.Next())
	assert.Equal(t, int64(2), clock.Next())

	clock.Reset()
	assert.Equal(t, int64(1), clock.Next())
}

func TestDeterministicClockConcurrent(t *testing.T) {
	clock := NewDeterministicClock()
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				clock.Next()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1000), clock.Current())
}

func TestSequentialIDs(t *testing.T) {
	var ids SequentialIDs
	a, b := ids.New(), ids.New()
	assert.Equal(t, "00000000-0000-7000-8000-000000000001", a.String())
	assert.Equal(t, "00000000-0000-7000-8000-000000000002", b.String())
	assert.Equal(t, 7, int(a.Version()))

	var again SequentialIDs
	assert.Equal(t, a, again.New())
}

func TestContractsCompile(t *testing.T) {
	for _, name := range ContractNames() {
		t.Run(name, func(t *testing.T) {
			bin := MustWasm(t, name)
			require.NotEmpty(t, bin)
			assert.Equal(t, []byte{0x00, 'a', 's', 'm'}, bin[:4])
		})
	}
	_, err := Wasm("nope")
	assert.Error(t, err)
}

func TestFixtures(t *testing.T) {
	assert.Equal(t, NamedTxID("a"), NamedTxID("a"))
	assert.NotEqual(t, NamedTxID("a"), NamedTxID("b"))
	assert.Equal(t, uint32(3), Utxo("a", 3).Vout)

	app, bin := ContractApp(t, charms.TokenTag, 1, "accept")
	assert.Equal(t, charms.VK(bin), app.VK)
	assert.Equal(t, Fill(1), app.Identity)
}
