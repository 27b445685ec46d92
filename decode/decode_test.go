package decode

import (
	"encoding/binary"
	"testing"

	"github.com/shredcore/shredstream/deshred"
)

func pk(b byte) PublicKey {
	var k PublicKey
	k[0] = b
	return k
}

func putString(buf []byte, off int, s string) int {
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(s)))
	off += 4
	copy(buf[off:], s)
	return off + len(s)
}

func TestDiscriminatorTableRoundTrip(t *testing.T) {
	for _, name := range knownInstructionNames {
		d := ComputeDiscriminator(name)
		if knownDiscriminators[d] != name {
			t.Fatalf("round trip failed for %q", name)
		}
	}
}

func TestTokenCreateExtraction(t *testing.T) {
	tokenProgram := pk(1)
	systemProgram := pk(2)

	disc := ComputeDiscriminator("create")
	data := make([]byte, 8+4+3+4+3+4+10)
	copy(data[:8], disc[:])
	off := putString(data, 8, "Foo")
	off = putString(data, off, "FOO")
	_ = putString(data, off, "ipfs://bar")

	tx := deshred.Transaction{
		StaticAccountKeys: [][32]byte{[32]byte(tokenProgram)},
		Instructions: []deshred.CompiledInstruction{
			{ProgramIDIndex: 0, Data: data},
		},
		Meta: deshred.TransactionMeta{
			PostTokenBalances: []deshred.TokenBalance{
				{Mint: [32]byte(pk(9))},
			},
		},
	}

	d := New(nil, nil, 1)
	d.Register(tokenProgram, TokenProgramParser(systemProgram))

	out := d.DecodeTransaction(1, 0, tx)
	if len(out.Instructions) != 1 {
		t.Fatalf("expected 1 decoded instruction, got %d", len(out.Instructions))
	}
	got := out.Instructions[0]
	if got.Kind != KindTokenMintCreate {
		t.Fatalf("expected KindTokenMintCreate, got %v (%s)", got.Kind, got.UnknownReason)
	}
	if got.TokenMintCreate.Name != "Foo" || got.TokenMintCreate.Symbol != "FOO" || got.TokenMintCreate.URI != "ipfs://bar" {
		t.Fatalf("unexpected create fields: %+v", got.TokenMintCreate)
	}
	if got.TokenMintCreate.Mint != pk(9) {
		t.Fatalf("expected mint from first post-balance, got %x", got.TokenMintCreate.Mint)
	}
}

func TestAmmSwapExactInCorrelation(t *testing.T) {
	ammProgram := pk(3)
	tokenProgram := pk(4)
	user := pk(5)
	mintA := pk(6)
	mintB := pk(7)

	data := make([]byte, 17)
	data[0] = ammOpcodeSwapExactIn
	binary.LittleEndian.PutUint64(data[1:9], 1_000_000_000)
	binary.LittleEndian.PutUint64(data[9:17], 3)

	innerData := make([]byte, 9)
	innerData[0] = tokenProgramTransferOpcode
	binary.LittleEndian.PutUint64(innerData[1:9], 42_000_000)

	tx := deshred.Transaction{
		StaticAccountKeys: [][32]byte{[32]byte(ammProgram), [32]byte(tokenProgram), [32]byte(user)},
		Instructions: []deshred.CompiledInstruction{
			{ProgramIDIndex: 0, AccountIndexes: []uint8{2}, Data: data},
		},
		Meta: deshred.TransactionMeta{
			PreTokenBalances: []deshred.TokenBalance{
				{Mint: [32]byte(mintA), Owner: [32]byte(user), UIAmount: 5_000_000_000},
				{Mint: [32]byte(mintB), Owner: [32]byte(user), UIAmount: 0},
			},
			PostTokenBalances: []deshred.TokenBalance{
				{Mint: [32]byte(mintA), Owner: [32]byte(user), UIAmount: 4_000_000_000},
				{Mint: [32]byte(mintB), Owner: [32]byte(user), UIAmount: 42_000_000},
			},
			InnerInstructions: []deshred.InnerInstruction{
				{Index: 0, Instructions: []deshred.CompiledInstruction{
					{ProgramIDIndex: 1, Data: innerData},
				}},
			},
		},
	}

	d := New(nil, nil, 1)
	d.Register(ammProgram, AMMProgramParser(tokenProgram))

	out := d.DecodeTransaction(1, 0, tx)
	if len(out.Instructions) != 1 {
		t.Fatalf("expected 1 decoded instruction, got %d", len(out.Instructions))
	}
	got := out.Instructions[0]
	if got.Kind != KindAmmSwapExactIn {
		t.Fatalf("expected KindAmmSwapExactIn, got %v (%s)", got.Kind, got.UnknownReason)
	}
	sw := got.AmmSwapExactIn
	if sw.FromMint != mintA || sw.ToMint != mintB {
		t.Fatalf("unexpected mints: from=%x to=%x", sw.FromMint, sw.ToMint)
	}
	if sw.AmountIn != 1_000_000_000 || sw.AmountOut != 42_000_000 || sw.MinOut != 3 {
		t.Fatalf("unexpected amounts: %+v", sw)
	}
	if sw.User != user {
		t.Fatalf("unexpected user: %x", sw.User)
	}
}

func TestUnknownProgramYieldsUnknownInstruction(t *testing.T) {
	unregistered := pk(99)
	tx := deshred.Transaction{
		StaticAccountKeys: [][32]byte{[32]byte(unregistered)},
		Instructions:      []deshred.CompiledInstruction{{ProgramIDIndex: 0, Data: []byte{1, 2, 3}}},
	}
	d := New(nil, nil, 1)
	out := d.DecodeTransaction(1, 0, tx)
	if len(out.Instructions) != 1 || out.Instructions[0].Kind != KindUnknown {
		t.Fatalf("expected single Unknown instruction, got %+v", out.Instructions)
	}
}

func TestOutOfBoundsProgramIndexSkippedNotFatal(t *testing.T) {
	tx := deshred.Transaction{
		StaticAccountKeys: [][32]byte{[32]byte(pk(1))},
		Instructions: []deshred.CompiledInstruction{
			{ProgramIDIndex: 5, Data: []byte{1}}, // out of bounds
			{ProgramIDIndex: 0, Data: []byte{1}}, // unregistered but valid
		},
	}
	d := New(nil, nil, 1)
	out := d.DecodeTransaction(1, 0, tx)
	if len(out.Instructions) != 1 {
		t.Fatalf("expected the out-of-bounds instruction to be skipped silently, got %d instructions", len(out.Instructions))
	}
}

func TestAddressTableCacheServesFromCacheThenExpires(t *testing.T) {
	calls := 0
	fetcher := func(PublicKey) (AddressTable, error) {
		calls++
		return AddressTable{Writable: []PublicKey{pk(1)}}, nil
	}
	c, err := NewAddressTableCacheWithOptions(16, 0, fetcher)
	if err != nil {
		t.Fatal(err)
	}
	table, ok := c.Resolve(pk(1))
	if !ok || len(table.Writable) != 1 {
		t.Fatalf("expected resolve to succeed, got %+v ok=%v", table, ok)
	}
	// TTL of 0 means every read is treated as stale, so the second
	// resolve should refetch.
	if _, ok := c.Resolve(pk(1)); !ok {
		t.Fatal("expected second resolve to succeed via refetch")
	}
	if calls != 2 {
		t.Fatalf("expected 2 fetcher calls with zero TTL, got %d", calls)
	}
}
