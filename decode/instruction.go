// Package decode walks a decoded transaction's instructions: resolve
// address-table lookups, map program_id_index to a program public key,
// dispatch by program id, and emit typed DecodedInstruction variants.
package decode

// PublicKey is a 32-byte Solana-style public key.
type PublicKey [32]byte

// DecodedInstruction is a closed tagged union of instruction variants.
// New program support means adding a variant plus an entry in the
// program-id-to-parser map, never subclassing.
type DecodedInstruction struct {
	Kind InstructionKind

	TokenMintCreate *TokenMintCreate
	TokenBuy        *TokenBuy
	TokenSell       *TokenSell
	AmmSwapExactIn  *AmmSwapExactIn
	AmmSwapExactOut *AmmSwapExactOut
	SystemTransfer  *SystemTransfer
	TokenTransfer   *TokenTransfer

	// UnknownReason distinguishes "no parser registered for this
	// program" from "parser registered but this specific discriminator
	// isn't one we emit a typed event for".
	UnknownReason string
}

type InstructionKind int

const (
	KindUnknown InstructionKind = iota
	KindTokenMintCreate
	KindTokenBuy
	KindTokenSell
	KindAmmSwapExactIn
	KindAmmSwapExactOut
	KindSystemTransfer
	KindTokenTransfer
)

type TokenMintCreate struct {
	Name, Symbol, URI string
	Mint              PublicKey
}

type TokenBuy struct {
	Mint         PublicKey
	TokenAmount  uint64
	SolSpent     uint64
	SlippageCap  uint64
	User         PublicKey
}

type TokenSell struct {
	Mint          PublicKey
	TokenAmount   uint64
	SolReceived   uint64
	SlippageFloor uint64
	User          PublicKey
}

type AmmSwapExactIn struct {
	FromMint, ToMint PublicKey
	AmountIn         uint64
	AmountOut        uint64
	MinOut           uint64
	User             PublicKey
}

type AmmSwapExactOut struct {
	FromMint, ToMint PublicKey
	AmountIn         uint64
	AmountOut        uint64
	MaxIn            uint64
	User             PublicKey
}

type SystemTransfer struct {
	From, To PublicKey
	Lamports uint64
}

type TokenTransfer struct {
	Source, Destination PublicKey
	Amount               uint64
}

// DecodedTransaction is the per-transaction output of the decode
// pipeline.
type DecodedTransaction struct {
	Signature       [64]byte
	Slot             uint64
	Index            int
	Fee              uint64
	RecentBlockHash  [32]byte
	Instructions     []DecodedInstruction

	// DetectToolID threads through the per-tool timing correlation used
	// by the analytics sink.
	DetectToolID int
}
