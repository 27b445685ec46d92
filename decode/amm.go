package decode

import "github.com/shredcore/shredstream/deshred"

// AMM instruction opcodes this parser recognizes.
const (
	ammOpcodeSwapExactIn  = 9
	ammOpcodeSwapExactOut = 11
)

// tokenProgramTransferOpcode is the SPL-token-program instruction tag
// for Transfer, used to find the counterpart leg of an AMM swap among
// inner instructions.
const tokenProgramTransferOpcode = 3

// AMMProgramParser builds a ProgramParser for a constant-product AMM
// program. tokenProgramID identifies the inner token-program whose
// Transfer instructions carry the counterpart amount.
func AMMProgramParser(tokenProgramID PublicKey) ProgramParser {
	return func(ctx *parseContext, ix deshred.CompiledInstruction) DecodedInstruction {
		if len(ix.Data) < 1 {
			return DecodedInstruction{Kind: KindUnknown, UnknownReason: "empty AMM instruction data"}
		}
		switch ix.Data[0] {
		case ammOpcodeSwapExactIn:
			return decodeSwapExactIn(ctx, ix, tokenProgramID)
		case ammOpcodeSwapExactOut:
			return decodeSwapExactOut(ctx, ix, tokenProgramID)
		default:
			return DecodedInstruction{Kind: KindUnknown, UnknownReason: "unrecognized AMM opcode"}
		}
	}
}

func decodeSwapExactIn(ctx *parseContext, ix deshred.CompiledInstruction, tokenProgramID PublicKey) DecodedInstruction {
	amountIn, bound, ok := decodeOpcodeAmounts(ix.Data)
	if !ok {
		return DecodedInstruction{Kind: KindUnknown, UnknownReason: "short swap-exact-in data"}
	}
	user, ok := ammUser(ctx, ix)
	if !ok {
		return DecodedInstruction{Kind: KindUnknown, UnknownReason: "could not resolve AMM user account"}
	}
	amountOut, ok := findCounterpartTransferAmount(ctx.tx, tokenProgramID, amountIn)
	if !ok {
		return DecodedInstruction{Kind: KindUnknown, UnknownReason: "no counterpart transfer found"}
	}
	fromMint, toMint, ok := fromToMints(ctx.tx, user)
	if !ok {
		return DecodedInstruction{Kind: KindUnknown, UnknownReason: "could not resolve swap mints from balances"}
	}
	return DecodedInstruction{
		Kind: KindAmmSwapExactIn,
		AmmSwapExactIn: &AmmSwapExactIn{
			FromMint:  fromMint,
			ToMint:    toMint,
			AmountIn:  amountIn,
			AmountOut: amountOut,
			MinOut:    bound,
			User:      user,
		},
	}
}

func decodeSwapExactOut(ctx *parseContext, ix deshred.CompiledInstruction, tokenProgramID PublicKey) DecodedInstruction {
	amountOut, bound, ok := decodeOpcodeAmounts(ix.Data)
	if !ok {
		return DecodedInstruction{Kind: KindUnknown, UnknownReason: "short swap-exact-out data"}
	}
	user, ok := ammUser(ctx, ix)
	if !ok {
		return DecodedInstruction{Kind: KindUnknown, UnknownReason: "could not resolve AMM user account"}
	}
	amountIn, ok := findCounterpartTransferAmount(ctx.tx, tokenProgramID, amountOut)
	if !ok {
		return DecodedInstruction{Kind: KindUnknown, UnknownReason: "no counterpart transfer found"}
	}
	fromMint, toMint, ok := fromToMints(ctx.tx, user)
	if !ok {
		return DecodedInstruction{Kind: KindUnknown, UnknownReason: "could not resolve swap mints from balances"}
	}
	return DecodedInstruction{
		Kind: KindAmmSwapExactOut,
		AmmSwapExactOut: &AmmSwapExactOut{
			FromMint:  fromMint,
			ToMint:    toMint,
			AmountIn:  amountIn,
			AmountOut: amountOut,
			MaxIn:     bound,
			User:      user,
		},
	}
}

// decodeOpcodeAmounts reads (amount, bound) as two little-endian u64s
// immediately following the 1-byte opcode.
func decodeOpcodeAmounts(data []byte) (amount, bound uint64, ok bool) {
	if len(data) < 17 {
		return 0, 0, false
	}
	amount, _ = readU64LE(data[1:9])
	bound, _ = readU64LE(data[9:17])
	return amount, bound, true
}

func ammUser(ctx *parseContext, ix deshred.CompiledInstruction) (PublicKey, bool) {
	if len(ix.AccountIndexes) == 0 {
		return PublicKey{}, false
	}
	return ctx.keyAt(ix.AccountIndexes[0])
}

// findCounterpartTransferAmount scans inner token-program Transfer
// instructions for one whose amount field differs from the opcode's
// own amount, returning the first such match.
func findCounterpartTransferAmount(tx deshred.Transaction, tokenProgramID PublicKey, opcodeAmount uint64) (uint64, bool) {
	for _, group := range tx.Meta.InnerInstructions {
		for _, inner := range group.Instructions {
			if int(inner.ProgramIDIndex) >= len(tx.StaticAccountKeys) {
				continue
			}
			if PublicKey(tx.StaticAccountKeys[inner.ProgramIDIndex]) != tokenProgramID {
				continue
			}
			if len(inner.Data) < 1 || inner.Data[0] != tokenProgramTransferOpcode {
				continue
			}
			amount, ok := readU64LE(inner.Data[1:])
			if !ok || amount == opcodeAmount {
				continue
			}
			return amount, true
		}
	}
	return 0, false
}

// fromToMints resolves from/to mints by the user's pre/post-balance
// mint labels: the mint that decreased is "from", the mint that
// increased is "to".
func fromToMints(tx deshred.Transaction, user PublicKey) (from, to PublicKey, ok bool) {
	n := len(tx.Meta.PreTokenBalances)
	if m := len(tx.Meta.PostTokenBalances); m < n {
		n = m
	}
	var foundFrom, foundTo bool
	for i := 0; i < n; i++ {
		pre, post := tx.Meta.PreTokenBalances[i], tx.Meta.PostTokenBalances[i]
		if PublicKey(post.Owner) != user {
			continue
		}
		delta := int64(post.UIAmount) - int64(pre.UIAmount)
		switch {
		case delta < 0 && !foundFrom:
			from = PublicKey(pre.Mint)
			foundFrom = true
		case delta > 0 && !foundTo:
			to = PublicKey(post.Mint)
			foundTo = true
		}
	}
	return from, to, foundFrom && foundTo
}
