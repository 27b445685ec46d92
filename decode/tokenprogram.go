package decode

import "github.com/shredcore/shredstream/deshred"

// systemTransferPrefix identifies the inner-instruction shape used to
// attribute lamport movement for buy/sell: scan inner instructions for
// a sentinel (program, prefix) and decode a lamport field at a fixed
// offset. The system program's native Transfer instruction is:
// program = SystemProgramID, data = u32(2) || u64(lamports) — prefix
// is the 4-byte instruction-index LE encoding.
var systemTransferPrefix = [4]byte{2, 0, 0, 0}

const lamportFieldOffset = 4

// TokenProgramParser builds a ProgramParser for the target
// launchpad-style token program. systemProgramID identifies the
// program whose inner instructions carry the lamport sentinel.
func TokenProgramParser(systemProgramID PublicKey) ProgramParser {
	return func(ctx *parseContext, ix deshred.CompiledInstruction) DecodedInstruction {
		disc, ok := discriminatorOf(ix.Data)
		if !ok {
			return DecodedInstruction{Kind: KindUnknown, UnknownReason: "instruction data shorter than discriminator"}
		}
		name, known := knownDiscriminators[disc]
		if !known {
			return DecodedInstruction{Kind: KindUnknown, UnknownReason: "unrecognized discriminator"}
		}

		switch name {
		case "buy":
			return decodeBuy(ctx, ix, systemProgramID)
		case "sell":
			return decodeSell(ctx, ix, systemProgramID)
		case "create":
			return decodeCreate(ctx, ix)
		default:
			// setparams / initialize / withdraw: recognized but not
			// surfaced as a typed event.
			return DecodedInstruction{Kind: KindUnknown, UnknownReason: "recognized but unmodeled instruction: " + name}
		}
	}
}

func decodeBuy(ctx *parseContext, ix deshred.CompiledInstruction, systemProgramID PublicKey) DecodedInstruction {
	amount, solBound, ok := decodeAmountAndBound(ix.Data)
	if !ok {
		return DecodedInstruction{Kind: KindUnknown, UnknownReason: "short buy instruction data"}
	}
	mint, user, ok := mintAndUserForTrade(ctx, ix)
	if !ok {
		return DecodedInstruction{Kind: KindUnknown, UnknownReason: "could not resolve mint/user accounts"}
	}
	solSpent, ok := scanLamportSentinel(ctx.tx, systemProgramID)
	if !ok {
		solSpent = solBound
	}
	return DecodedInstruction{
		Kind: KindTokenBuy,
		TokenBuy: &TokenBuy{
			Mint:        mint,
			TokenAmount: amount,
			SolSpent:    solSpent,
			SlippageCap: solBound,
			User:        user,
		},
	}
}

func decodeSell(ctx *parseContext, ix deshred.CompiledInstruction, systemProgramID PublicKey) DecodedInstruction {
	amount, solBound, ok := decodeAmountAndBound(ix.Data)
	if !ok {
		return DecodedInstruction{Kind: KindUnknown, UnknownReason: "short sell instruction data"}
	}
	mint, user, ok := mintAndUserForTrade(ctx, ix)
	if !ok {
		return DecodedInstruction{Kind: KindUnknown, UnknownReason: "could not resolve mint/user accounts"}
	}
	solReceived, ok := scanLamportSentinel(ctx.tx, systemProgramID)
	if !ok {
		solReceived = solBound
	}
	return DecodedInstruction{
		Kind: KindTokenSell,
		TokenSell: &TokenSell{
			Mint:          mint,
			TokenAmount:   amount,
			SolReceived:   solReceived,
			SlippageFloor: solBound,
			User:          user,
		},
	}
}

// decodeAmountAndBound parses (amount_u64, sol_bound_u64) from the
// bytes following the 8-byte discriminator.
func decodeAmountAndBound(data []byte) (amount, bound uint64, ok bool) {
	if len(data) < 24 {
		return 0, 0, false
	}
	amount, _ = readU64LE(data[8:16])
	bound, _ = readU64LE(data[16:24])
	return amount, bound, true
}

// mintAndUserForTrade resolves the trade's user and mint. The user is
// taken to be the first account referenced by the instruction (the
// conventional signer/authority slot in this program's account
// ordering). The mint is that of the first post-balance record owned by
// the user, or failing that the first such pre-balance record, looking
// only at the common prefix of the two lists. Neither the instruction's
// amount nor the size of the user's balance change is consulted, so a
// user holding several mints gets the first one listed.
func mintAndUserForTrade(ctx *parseContext, ix deshred.CompiledInstruction) (mint, user PublicKey, ok bool) {
	if len(ix.AccountIndexes) == 0 {
		return PublicKey{}, PublicKey{}, false
	}
	user, ok = ctx.keyAt(ix.AccountIndexes[0])
	if !ok {
		return PublicKey{}, PublicKey{}, false
	}
	pre, post := ctx.tx.Meta.PreTokenBalances, ctx.tx.Meta.PostTokenBalances
	n := len(pre)
	if len(post) < n {
		n = len(post)
	}
	for i := 0; i < n; i++ {
		if PublicKey(post[i].Owner) == user {
			return PublicKey(post[i].Mint), user, true
		}
	}
	for i := 0; i < n; i++ {
		if PublicKey(pre[i].Owner) == user {
			return PublicKey(pre[i].Mint), user, true
		}
	}
	return PublicKey{}, PublicKey{}, false
}

// scanLamportSentinel walks every inner-instruction group looking for
// the system-program transfer sentinel and decodes the lamport field at
// its fixed offset.
func scanLamportSentinel(tx deshred.Transaction, systemProgramID PublicKey) (uint64, bool) {
	for _, group := range tx.Meta.InnerInstructions {
		for _, inner := range group.Instructions {
			if int(inner.ProgramIDIndex) >= len(tx.StaticAccountKeys) {
				continue
			}
			if PublicKey(tx.StaticAccountKeys[inner.ProgramIDIndex]) != systemProgramID {
				continue
			}
			if len(inner.Data) < 4 || [4]byte(inner.Data[:4]) != systemTransferPrefix {
				continue
			}
			if lamports, ok := readU64LE(inner.Data[lamportFieldOffset:]); ok {
				return lamports, true
			}
		}
	}
	return 0, false
}

func decodeCreate(ctx *parseContext, ix deshred.CompiledInstruction) DecodedInstruction {
	off := 8 // past discriminator
	name, off, ok := readLengthPrefixedString(ix.Data, off)
	if !ok {
		return DecodedInstruction{Kind: KindUnknown, UnknownReason: "bad create name field"}
	}
	symbol, off, ok := readLengthPrefixedString(ix.Data, off)
	if !ok {
		return DecodedInstruction{Kind: KindUnknown, UnknownReason: "bad create symbol field"}
	}
	uri, _, ok := readLengthPrefixedString(ix.Data, off)
	if !ok {
		return DecodedInstruction{Kind: KindUnknown, UnknownReason: "bad create uri field"}
	}
	mint, ok := firstPostMint(ctx.tx)
	if !ok {
		return DecodedInstruction{Kind: KindUnknown, UnknownReason: "no post-balance mint for create"}
	}
	return DecodedInstruction{
		Kind: KindTokenMintCreate,
		TokenMintCreate: &TokenMintCreate{
			Name:   name,
			Symbol: symbol,
			URI:    uri,
			Mint:   mint,
		},
	}
}
