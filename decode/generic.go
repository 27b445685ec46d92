package decode

import (
	"encoding/binary"

	"github.com/shredcore/shredstream/deshred"
)

// systemTransferOpcode is the System Program's native Transfer
// instruction tag (u32 little-endian 2, matching systemTransferPrefix).
const systemTransferOpcode = 2

// SystemProgramParser decodes the native lamport-transfer instruction;
// everything else on the system program yields Unknown.
func SystemProgramParser() ProgramParser {
	return func(ctx *parseContext, ix deshred.CompiledInstruction) DecodedInstruction {
		if len(ix.Data) < 12 {
			return DecodedInstruction{Kind: KindUnknown, UnknownReason: "short system-program instruction data"}
		}
		if binary.LittleEndian.Uint32(ix.Data[0:4]) != systemTransferOpcode {
			return DecodedInstruction{Kind: KindUnknown, UnknownReason: "unrecognized system-program instruction"}
		}
		lamports, _ := readU64LE(ix.Data[4:12])
		if len(ix.AccountIndexes) < 2 {
			return DecodedInstruction{Kind: KindUnknown, UnknownReason: "system transfer missing accounts"}
		}
		from, ok1 := ctx.keyAt(ix.AccountIndexes[0])
		to, ok2 := ctx.keyAt(ix.AccountIndexes[1])
		if !ok1 || !ok2 {
			return DecodedInstruction{Kind: KindUnknown, UnknownReason: "system transfer account index out of bounds"}
		}
		return DecodedInstruction{Kind: KindSystemTransfer, SystemTransfer: &SystemTransfer{From: from, To: to, Lamports: lamports}}
	}
}

// SPLTokenProgramParser decodes the standard SPL token Transfer
// instruction (opcode 3); other SPL token instructions are Unknown —
// this core only needs Transfer to correlate AMM swap legs and surface
// plain token movement.
func SPLTokenProgramParser() ProgramParser {
	return func(ctx *parseContext, ix deshred.CompiledInstruction) DecodedInstruction {
		if len(ix.Data) < 1 || ix.Data[0] != tokenProgramTransferOpcode {
			return DecodedInstruction{Kind: KindUnknown, UnknownReason: "unrecognized SPL token instruction"}
		}
		if len(ix.Data) < 9 {
			return DecodedInstruction{Kind: KindUnknown, UnknownReason: "short token transfer data"}
		}
		amount, _ := readU64LE(ix.Data[1:9])
		if len(ix.AccountIndexes) < 2 {
			return DecodedInstruction{Kind: KindUnknown, UnknownReason: "token transfer missing accounts"}
		}
		source, ok1 := ctx.keyAt(ix.AccountIndexes[0])
		dest, ok2 := ctx.keyAt(ix.AccountIndexes[1])
		if !ok1 || !ok2 {
			return DecodedInstruction{Kind: KindUnknown, UnknownReason: "token transfer account index out of bounds"}
		}
		return DecodedInstruction{Kind: KindTokenTransfer, TokenTransfer: &TokenTransfer{Source: source, Destination: dest, Amount: amount}}
	}
}
