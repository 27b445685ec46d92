package decode

import (
	"encoding/binary"

	"github.com/shredcore/shredstream/deshred"
	"github.com/shredcore/shredstream/log"
)

// ProgramParser decodes one instruction belonging to a specific program.
// ctx carries everything the parser needs that isn't in the instruction
// itself: resolved account keys, inner instructions, and balance
// records. Registering a new program means writing one of these and
// calling Decoder.Register — never subclassing.
type ProgramParser func(ctx *parseContext, ix deshred.CompiledInstruction) DecodedInstruction

// parseContext is assembled once per transaction and handed to every
// instruction's parser.
type parseContext struct {
	accountKeys []PublicKey
	tx          deshred.Transaction
}

func (c *parseContext) keyAt(idx uint8) (PublicKey, bool) {
	if int(idx) >= len(c.accountKeys) {
		return PublicKey{}, false
	}
	return c.accountKeys[idx], true
}

// Decoder dispatches compiled instructions to the ProgramParser
// registered for their program id, resolving address-table lookups and
// correlating balance deltas along the way.
type Decoder struct {
	log          *log.Logger
	parsers      map[PublicKey]ProgramParser
	addressTable *AddressTableCache
	detectToolID int

	ParseErrors uint64
}

func New(logger *log.Logger, addressTable *AddressTableCache, detectToolID int) *Decoder {
	return &Decoder{
		log:          logger,
		parsers:      make(map[PublicKey]ProgramParser),
		addressTable: addressTable,
		detectToolID: detectToolID,
	}
}

// Register adds a parser for programID. Calling Register again for the
// same programID replaces the previous parser.
func (d *Decoder) Register(programID PublicKey, parser ProgramParser) {
	d.parsers[programID] = parser
}

// DecodeEntry walks every transaction in entry and returns the typed
// results in entry order.
func (d *Decoder) DecodeEntry(slot uint64, entry deshred.Entry) []DecodedTransaction {
	out := make([]DecodedTransaction, 0, len(entry.Transactions))
	for i, tx := range entry.Transactions {
		out = append(out, d.DecodeTransaction(slot, i, tx))
	}
	return out
}

// DecodeTransaction resolves account keys, then dispatches each
// compiled instruction to its program's parser. An instruction whose
// program index is out of bounds is skipped; one its parser cannot
// decode is reported as Unknown. Neither is fatal to the transaction.
func (d *Decoder) DecodeTransaction(slot uint64, index int, tx deshred.Transaction) DecodedTransaction {
	out := DecodedTransaction{
		Slot:            slot,
		Index:           index,
		Fee:             tx.Meta.FeeLamports,
		RecentBlockHash: tx.RecentBlockHash,
		DetectToolID:    d.detectToolID,
	}
	if len(tx.Signatures) > 0 {
		out.Signature = tx.Signatures[0]
	}

	accountKeys := d.resolveAccountKeys(tx)
	ctx := &parseContext{accountKeys: accountKeys, tx: tx}

	for _, ix := range tx.Instructions {
		programKey, ok := ctx.keyAt(ix.ProgramIDIndex)
		if !ok {
			// Out-of-bounds program index: malformed but not fatal,
			// skip this one instruction silently.
			continue
		}
		parser, ok := d.parsers[programKey]
		if !ok {
			out.Instructions = append(out.Instructions, DecodedInstruction{Kind: KindUnknown})
			continue
		}
		out.Instructions = append(out.Instructions, parser(ctx, ix))
	}
	return out
}

// resolveAccountKeys concatenates the static keys with any resolved
// address-table lookups, in writable-then-readonly order, matching the
// on-chain account-ordering convention.
func (d *Decoder) resolveAccountKeys(tx deshred.Transaction) []PublicKey {
	keys := make([]PublicKey, 0, len(tx.StaticAccountKeys))
	for _, k := range tx.StaticAccountKeys {
		keys = append(keys, PublicKey(k))
	}
	if d.addressTable == nil {
		return keys
	}
	for _, lookup := range tx.AddressTableLookups {
		table, ok := d.addressTable.Resolve(PublicKey(lookup.AccountKey))
		if !ok {
			continue
		}
		for _, idx := range lookup.WritableIndexes {
			if int(idx) < len(table.Writable) {
				keys = append(keys, table.Writable[idx])
			}
		}
		for _, idx := range lookup.ReadonlyIndexes {
			if int(idx) < len(table.Readonly) {
				keys = append(keys, table.Readonly[idx])
			}
		}
	}
	return keys
}

// balanceDelta returns the change in UI amount for owner's holding of
// mint between pre and post balance lists. A record present on only
// one side is treated as a delta from/to zero; missing on both sides
// yields (0, false) so callers fall back to Unknown.
func balanceDelta(pre, post []deshred.TokenBalance, mint, owner PublicKey) (delta int64, ok bool) {
	find := func(list []deshred.TokenBalance) (deshred.TokenBalance, bool) {
		for _, b := range list {
			if PublicKey(b.Mint) == mint && PublicKey(b.Owner) == owner {
				return b, true
			}
		}
		return deshred.TokenBalance{}, false
	}
	preB, preOK := find(pre)
	postB, postOK := find(post)
	switch {
	case preOK && postOK:
		return int64(postB.UIAmount) - int64(preB.UIAmount), true
	case postOK && !preOK:
		return int64(postB.UIAmount), true
	case preOK && !postOK:
		return -int64(preB.UIAmount), true
	default:
		return 0, false
	}
}

// firstPostMint returns the mint of the first post-balance record, used
// by the create-instruction parser to identify the newly minted token.
func firstPostMint(tx deshred.Transaction) (PublicKey, bool) {
	n := len(tx.Meta.PreTokenBalances)
	if m := len(tx.Meta.PostTokenBalances); m < n {
		n = m
	}
	if len(tx.Meta.PostTokenBalances) == 0 {
		return PublicKey{}, false
	}
	return PublicKey(tx.Meta.PostTokenBalances[0].Mint), true
}

func readU64LE(b []byte) (uint64, bool) {
	if len(b) < 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

func readLengthPrefixedString(buf []byte, off int) (string, int, bool) {
	if off+4 > len(buf) {
		return "", off, false
	}
	n := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if n < 0 || off+n > len(buf) {
		return "", off, false
	}
	s := string(buf[off : off+n])
	off += n
	return s, off, true
}
