package decode

import "crypto/sha256"

// Discriminator is the first 8 bytes of SHA-256("global:" + name), used
// to identify an Anchor-style instruction variant.
type Discriminator [8]byte

// ComputeDiscriminator computes the 8-byte instruction discriminator for name.
func ComputeDiscriminator(name string) Discriminator {
	sum := sha256.Sum256([]byte("global:" + name))
	var d Discriminator
	copy(d[:], sum[:8])
	return d
}

// knownInstructionNames is the target token program's full instruction
// taxonomy, kept complete even though only buy/sell/create currently
// produce a typed event.
var knownInstructionNames = []string{"buy", "sell", "create", "setparams", "initialize", "withdraw"}

// knownDiscriminators maps a computed discriminator back to its name,
// built once at package init.
var knownDiscriminators = func() map[Discriminator]string {
	m := make(map[Discriminator]string, len(knownInstructionNames))
	for _, name := range knownInstructionNames {
		m[ComputeDiscriminator(name)] = name
	}
	return m
}()

func discriminatorOf(data []byte) (Discriminator, bool) {
	if len(data) < 8 {
		return Discriminator{}, false
	}
	var d Discriminator
	copy(d[:], data[:8])
	return d, true
}
