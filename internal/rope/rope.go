// Package rope implements the immutable document content buffer shared by
// internal/shareddoc and internal/syntax. Transactions never mutate a Rope
// in place; they produce a new one, so concurrent readers never observe a
// partial write (spec §5, "Ropes are immutable-by-clone").
package rope

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/loomcode/loom/internal/wire"
)

// Rope is an immutable sequence of Unicode scalar values (runes). The
// zero value is the empty rope.
type Rope struct {
	text []rune
}

// New builds a Rope from a string.
func New(s string) Rope {
	return Rope{text: []rune(s)}
}

// Len returns the scalar (rune) length, matching spec's len_chars field.
func (r Rope) Len() int { return len(r.text) }

// String renders the full content.
func (r Rope) String() string { return string(r.text) }

// Slice returns the scalar range [start, end) as a string.
func (r Rope) Slice(start, end int) (string, error) {
	if start < 0 || end < start || end > len(r.text) {
		return "", fmt.Errorf("rope: slice [%d,%d) out of range (len=%d)", start, end, len(r.text))
	}
	return string(r.text[start:end]), nil
}

// Fingerprint computes the cheap content summary used throughout the spec
// for fast mismatch detection: a 64-bit content hash plus scalar length.
func (r Rope) Fingerprint() (hash64 uint64, lenChars uint64) {
	h := xxhash.New()
	// Hash the UTF-8 encoding; scalar length is tracked separately so two
	// ropes with the same bytes but (impossibly) different rune counts
	// can never be conflated.
	_, _ = h.WriteString(string(r.text))
	return h.Sum64(), uint64(len(r.text))
}

// Limits enforced on every accepted transaction, per spec §4.5.
const (
	MaxOps         = 100_000
	MaxInsertBytes = 8 * 1024 * 1024
)

// Apply validates tx against r and, if valid, returns the resulting Rope.
// Validation failures are reported as *wire.Error with Code InvalidDelta.
func (r Rope) Apply(tx wire.WireTx) (Rope, error) {
	if len(tx) > MaxOps {
		return Rope{}, wire.Errorf(wire.InvalidDelta, "transaction has %d ops, exceeds max %d", len(tx), MaxOps)
	}

	var insertedBytes int
	for _, op := range tx {
		if op.Kind == wire.OpInsert {
			insertedBytes += len(op.Text)
		}
	}
	if insertedBytes > MaxInsertBytes {
		return Rope{}, wire.Errorf(wire.InvalidDelta, "transaction inserts %d bytes, exceeds max %d", insertedBytes, MaxInsertBytes)
	}

	out := make([]rune, 0, len(r.text))
	pos := 0
	for _, op := range tx {
		switch op.Kind {
		case wire.OpRetain:
			end := pos + int(op.Len)
			if end > len(r.text) {
				return Rope{}, wire.Errorf(wire.InvalidDelta, "retain %d at %d exceeds rope length %d", op.Len, pos, len(r.text))
			}
			out = append(out, r.text[pos:end]...)
			pos = end
		case wire.OpDelete:
			end := pos + int(op.Len)
			if end > len(r.text) {
				return Rope{}, wire.Errorf(wire.InvalidDelta, "delete %d at %d exceeds rope length %d", op.Len, pos, len(r.text))
			}
			pos = end
		case wire.OpInsert:
			out = append(out, []rune(op.Text)...)
		default:
			return Rope{}, wire.Errorf(wire.InvalidDelta, "unknown op kind %q", op.Kind)
		}
	}
	if pos != len(r.text) {
		return Rope{}, wire.Errorf(wire.InvalidDelta, "transaction covers %d of %d runes", pos, len(r.text))
	}

	return Rope{text: out}, nil
}

// Invert returns the WireTx that undoes tx when applied to the rope that tx
// was produced against (r is the pre-edit rope, resulting the post-edit
// rope is not needed since invert only rewrites Insert<->Delete spans).
func (r Rope) Invert(tx wire.WireTx) wire.WireTx {
	inv := make(wire.WireTx, 0, len(tx))
	pos := 0
	for _, op := range tx {
		switch op.Kind {
		case wire.OpRetain:
			inv = append(inv, op)
			pos += int(op.Len)
		case wire.OpDelete:
			end := pos + int(op.Len)
			if end > len(r.text) {
				end = len(r.text)
			}
			inv = append(inv, wire.WireOp{Kind: wire.OpInsert, Text: string(r.text[pos:end])})
			pos = end
		case wire.OpInsert:
			inv = append(inv, wire.WireOp{Kind: wire.OpDelete, Len: uint32(len([]rune(op.Text)))})
		}
	}
	return inv
}
