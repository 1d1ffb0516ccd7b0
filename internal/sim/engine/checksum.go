package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"math"
	"sort"
)

// StateChecksum hashes the end-of-step simulation state: the step counter,
// the RNG state, every resource slot in index order, and the progression
// sub-state. Replay verification compares this against the recorded value, so
// the traversal order here must never depend on map iteration.
func StateChecksum(store *ResourceStore, prog *Progression, rng *SeededRand, step uint64) string {
	h := sha256.New()
	var tmp [8]byte

	checksumWriteU64(h, &tmp, step)
	if rng != nil {
		checksumWriteU64(h, &tmp, uint64(rng.State()))
	}

	checksumWriteU64(h, &tmp, uint64(store.Len()))
	for i := 0; i < store.Len(); i++ {
		io.WriteString(h, store.ID(i))
		checksumWriteF64(h, &tmp, store.Amount(i))
		checksumWriteF64(h, &tmp, store.Capacity(i))
		h.Write([]byte{boolByte(store.IsUnlocked(i)), boolByte(store.IsVisible(i))})
		binary.LittleEndian.PutUint32(tmp[:4], store.flags[i])
		h.Write(tmp[:4])
	}

	if prog != nil {
		checksumStringInts(h, &tmp, prog.owned)
		checksumStringFloats(h, &tmp, prog.rateMult)
		checksumStringBools(h, prog.autoEnabled)
		checksumStringU64s(h, &tmp, prog.autoLastFired)
		purchased := make([]string, 0, len(prog.purchased))
		for id := range prog.purchased {
			purchased = append(purchased, id)
		}
		sort.Strings(purchased)
		for _, id := range purchased {
			io.WriteString(h, id)
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

func checksumWriteU64(h io.Writer, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func checksumWriteF64(h io.Writer, tmp *[8]byte, v float64) {
	checksumWriteU64(h, tmp, math.Float64bits(v))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func checksumStringInts(h io.Writer, tmp *[8]byte, m map[string]int) {
	for _, k := range sortedIntKeys(m) {
		io.WriteString(h, k)
		checksumWriteU64(h, tmp, uint64(int64(m[k])))
	}
}

func checksumStringFloats(h io.Writer, tmp *[8]byte, m map[string]float64) {
	for _, k := range sortedKeys(m) {
		io.WriteString(h, k)
		checksumWriteF64(h, tmp, m[k])
	}
}

func checksumStringBools(h io.Writer, m map[string]bool) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		io.WriteString(h, k)
		h.Write([]byte{boolByte(m[k])})
	}
}

func checksumStringU64s(h io.Writer, tmp *[8]byte, m map[string]uint64) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		io.WriteString(h, k)
		checksumWriteU64(h, tmp, m[k])
	}
}

func sortedIntKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
