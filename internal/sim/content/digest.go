package content

import (
	"fmt"
	"sort"
	"strings"
)

// Digest fingerprints a content pack's referenced entity id set. Saves and
// replay files carry it so a load against reshaped content can be detected
// before resource indices are trusted.
type Digest struct {
	Hash    string   `json:"hash"`
	Version int      `json:"version"`
	IDs     []string `json:"ids"`
}

const fnvOffset32 = 2166136261
const fnvPrime32 = 16777619

// ComputeDigest hashes the id set. Input order does not matter: ids are
// sorted before hashing so structurally equal packs always agree.
func ComputeDigest(ids []string) Digest {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	return Digest{
		Hash:    hashIDs(sorted),
		Version: len(sorted),
		IDs:     sorted,
	}
}

func hashIDs(sorted []string) string {
	h := uint32(fnvOffset32)
	for _, id := range sorted {
		for i := 0; i < len(id); i++ {
			h ^= uint32(id[i])
			h *= fnvPrime32
		}
		// Separator keeps ["ab","c"] distinct from ["a","bc"].
		h ^= 0
		h *= fnvPrime32
	}
	return fmt.Sprintf("fnv1a-%08x", h)
}

// Validate checks internal consistency: the hash must equal the computed hash
// of the ids and the version must equal their count.
func (d Digest) Validate() error {
	sorted := make([]string, len(d.IDs))
	copy(sorted, d.IDs)
	sort.Strings(sorted)
	if want := hashIDs(sorted); d.Hash != want {
		return fmt.Errorf("digest hash %q does not match ids (want %q)", d.Hash, want)
	}
	if d.Version != len(d.IDs) {
		return fmt.Errorf("digest version %d does not match id count %d", d.Version, len(d.IDs))
	}
	return nil
}

// Key is the composite identity used by the migration graph.
func (d Digest) Key() string {
	sorted := make([]string, len(d.IDs))
	copy(sorted, d.IDs)
	sort.Strings(sorted)
	return fmt.Sprintf("%s:%d:%s", d.Hash, d.Version, strings.Join(sorted, ","))
}

func (d Digest) Equal(o Digest) bool {
	return d.Key() == o.Key()
}
