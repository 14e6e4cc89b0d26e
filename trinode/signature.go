package trinode

import (
	"fmt"
	"sort"
)

// Signature is a compact 5-value glyphic signature of a field map,
// keyed to (structure, logic, emotion, transform, unity). Deterministic
// for a given map and cheap to compare across agents.
type Signature [5]int

// signatureSeeds are the accumulator start values, one per glyph lane.
var signatureSeeds = [5]int{17, 31, 73, 127, 191}

// ComputeSignature derives the glyphic signature of arbitrary agent
// state. Keys are serialized in sorted order so the result is stable
// regardless of map iteration.
func ComputeSignature(fields map[string]any) Signature {
	items := make([][2]string, 0, len(fields))
	for k, v := range fields {
		items = append(items, [2]string{k, fmt.Sprintf("%v", v)})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i][0] != items[j][0] {
			return items[i][0] < items[j][0]
		}
		return items[i][1] < items[j][1]
	})

	acc := signatureSeeds
	for i, item := range items {
		s := fmt.Sprintf("%s:%s|%d", item[0], item[1], i)
		j := 0
		for _, ch := range s {
			acc[j%5] = (acc[j%5]*131 + int(ch)) % 257
			j++
		}
	}
	return acc
}

// Slice returns the signature as a plain int slice for payloads.
func (s Signature) Slice() []int {
	return []int{s[0], s[1], s[2], s[3], s[4]}
}
