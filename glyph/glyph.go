// Package glyph implements the symbolic boot-protocol grammar used to
// drive tri-node synchronization.
//
// A glyph sequence is valid when it starts at the entry glyph and every
// adjacent pair is a permitted transition: a glyph may repeat or advance
// to any later glyph in the canonical order, never move backwards. All
// operations are pure functions of their input.
package glyph

import (
	"fmt"
	"strings"
)

// Glyph is an atomic symbolic token in the boot grammar.
type Glyph string

// The fixed alphabet, in canonical boot order. Each glyph corresponds
// to a platonic solid in the source diagrams.
const (
	Structure Glyph = "structure" // Cube
	Logic     Glyph = "logic"     // Octahedron
	Emotion   Glyph = "emotion"   // Tetrahedron
	Transform Glyph = "transform" // Triangle
	Unity     Glyph = "unity"     // Dodecahedron
)

// Entry is the designated entry glyph; every valid sequence starts here.
const Entry = Structure

// canonical gives each glyph its position in the boot order. Transitions
// may hold position (repeat) or advance, never go backwards.
var canonical = map[Glyph]int{
	Structure: 0,
	Logic:     1,
	Emotion:   2,
	Transform: 3,
	Unity:     4,
}

// order is the canonical sequence, index-aligned with canonical.
var order = []Glyph{Structure, Logic, Emotion, Transform, Unity}

// tokens maps each glyph to its solid token.
var tokens = map[Glyph]string{
	Structure: "cube",
	Logic:     "octahedron",
	Emotion:   "tetrahedron",
	Transform: "triangle",
	Unity:     "dodecahedron",
}

// topics maps each glyph to the topic bucket whose subscribers act on it.
var topics = map[Glyph]string{
	Structure: "cog.structure",
	Logic:     "cog.logic",
	Emotion:   "cog.emotion",
	Transform: "cog.transform",
	Unity:     "sync.unity",
}

// Known reports whether s names a glyph in the alphabet.
func Known(s string) bool {
	_, ok := canonical[Glyph(s)]
	return ok
}

// Result is the outcome of sequence validation. Validation never
// returns an error; invalid sequences are reported, not raised.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
}

// Validate walks the sequence checking the entry glyph and every
// adjacent pair against the transition table. The first violation is
// named in the result.
func Validate(seq []string) Result {
	if len(seq) == 0 {
		return Result{Valid: false, Reason: "empty sequence"}
	}
	for _, s := range seq {
		if !Known(s) {
			return Result{Valid: false, Reason: fmt.Sprintf("unknown glyph %q", s)}
		}
	}
	if Glyph(seq[0]) != Entry {
		return Result{Valid: false, Reason: fmt.Sprintf("sequence must start at %q, got %q", Entry, seq[0])}
	}
	for i := 1; i < len(seq); i++ {
		from, to := Glyph(seq[i-1]), Glyph(seq[i])
		if canonical[to] < canonical[from] {
			return Result{Valid: false, Reason: fmt.Sprintf("illegal transition %s->%s", from, to)}
		}
	}
	return Result{Valid: true, Reason: "ok"}
}

// ProtocolError reports the violation that made a sequence invalid.
// From and To name the offending transition when one exists; for entry
// or alphabet violations they are empty.
type ProtocolError struct {
	From   Glyph
	To     Glyph
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.From != "" || e.To != "" {
		return fmt.Sprintf("protocol error: illegal transition %s->%s", e.From, e.To)
	}
	return "protocol error: " + e.Reason
}

// Interpretation is the derived meaning of a valid glyph sequence.
type Interpretation struct {
	// Tokens are the per-glyph solid tokens, in sequence order.
	Tokens []string `json:"tokens"`

	// Topics groups tokens into their topic buckets.
	Topics map[string][]string `json:"topics"`

	// Route lists topic names in first-occurrence order, describing
	// which handlers should act on the sequence and in what order.
	Route []string `json:"route"`
}

// Interpret maps a valid sequence to tokens, topic buckets and a
// handler route. Invalid sequences fail with a *ProtocolError; no
// partial interpretation is attempted. The mapping is deterministic.
func Interpret(seq []string) (*Interpretation, error) {
	if err := checkSequence(seq); err != nil {
		return nil, err
	}

	interp := &Interpretation{
		Tokens: make([]string, 0, len(seq)),
		Topics: make(map[string][]string),
	}
	seen := make(map[string]bool)
	for _, s := range seq {
		g := Glyph(s)
		token := tokens[g]
		topic := topics[g]
		interp.Tokens = append(interp.Tokens, token)
		interp.Topics[topic] = append(interp.Topics[topic], token)
		if !seen[topic] {
			seen[topic] = true
			interp.Route = append(interp.Route, topic)
		}
	}
	return interp, nil
}

// checkSequence is Validate with error reporting for Interpret.
func checkSequence(seq []string) error {
	if len(seq) == 0 {
		return &ProtocolError{Reason: "empty sequence"}
	}
	for _, s := range seq {
		if !Known(s) {
			return &ProtocolError{Reason: fmt.Sprintf("unknown glyph %q", s)}
		}
	}
	if Glyph(seq[0]) != Entry {
		return &ProtocolError{Reason: fmt.Sprintf("sequence must start at %q", Entry)}
	}
	for i := 1; i < len(seq); i++ {
		from, to := Glyph(seq[i-1]), Glyph(seq[i])
		if canonical[to] < canonical[from] {
			return &ProtocolError{From: from, To: to, Reason: "illegal transition"}
		}
	}
	return nil
}

// BootStep describes one stage of the canonical startup sequence.
type BootStep struct {
	Glyph Glyph  `json:"glyph"`
	Name  string `json:"name"`
	Index int    `json:"index"`
}

// bootNames are the display names from the boot diagrams.
var bootNames = map[Glyph]string{
	Structure: "Cube / Structure",
	Logic:     "Logic / Reasoning",
	Emotion:   "Emotion Engine",
	Transform: "Transform / Creativity",
	Unity:     "Unity / Integration",
}

// BootSteps returns the canonical startup sequence descriptors.
// Deterministic and stateless; intended for documentation and
// validation of client boot flows.
func BootSteps() []BootStep {
	steps := make([]BootStep, len(order))
	for i, g := range order {
		steps[i] = BootStep{Glyph: g, Name: bootNames[g], Index: i + 1}
	}
	return steps
}

// CanonicalSequence returns the full boot order as strings, useful for
// seeding clients and tests.
func CanonicalSequence() []string {
	out := make([]string, len(order))
	for i, g := range order {
		out[i] = string(g)
	}
	return out
}

// FormatSequence renders a sequence for logs and error messages.
func FormatSequence(seq []string) string {
	return strings.Join(seq, " -> ")
}
