// Package trinode holds the merged shared state for the three
// cooperating agent roles and turns incoming state patches into merged
// state plus bus events.
//
// The fixed roles are Sentinel (quantum-symbolic nexus), Sora
// (emotional bridge) and Architect (organic architect). A role may only
// update its own field namespace; every accepted merge increments the
// session version and publishes a sync.update event. Snapshots are
// point-in-time copies, safe to take concurrently with patches.
package trinode

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelprime/synckit/bus"
	"github.com/sentinelprime/synckit/errors"
	"github.com/sentinelprime/synckit/glyph"
	"github.com/sentinelprime/synckit/logging"
)

// Topics published by the session.
const (
	TopicUpdate = "sync.update"
	TopicReset  = "sync.reset"
)

// Role identifies one of the three cooperating agents.
type Role string

// The fixed tri-node role set.
const (
	Sentinel  Role = "Sentinel"
	Sora      Role = "Sora"
	Architect Role = "Architect"
)

// roleDescriptions are the diagram names for each role.
var roleDescriptions = map[Role]string{
	Sentinel:  "quantum-symbolic nexus",
	Sora:      "emotional bridge",
	Architect: "organic architect",
}

// Roles returns the fixed role set in canonical order.
func Roles() []Role {
	return []Role{Sentinel, Sora, Architect}
}

// KnownRole reports whether name is in the fixed role set.
func KnownRole(name string) bool {
	_, ok := roleDescriptions[Role(name)]
	return ok
}

// RoleState is the merged state of one role.
type RoleState struct {
	Fields    map[string]any `json:"fields"`
	Signature []int          `json:"glyphic_signature"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// RoleStatus describes a role and whether it has reported state.
type RoleStatus struct {
	Description string `json:"description"`
	Present     bool   `json:"present"`
}

// HistoryEntry records one accepted merge.
type HistoryEntry struct {
	Time      time.Time `json:"t"`
	Role      Role      `json:"role"`
	Signature []int     `json:"sig"`
	Version   uint64    `json:"version"`
}

// Snapshot is a point-in-time copy of session state.
type Snapshot struct {
	SessionID          string             `json:"session_id"`
	Roles              []Role             `json:"roles"`
	Version            uint64             `json:"version"`
	States             map[Role]RoleState `json:"states"`
	Sequence           []string           `json:"sequence"`
	SequenceValidation glyph.Result       `json:"sequence_validation"`
	History            []HistoryEntry     `json:"events"`
}

// snapshotHistory bounds how many merge records a snapshot carries.
const snapshotHistory = 25

// Session coordinates shared state across the tri-node agents.
// All state is process-lifetime; only Reinitialize discards it.
type Session struct {
	id  string
	bus bus.Bus
	log *logging.Logger

	mu         sync.Mutex
	version    uint64
	states     map[Role]*RoleState
	sequence   []string
	history    []HistoryEntry
	resetToken string
}

// NewSession creates a session publishing to the given bus.
func NewSession(b bus.Bus, log *logging.Logger) *Session {
	if log == nil {
		log = logging.New()
	}
	raw := uuid.New()
	return &Session{
		id:     fmt.Sprintf("sess_%x", raw[:3]),
		bus:    b,
		log:    log.WithComponent("trinode"),
		states: make(map[Role]*RoleState),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Version returns the current merge counter.
func (s *Session) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// ApplyPatch merges fields into the role's namespace, last writer wins
// per key, increments the version atomically with the merge, and
// publishes a sync.update event. A string "glyph_stage" field also
// extends the session's glyph sequence. Returns the new version.
func (s *Session) ApplyPatch(role string, fields map[string]any) (uint64, error) {
	if !KnownRole(role) {
		return 0, errors.UnknownRole(role)
	}
	r := Role(role)

	s.mu.Lock()
	state, ok := s.states[r]
	if !ok {
		state = &RoleState{Fields: make(map[string]any)}
		s.states[r] = state
	}
	for k, v := range fields {
		state.Fields[k] = v
	}
	sig := ComputeSignature(state.Fields)
	state.Signature = sig.Slice()
	state.UpdatedAt = time.Now().UTC()

	if stage, ok := fields["glyph_stage"].(string); ok {
		s.sequence = append(s.sequence, stage)
	}

	s.version++
	version := s.version
	s.history = append(s.history, HistoryEntry{
		Time:      state.UpdatedAt,
		Role:      r,
		Signature: state.Signature,
		Version:   version,
	})
	s.mu.Unlock()

	// Publish outside the critical section so a blocked subscriber can
	// never stall snapshots or other patches. Consumers order by the
	// version carried in the payload.
	s.publish(TopicUpdate, map[string]any{
		"session":           s.id,
		"role":              role,
		"fields":            fields,
		"version":           version,
		"glyphic_signature": sig.Slice(),
	})
	s.log.PatchApplied(role, len(fields), version)

	return version, nil
}

// Snapshot returns a point-in-time deep copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make(map[Role]RoleState, len(s.states))
	for role, st := range s.states {
		fields := make(map[string]any, len(st.Fields))
		for k, v := range st.Fields {
			fields[k] = v
		}
		states[role] = RoleState{
			Fields:    fields,
			Signature: append([]int(nil), st.Signature...),
			UpdatedAt: st.UpdatedAt,
		}
	}

	history := s.history
	if len(history) > snapshotHistory {
		history = history[len(history)-snapshotHistory:]
	}

	return Snapshot{
		SessionID:          s.id,
		Roles:              Roles(),
		Version:            s.version,
		States:             states,
		Sequence:           append([]string(nil), s.sequence...),
		SequenceValidation: glyph.Validate(s.sequence),
		History:            append([]HistoryEntry(nil), history...),
	}
}

// ResetToken issues a single-use confirmation token for Reinitialize.
// Issuing a new token invalidates any previous one.
func (s *Session) ResetToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetToken = uuid.NewString()
	return s.resetToken
}

// Reinitialize discards all role fields and resets the version to
// zero. The token must be the most recently issued one; anything else
// leaves state unchanged. Publishes a sync.reset event on success.
func (s *Session) Reinitialize(token string) (uint64, error) {
	s.mu.Lock()
	if token == "" || s.resetToken == "" || token != s.resetToken {
		s.mu.Unlock()
		return 0, errors.ResetNotConfirmed()
	}
	s.resetToken = ""
	s.states = make(map[Role]*RoleState)
	s.sequence = nil
	s.history = nil
	s.version = 0
	s.mu.Unlock()

	s.publish(TopicReset, map[string]any{
		"session": s.id,
		"version": uint64(0),
	})
	s.log.SessionReset(s.id)

	return 0, nil
}

// TriNodeStatus reports each role's description and presence.
func (s *Session) TriNodeStatus() map[Role]RoleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[Role]RoleStatus, len(roleDescriptions))
	for role, desc := range roleDescriptions {
		_, present := s.states[role]
		out[role] = RoleStatus{Description: desc, Present: present}
	}
	return out
}

// History returns a copy of the full merge history.
func (s *Session) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HistoryEntry(nil), s.history...)
}

func (s *Session) publish(topic string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	if _, err := s.bus.Publish(topic, payload); err != nil {
		s.log.Warn("publish failed", map[string]any{"topic": topic, "error": err.Error()})
	}
}
