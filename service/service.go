// Package service is the middle layer tying the event bus, the
// tri-node session and the glyphic protocol together behind one façade
// consumed by the stream gateway and the CLI.
package service

import (
	"context"

	"github.com/sentinelprime/synckit/bus"
	"github.com/sentinelprime/synckit/errors"
	"github.com/sentinelprime/synckit/glyph"
	"github.com/sentinelprime/synckit/logging"
	"github.com/sentinelprime/synckit/telemetry"
	"github.com/sentinelprime/synckit/trinode"
)

// Service wraps the sync core with logging and tracing.
type Service struct {
	bus     bus.Bus
	session *trinode.Session
	log     *logging.Logger
}

// New creates a service over the given bus.
func New(b bus.Bus, log *logging.Logger) *Service {
	if log == nil {
		log = logging.New()
	}
	return &Service{
		bus:     b,
		session: trinode.NewSession(b, log),
		log:     log.WithComponent("service"),
	}
}

// Bus returns the underlying event bus, for subscribers.
func (s *Service) Bus() bus.Bus {
	return s.bus
}

// Session returns the tri-node session.
func (s *Service) Session() *trinode.Session {
	return s.session
}

// SyncUpdate merges a state patch for a role and returns the new
// session version.
func (s *Service) SyncUpdate(ctx context.Context, role string, fields map[string]any) (uint64, error) {
	_, span := telemetry.GetTracer().StartPatchSpan(ctx, role)
	version, err := s.session.ApplyPatch(role, fields)
	telemetry.GetTracer().EndPatchSpan(span, version, err)
	if err != nil {
		s.log.PatchRejected(role, err.Error())
	}
	return version, err
}

// SyncSnapshot returns a point-in-time copy of the session state.
func (s *Service) SyncSnapshot() trinode.Snapshot {
	return s.session.Snapshot()
}

// TriNode reports each role's description and presence.
func (s *Service) TriNode() map[trinode.Role]trinode.RoleStatus {
	return s.session.TriNodeStatus()
}

// ResetToken issues a confirmation token for Reinitialize.
func (s *Service) ResetToken() string {
	return s.session.ResetToken()
}

// Reinitialize clears all session state. The token must be one
// previously issued by ResetToken.
func (s *Service) Reinitialize(ctx context.Context, token string) (uint64, error) {
	_, span := telemetry.GetTracer().StartResetSpan(ctx, s.session.ID())
	version, err := s.session.Reinitialize(token)
	telemetry.GetTracer().EndSpan(span, err)
	return version, err
}

// ValidateSequence checks a glyph sequence against the boot grammar.
// It reports, it never fails.
func (s *Service) ValidateSequence(seq []string) glyph.Result {
	return glyph.Validate(seq)
}

// InterpretSequence derives tokens, topic buckets and a handler route
// from a valid glyph sequence.
func (s *Service) InterpretSequence(ctx context.Context, seq []string) (*glyph.Interpretation, error) {
	_, span := telemetry.GetTracer().StartInterpretSpan(ctx, len(seq))
	interp, err := glyph.Interpret(seq)
	telemetry.GetTracer().EndSpan(span, err)
	if err != nil {
		return nil, errors.Protocol(err.Error(), errors.WithCause(err))
	}
	return interp, nil
}

// BootSequence returns the canonical startup step descriptors.
func (s *Service) BootSequence() []glyph.BootStep {
	return glyph.BootSteps()
}

// PublishIntent publishes free-form cognition activity under the
// cog.intent namespace. The core never interprets the payload.
func (s *Service) PublishIntent(topic string, payload map[string]any) (*bus.Event, error) {
	if topic == "" {
		topic = "cog.intent"
	}
	if !bus.MatchTopic("cog.*", topic) {
		return nil, errors.InvalidInput("intent topics must be under cog.")
	}
	return s.bus.Publish(topic, payload)
}

// BusStatus returns bus delivery counters.
func (s *Service) BusStatus() bus.Status {
	return s.bus.Status()
}
