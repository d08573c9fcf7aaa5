package app

import (
	"context"
	"strings"

	"github.com/sixoverme/cqec-os/internal/blip"
	"github.com/sixoverme/cqec-os/internal/bus"
	"github.com/sixoverme/cqec-os/internal/gadget"
	"github.com/sixoverme/cqec-os/internal/wave"
)

// VoteOnPoll toggles the acting user's vote for one option of a poll gadget.
// Whether a new selection clears the user's other selections is governed by
// the poll exclusivity setting.
func (s *Service) VoteOnPoll(ctx context.Context, voter, waveID, blipID, gadgetID, optionID string) (*wave.Wave, error) {
	return s.updateGadget(ctx, voter, waveID, blipID, gadgetID, func(g gadget.Gadget, userID string) (gadget.Gadget, error) {
		if g.Kind != gadget.KindPoll || g.Poll == nil {
			return g, notFound("poll gadget not found")
		}
		updated, ok := gadget.TogglePollVote(*g.Poll, optionID, userID, s.cfg.PollExclusive)
		if !ok {
			return g, notFound("poll option not found")
		}
		g.Poll = &updated
		return g, nil
	})
}

// VoteOnConsent records the acting user's consent/concern/objection on a
// consent gadget, replacing any prior vote they cast.
func (s *Service) VoteOnConsent(ctx context.Context, voter, waveID, blipID, gadgetID string, kind gadget.VoteKind, note string) (*wave.Wave, error) {
	switch kind {
	case gadget.VoteConsent, gadget.VoteConcern, gadget.VoteObjection:
	default:
		return nil, validationError("vote type must be consent, concern, or objection")
	}
	return s.updateGadget(ctx, voter, waveID, blipID, gadgetID, func(g gadget.Gadget, userID string) (gadget.Gadget, error) {
		if g.Kind != gadget.KindConsent || g.Consent == nil {
			return g, notFound("consent gadget not found")
		}
		updated := gadget.RecordConsentVote(*g.Consent, gadget.ConsentVote{
			UserID: userID,
			Kind:   kind,
			Note:   strings.TrimSpace(note),
		})
		g.Consent = &updated
		return g, nil
	})
}

func (s *Service) updateGadget(ctx context.Context, voter, waveID, blipID, gadgetID string, fn func(gadget.Gadget, string) (gadget.Gadget, error)) (*wave.Wave, error) {
	if voter == "" {
		return nil, privilegeDenied("no acting user")
	}
	s.mu.Lock()
	idx, current := s.findWaveLocked(waveID)
	if current == nil {
		s.mu.Unlock()
		return nil, notFound("wave not found")
	}
	node := blip.Find(current.Root, blipID)
	if node == nil {
		s.mu.Unlock()
		return nil, notFound("blip not found")
	}
	gadgetIdx := -1
	for i, g := range node.Gadgets {
		if g.ID == gadgetID {
			gadgetIdx = i
			break
		}
	}
	if gadgetIdx < 0 {
		s.mu.Unlock()
		return nil, notFound("gadget not found")
	}

	replaced, err := fn(node.Gadgets[gadgetIdx].Clone(), voter)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	newRoot := blip.Mutate(current.Root, blipID, func(b blip.Blip) blip.Blip {
		gadgets := make([]gadget.Gadget, len(b.Gadgets))
		copy(gadgets, b.Gadgets)
		gadgets[gadgetIdx] = replaced
		b.Gadgets = gadgets
		return b
	})
	if newRoot == current.Root {
		s.mu.Unlock()
		return nil, notFound("blip not found")
	}
	updated := current.Clone()
	updated.Root = newRoot
	s.waves[idx] = updated
	view := s.viewerCopyLocked(updated, voter)
	s.mu.Unlock()

	gadgets := blip.Find(newRoot, blipID).Gadgets
	payload := marshalJSON(gadgets)
	s.persist("record vote", "blips", bus.EventUpdate, func(ctx context.Context) error {
		return s.store.UpdateBlipGadgets(ctx, blipID, payload)
	})
	return view, nil
}
