package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sixoverme/cqec-os/internal/blip"
	"github.com/sixoverme/cqec-os/internal/bus"
	"github.com/sixoverme/cqec-os/internal/registry"
	"github.com/sixoverme/cqec-os/internal/store"
	"github.com/sixoverme/cqec-os/internal/util"
	"github.com/sixoverme/cqec-os/internal/wave"
)

// RatifyProposal executes a proposal's side effects and marks it
// implemented. Only an active proposal transitions; ratifying again is a
// no-op returning the current state, so the call is idempotent.
//
// Registry effects are applied before the system blip is persisted and are
// not rolled back if that persistence fails; a created circle or role
// assignment survives a lost ratification message.
func (s *Service) RatifyProposal(ctx context.Context, ratifier, waveID string) (*wave.Wave, error) {
	if ratifier == "" {
		return nil, privilegeDenied("no acting user")
	}
	s.mu.Lock()
	idx, current := s.findWaveLocked(waveID)
	if current == nil {
		s.mu.Unlock()
		return nil, notFound("wave not found")
	}
	if current.Proposal == nil {
		s.mu.Unlock()
		return nil, validationError("wave is not a proposal")
	}
	if current.Proposal.Status != wave.StatusActive {
		view := s.viewerCopyLocked(current, ratifier)
		s.mu.Unlock()
		return view, nil
	}

	now := time.Now()
	meta := *current.Proposal

	var registryWrites []func(ctx context.Context) error
	var message string

	switch meta.Type {
	case wave.ProposalCircleCreation:
		domain := registry.Domain{
			ID:          util.NewID("domain"),
			Name:        meta.Payload.CircleName,
			Description: meta.Payload.Description,
			ParentID:    meta.Payload.ParentDomainID,
		}
		if err := s.registry.AddDomain(domain); err != nil {
			s.mu.Unlock()
			if errors.Is(err, registry.ErrUnknownParent) {
				return nil, notFound("parent domain not found")
			}
			return nil, fmt.Errorf("create circle: %w", err)
		}
		// the new circle becomes the active navigation context
		s.view.DomainID = domain.ID
		registryWrites = append(registryWrites, func(ctx context.Context) error {
			return s.store.InsertDomain(ctx, store.DomainRow{
				ID:          domain.ID,
				Name:        domain.Name,
				Color:       domain.Color,
				Description: domain.Description,
				ParentID:    domain.ParentID,
			})
		})
		message = fmt.Sprintf("**Proposal Ratified**: Circle %q has been created.", domain.Name)

	case wave.ProposalRoleAssignment:
		role, created := s.registry.UpsertRoleHolder(
			meta.Payload.RoleName,
			current.DomainID,
			meta.Payload.Description,
			meta.Payload.NomineeID,
		)
		if created {
			registryWrites = append(registryWrites, func(ctx context.Context) error {
				return s.store.InsertRole(ctx, store.RoleRow{
					ID:          role.ID,
					Name:        role.Name,
					DomainID:    role.DomainID,
					Description: role.Description,
					HolderIDs:   role.HolderIDs,
					TermEnd:     role.TermEnd,
				})
			})
		} else {
			holders := append([]string(nil), role.HolderIDs...)
			registryWrites = append(registryWrites, func(ctx context.Context) error {
				return s.store.UpdateRoleHolders(ctx, role.ID, holders)
			})
		}
		message = fmt.Sprintf("**Proposal Ratified**: %s now holds the role %q.",
			s.profileNameLocked(meta.Payload.NomineeID), role.Name)

	case wave.ProposalOperational, wave.ProposalFinancial:
		// message-only, no registry side effect
		message = "**Proposal Ratified**: This proposal has been marked as implemented."

	default:
		message = "**Proposal Ratified**: This proposal has been marked as implemented."
	}

	systemBlip := &blip.Blip{
		ID:        util.NewID("blip"),
		AuthorID:  s.cfg.SystemAuthorID,
		Content:   message,
		Timestamp: now,
	}
	rootID := current.Root.ID
	newRoot := blip.InsertChild(current.Root, rootID, systemBlip)
	if newRoot == current.Root {
		s.mu.Unlock()
		return nil, malformedTree("proposal wave has no root blip")
	}

	meta.Status = wave.StatusImplemented
	updated := current.Clone()
	updated.Root = newRoot
	updated.Proposal = &meta
	updated.LastActivity = now
	s.waves[idx] = updated
	view := s.viewerCopyLocked(updated, ratifier)
	s.mu.Unlock()

	metaJSON := marshalJSON(meta)
	s.runAsync(func(ctx context.Context) {
		for _, write := range registryWrites {
			if err := write(ctx); err != nil {
				log.Printf("persist ratify registry effect: %v", err)
			}
		}

		row := blipRowFrom(waveID, rootID, systemBlip)
		if err := s.store.InsertBlip(ctx, row); err != nil {
			// degrade: re-attribute the message to the ratifying user
			// rather than losing the ratification record
			log.Printf("persist ratify blip as %s: %v; re-attributing to %s",
				row.AuthorID, err, ratifier)
			row.AuthorID = ratifier
			if err := s.store.InsertBlip(ctx, row); err != nil {
				log.Printf("persist ratify blip: %v", err)
			} else {
				s.reattributeBlip(waveID, systemBlip.ID, ratifier)
			}
		}

		if err := s.store.UpdateWaveProposal(ctx, waveID, metaJSON, now); err != nil {
			log.Printf("persist ratify status: %v", err)
			return
		}
		s.notify(ctx, "waves", bus.EventUpdate)
	})
	return view, nil
}

func (s *Service) reattributeBlip(waveID, blipID, authorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, current := s.findWaveLocked(waveID)
	if current == nil {
		return
	}
	newRoot := blip.Mutate(current.Root, blipID, func(b blip.Blip) blip.Blip {
		b.AuthorID = authorID
		return b
	})
	if newRoot == current.Root {
		return
	}
	updated := current.Clone()
	updated.Root = newRoot
	s.waves[idx] = updated
}
