package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sixoverme/cqec-os/internal/blip"
	"github.com/sixoverme/cqec-os/internal/registry"
	"github.com/sixoverme/cqec-os/internal/store"
	"github.com/sixoverme/cqec-os/internal/wave"
)

func proposalWave(id string, meta wave.ProposalMetadata) *wave.Wave {
	return &wave.Wave{
		ID:    id,
		Title: "Proposal " + id,
		Root: &blip.Blip{
			ID:        id + "-root",
			AuthorID:  "u2",
			Content:   "proposal text",
			Timestamp: time.Now().Add(-time.Hour),
		},
		ParticipantIDs: []string{"u1", "u2"},
		Folder:         wave.FolderInbox,
		Type:           wave.TypeProposal,
		Tags:           []string{"proposal"},
		LastActivity:   time.Now().Add(-time.Hour),
		Proposal:       &meta,
	}
}

func systemChild(t *testing.T, w *wave.Wave) *blip.Blip {
	t.Helper()
	if len(w.Root.Children) == 0 {
		t.Fatal("no ratification blip appended under the root")
	}
	return w.Root.Children[len(w.Root.Children)-1]
}

func TestRatifyCircleCreation(t *testing.T) {
	fs := &fakeStore{}
	var insertedDomain store.DomainRow
	fs.insertDomain = func(ctx context.Context, d store.DomainRow) error {
		insertedDomain = d
		return nil
	}
	s := newTestService(fs)
	seedWave(s, proposalWave("p1", wave.ProposalMetadata{
		Type:   wave.ProposalCircleCreation,
		Status: wave.StatusActive,
		Payload: wave.ProposalPayload{
			CircleName:  "Garden",
			Description: "Tends the shared garden",
		},
	}))

	updated, err := s.RatifyProposal(context.Background(), "u1", "p1")
	if err != nil {
		t.Fatalf("RatifyProposal: %v", err)
	}
	if updated.Proposal.Status != wave.StatusImplemented {
		t.Fatalf("status = %q, want implemented", updated.Proposal.Status)
	}

	domains := s.Domains()
	var created registry.Domain
	for _, d := range domains {
		if d.Name == "Garden" {
			created = d
		}
	}
	if created.ID == "" {
		t.Fatalf("domains = %v, want a Garden circle", domains)
	}
	if view := s.ActiveView(); view.DomainID != created.ID {
		t.Fatalf("active domain = %q, want the new circle %q", view.DomainID, created.ID)
	}

	msg := systemChild(t, updated)
	if msg.AuthorID != "robot1" {
		t.Fatalf("ratification author = %q, want the system profile", msg.AuthorID)
	}
	if want := `**Proposal Ratified**: Circle "Garden" has been created.`; msg.Content != want {
		t.Fatalf("message = %q, want %q", msg.Content, want)
	}

	s.Flush()
	if insertedDomain.Name != "Garden" {
		t.Fatalf("persisted domain = %+v", insertedDomain)
	}
	if fs.count("InsertBlip") != 1 || fs.count("UpdateWaveProposal") != 1 {
		t.Fatalf("persist calls = %v", fs.calls)
	}
}

func TestRatifyCircleCreationUnknownParent(t *testing.T) {
	s := newTestService(&fakeStore{})
	seedWave(s, proposalWave("p1", wave.ProposalMetadata{
		Type:   wave.ProposalCircleCreation,
		Status: wave.StatusActive,
		Payload: wave.ProposalPayload{
			CircleName:     "Orphan",
			ParentDomainID: "missing",
		},
	}))

	_, err := s.RatifyProposal(context.Background(), "u1", "p1")
	if code := domainErrCode(t, err); code != "NOT_FOUND" {
		t.Fatalf("code = %q, want NOT_FOUND", code)
	}
}

func TestRatifyRoleAssignmentUpsertsHolders(t *testing.T) {
	fs := &fakeStore{}
	var updatedHolders []string
	fs.updateRoleHolders = func(ctx context.Context, roleID string, holderIDs []string) error {
		updatedHolders = holderIDs
		return nil
	}
	s := newTestService(fs)
	s.mu.Lock()
	s.registry.Reset([]registry.Domain{{ID: "d1", Name: "Garden"}}, nil)
	s.mu.Unlock()

	first := proposalWave("p1", wave.ProposalMetadata{
		Type:    wave.ProposalRoleAssignment,
		Status:  wave.StatusActive,
		Payload: wave.ProposalPayload{RoleName: "Treasurer", NomineeID: "u2"},
	})
	first.DomainID = "d1"
	second := proposalWave("p2", wave.ProposalMetadata{
		Type:    wave.ProposalRoleAssignment,
		Status:  wave.StatusActive,
		Payload: wave.ProposalPayload{RoleName: "Treasurer", NomineeID: "u3"},
	})
	second.DomainID = "d1"
	seedWave(s, first)
	seedWave(s, second)

	ratified, err := s.RatifyProposal(context.Background(), "u1", "p1")
	if err != nil {
		t.Fatalf("RatifyProposal p1: %v", err)
	}
	if want := `**Proposal Ratified**: Blake now holds the role "Treasurer".`; systemChild(t, ratified).Content != want {
		t.Fatalf("message = %q, want %q", systemChild(t, ratified).Content, want)
	}
	if _, err := s.RatifyProposal(context.Background(), "u1", "p2"); err != nil {
		t.Fatalf("RatifyProposal p2: %v", err)
	}

	roles := s.Roles("d1")
	if len(roles) != 1 {
		t.Fatalf("roles = %v, want one Treasurer role", roles)
	}
	holders := roles[0].HolderIDs
	if len(holders) != 2 {
		t.Fatalf("holders = %v, want both nominees", holders)
	}

	s.Flush()
	if fs.count("InsertRole") != 1 || fs.count("UpdateRoleHolders") != 1 {
		t.Fatalf("persist calls = %v, want one insert then one holder update", fs.calls)
	}
	if len(updatedHolders) != 2 {
		t.Fatalf("persisted holders = %v, want both nominees", updatedHolders)
	}
}

func TestRatifyOperationalIsMessageOnly(t *testing.T) {
	fs := &fakeStore{}
	s := newTestService(fs)
	seedWave(s, proposalWave("p1", wave.ProposalMetadata{
		Type:   wave.ProposalOperational,
		Status: wave.StatusActive,
	}))

	updated, err := s.RatifyProposal(context.Background(), "u1", "p1")
	if err != nil {
		t.Fatalf("RatifyProposal: %v", err)
	}
	if want := "**Proposal Ratified**: This proposal has been marked as implemented."; systemChild(t, updated).Content != want {
		t.Fatalf("message = %q", systemChild(t, updated).Content)
	}

	s.Flush()
	if fs.count("InsertDomain") != 0 || fs.count("InsertRole") != 0 {
		t.Fatal("operational ratification must not touch the registry")
	}
}

func TestRatifyIsIdempotent(t *testing.T) {
	fs := &fakeStore{}
	s := newTestService(fs)
	seedWave(s, proposalWave("p1", wave.ProposalMetadata{
		Type:   wave.ProposalOperational,
		Status: wave.StatusImplemented,
	}))

	updated, err := s.RatifyProposal(context.Background(), "u1", "p1")
	if err != nil {
		t.Fatalf("RatifyProposal: %v", err)
	}
	if len(updated.Root.Children) != 0 {
		t.Fatal("ratifying an implemented proposal must not append another message")
	}

	s.Flush()
	if fs.count("InsertBlip") != 0 || fs.count("UpdateWaveProposal") != 0 {
		t.Fatalf("persist calls = %v, want none", fs.calls)
	}
}

func TestRatifyNonProposalRejected(t *testing.T) {
	s := newTestService(&fakeStore{})
	seedWave(s, discussionWave("w1", "u1"))

	_, err := s.RatifyProposal(context.Background(), "u1", "w1")
	if code := domainErrCode(t, err); code != "VALIDATION_ERROR" {
		t.Fatalf("code = %q, want VALIDATION_ERROR", code)
	}
}

func TestRatifyReattributesMessageWhenSystemInsertFails(t *testing.T) {
	fs := &fakeStore{}
	var inserted []store.BlipRow
	fs.insertBlip = func(ctx context.Context, b store.BlipRow) error {
		inserted = append(inserted, b)
		if b.AuthorID == "robot1" {
			return errors.New("author missing")
		}
		return nil
	}
	s := newTestService(fs)
	seedWave(s, proposalWave("p1", wave.ProposalMetadata{
		Type:   wave.ProposalOperational,
		Status: wave.StatusActive,
	}))

	if _, err := s.RatifyProposal(context.Background(), "u1", "p1"); err != nil {
		t.Fatalf("RatifyProposal: %v", err)
	}
	s.Flush()

	if len(inserted) != 2 {
		t.Fatalf("insert attempts = %d, want a retry", len(inserted))
	}
	if inserted[0].AuthorID != "robot1" || inserted[1].AuthorID != "u1" {
		t.Fatalf("authors = %q then %q, want robot1 then the ratifier", inserted[0].AuthorID, inserted[1].AuthorID)
	}

	after, err := s.WaveByID("u1", "p1")
	if err != nil {
		t.Fatalf("WaveByID: %v", err)
	}
	if systemChild(t, after).AuthorID != "u1" {
		t.Fatal("re-attributed author should replace the system profile in memory")
	}
}
