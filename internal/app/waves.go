package app

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sixoverme/cqec-os/internal/blip"
	"github.com/sixoverme/cqec-os/internal/bus"
	"github.com/sixoverme/cqec-os/internal/gadget"
	"github.com/sixoverme/cqec-os/internal/store"
	"github.com/sixoverme/cqec-os/internal/util"
	"github.com/sixoverme/cqec-os/internal/wave"
)

type CreateWaveInput struct {
	Title          string                 `json:"title"`
	Content        string                 `json:"content"`
	Type           wave.Type              `json:"type"`
	DomainID       string                 `json:"domainId"`
	ParentID       string                 `json:"parentId"`
	IsDM           bool                   `json:"isDm"`
	ParticipantIDs []string               `json:"participantIds"`
	Proposal       *wave.ProposalMetadata `json:"proposal"`
}

// CreateWave builds a wave with its root blip in one step. The creator is
// always a participant; a sub-wave inherits the parent's participant set.
// The new wave becomes the selected wave.
func (s *Service) CreateWave(ctx context.Context, creator string, input CreateWaveInput) (*wave.Wave, error) {
	if creator == "" {
		return nil, privilegeDenied("no acting user")
	}
	s.mu.Lock()
	now := time.Now()

	waveType := input.Type
	if waveType == "" {
		waveType = wave.TypeDiscussion
	}

	members := map[string]struct{}{creator: {}}
	for _, id := range input.ParticipantIDs {
		if strings.TrimSpace(id) != "" {
			members[id] = struct{}{}
		}
	}
	if input.ParentID != "" {
		_, parent := s.findWaveLocked(input.ParentID)
		if parent == nil {
			s.mu.Unlock()
			return nil, notFound("parent wave not found")
		}
		for _, id := range parent.ParticipantIDs {
			members[id] = struct{}{}
		}
	}
	participantIDs := make([]string, 0, len(members))
	for id := range members {
		participantIDs = append(participantIDs, id)
	}
	sort.Strings(participantIDs)

	title := strings.TrimSpace(input.Title)
	if title == "" && input.IsDM {
		title = s.dmTitleLocked(creator, participantIDs)
	}
	if title == "" {
		title = "Untitled Wave"
	}

	root := &blip.Blip{
		ID:        util.NewID("blip"),
		AuthorID:  creator,
		Content:   input.Content,
		Timestamp: now,
	}

	var meta *wave.ProposalMetadata
	var tags []string
	pinned := false
	switch waveType {
	case wave.TypeProposal:
		copied := wave.ProposalMetadata{Type: wave.ProposalOperational}
		if input.Proposal != nil {
			copied = *input.Proposal
		}
		copied.Status = wave.StatusActive
		meta = &copied
		tags = append(tags, "proposal")
		// every proposal opens with a consent check on its topic
		root.Gadgets = []gadget.Gadget{{
			ID:      util.NewID("gadget"),
			Kind:    gadget.KindConsent,
			Consent: &gadget.Consent{Topic: title},
		}}
	case wave.TypeCircleHome:
		pinned = true
	}

	created := &wave.Wave{
		ID:             util.NewID("wave"),
		Title:          title,
		ParticipantIDs: participantIDs,
		Root:           root,
		Folder:         wave.FolderInbox,
		Tags:           tags,
		IsPinned:       pinned,
		LastActivity:   now,
		ParentID:       input.ParentID,
		IsDM:           input.IsDM,
		Type:           waveType,
		DomainID:       input.DomainID,
		Proposal:       meta,
	}
	s.waves = append(s.waves, created)
	for _, id := range participantIDs {
		s.setReadLocked(created.ID, id, id == creator)
	}
	s.selectedWaveID = created.ID
	view := s.viewerCopyLocked(created, creator)
	s.mu.Unlock()

	s.persist("create wave", "waves", bus.EventInsert, func(ctx context.Context) error {
		if err := s.store.InsertWave(ctx, waveRowFrom(created)); err != nil {
			return err
		}
		rows := make([]store.ParticipantRow, 0, len(participantIDs))
		for _, id := range participantIDs {
			rows = append(rows, store.ParticipantRow{WaveID: created.ID, UserID: id, IsRead: id == creator})
		}
		if err := s.store.InsertParticipants(ctx, rows); err != nil {
			return err
		}
		return s.store.InsertBlip(ctx, blipRowFrom(created.ID, "", root))
	})
	s.indexWave(created)
	return view, nil
}

// StartDM returns the existing direct-message wave with otherUserID when one
// is alive, instead of opening a duplicate conversation.
func (s *Service) StartDM(ctx context.Context, me, otherUserID string) (*wave.Wave, error) {
	if me == "" {
		return nil, privilegeDenied("no acting user")
	}
	other := strings.TrimSpace(otherUserID)
	if other == "" {
		return nil, validationError("userId is required")
	}

	s.mu.Lock()
	if _, ok := s.users[other]; !ok {
		s.mu.Unlock()
		return nil, notFound("profile not found")
	}
	for _, w := range s.waves {
		if !w.IsDM || w.Folder == wave.FolderTrash {
			continue
		}
		if len(w.ParticipantIDs) == 2 && w.HasParticipant(me) && w.HasParticipant(other) {
			view := s.viewerCopyLocked(w, me)
			s.mu.Unlock()
			return view, nil
		}
	}
	s.mu.Unlock()

	return s.CreateWave(ctx, me, CreateWaveInput{
		IsDM:           true,
		ParticipantIDs: []string{other},
	})
}

// Reply appends a blip under parentID, bumps activity, and flips the wave
// unread for everyone but the author.
func (s *Service) Reply(ctx context.Context, author, waveID, parentID, content string, gadgets []gadget.Gadget) (*wave.Wave, error) {
	if author == "" {
		return nil, privilegeDenied("no acting user")
	}
	if strings.TrimSpace(content) == "" && len(gadgets) == 0 {
		return nil, validationError("content is required")
	}

	s.mu.Lock()
	idx, current := s.findWaveLocked(waveID)
	if current == nil {
		s.mu.Unlock()
		return nil, notFound("wave not found")
	}
	parent := blip.Find(current.Root, parentID)
	if parent == nil {
		s.mu.Unlock()
		return nil, notFound("parent blip not found")
	}
	if parent.IsReadOnly {
		s.mu.Unlock()
		return nil, privilegeDenied("blip is locked")
	}

	now := time.Now()
	child := &blip.Blip{
		ID:        util.NewID("blip"),
		AuthorID:  author,
		Content:   content,
		Timestamp: now,
		Gadgets:   gadgets,
	}
	newRoot := blip.InsertChild(current.Root, parentID, child)
	if newRoot == current.Root {
		s.mu.Unlock()
		return nil, notFound("parent blip not found")
	}
	updated := current.Clone()
	updated.Root = newRoot
	updated.LastActivity = now
	s.waves[idx] = updated
	for _, id := range updated.ParticipantIDs {
		s.setReadLocked(waveID, id, id == author)
	}
	view := s.viewerCopyLocked(updated, author)
	s.mu.Unlock()

	s.persist("reply", "blips", bus.EventInsert, func(ctx context.Context) error {
		if err := s.store.InsertBlip(ctx, blipRowFrom(waveID, parentID, child)); err != nil {
			return err
		}
		if err := s.store.UpdateWaveActivity(ctx, waveID, now); err != nil {
			return err
		}
		return s.store.MarkUnreadForOthers(ctx, waveID, author)
	})
	if s.search != nil {
		s.search.IndexBlip(blipRecordFrom(waveID, child))
	}
	return view, nil
}

// EditBlip replaces a blip's content, recording the previous content as a
// version row first. Editing the root blip of a shared wave renames it.
func (s *Service) EditBlip(ctx context.Context, editor, waveID, blipID, content string) (*wave.Wave, error) {
	if editor == "" {
		return nil, privilegeDenied("no acting user")
	}
	if strings.TrimSpace(content) == "" {
		return nil, validationError("content is required")
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
	if node.IsReadOnly {
		s.mu.Unlock()
		return nil, privilegeDenied("blip is locked")
	}

	now := time.Now()
	version := blip.Version{
		ID:        util.NewID("ver"),
		BlipID:    blipID,
		Content:   node.Content,
		CreatedAt: now,
		EditorID:  editor,
	}
	gadgets := node.Gadgets
	newRoot := blip.Mutate(current.Root, blipID, func(b blip.Blip) blip.Blip {
		b.Content = content
		edited := now
		b.LastEdited = &edited
		b.LastEditorID = editor
		b.Versions = append(append([]blip.Version(nil), b.Versions...), version)
		return b
	})
	if newRoot == current.Root {
		s.mu.Unlock()
		return nil, notFound("blip not found")
	}
	updated := current.Clone()
	updated.Root = newRoot
	updated.LastActivity = now
	renamed := ""
	if current.Root.ID == blipID && !current.IsDM {
		if title := deriveTitle(content); title != "" && title != current.Title {
			updated.Title = title
			renamed = title
		}
	}
	s.waves[idx] = updated
	view := s.viewerCopyLocked(updated, editor)
	s.mu.Unlock()

	s.persist("edit blip", "blips", bus.EventUpdate, func(ctx context.Context) error {
		if err := s.store.InsertBlipVersion(ctx, store.BlipVersionRow{
			ID:        version.ID,
			BlipID:    version.BlipID,
			Content:   version.Content,
			CreatedAt: version.CreatedAt,
			EditorID:  version.EditorID,
		}); err != nil {
			return err
		}
		var gadgetsJSON []byte
		if len(gadgets) > 0 {
			gadgetsJSON = marshalJSON(gadgets)
		}
		if err := s.store.UpdateBlipContent(ctx, blipID, content, gadgetsJSON, now, editor); err != nil {
			return err
		}
		if renamed != "" {
			if err := s.store.UpdateWaveTitle(ctx, waveID, renamed); err != nil {
				return err
			}
		}
		return s.store.UpdateWaveActivity(ctx, waveID, now)
	})
	if s.search != nil {
		if edited := blip.Find(newRoot, blipID); edited != nil {
			s.search.IndexBlip(blipRecordFrom(waveID, edited))
		}
		if renamed != "" {
			s.indexWave(updated)
		}
	}
	return view, nil
}

// DeleteBlip soft-removes a blip and its subtree. Deleting the root is
// defined as trashing the whole wave; the tree itself stays untouched.
func (s *Service) DeleteBlip(ctx context.Context, actor, waveID, blipID string) (*wave.Wave, error) {
	if actor == "" {
		return nil, privilegeDenied("no acting user")
	}
	s.mu.Lock()
	idx, current := s.findWaveLocked(waveID)
	if current == nil {
		s.mu.Unlock()
		return nil, notFound("wave not found")
	}
	if current.Root != nil && current.Root.ID == blipID {
		updated := current.Clone()
		updated.Folder = wave.FolderTrash
		s.waves[idx] = updated
		s.deselectIfHiddenLocked()
		view := s.viewerCopyLocked(updated, actor)
		s.mu.Unlock()

		s.persist("trash wave", "waves", bus.EventUpdate, func(ctx context.Context) error {
			return s.store.UpdateWaveFolder(ctx, waveID, string(wave.FolderTrash))
		})
		return view, nil
	}

	newRoot := blip.SoftRemove(current.Root, blipID)
	if newRoot == current.Root {
		s.mu.Unlock()
		return nil, notFound("blip not found")
	}
	now := time.Now()
	updated := current.Clone()
	updated.Root = newRoot
	s.waves[idx] = updated
	view := s.viewerCopyLocked(updated, actor)
	s.mu.Unlock()

	s.persist("delete blip", "blips", bus.EventDelete, func(ctx context.Context) error {
		return s.store.SoftDeleteBlip(ctx, blipID, now)
	})
	if s.search != nil {
		s.search.DeleteBlip(blipID)
	}
	return view, nil
}

// ToggleBlipLock flips the read-only flag. The root of a shared wave is
// never lockable; DMs may lock theirs.
func (s *Service) ToggleBlipLock(ctx context.Context, actor, waveID, blipID string) (*wave.Wave, error) {
	if actor == "" {
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
	if current.Root.ID == blipID && !current.IsDM {
		s.mu.Unlock()
		return nil, privilegeDenied("root blip of a shared wave cannot be locked")
	}
	locked := !node.IsReadOnly
	newRoot := blip.ToggleLock(current.Root, blipID)
	if newRoot == current.Root {
		s.mu.Unlock()
		return nil, notFound("blip not found")
	}
	updated := current.Clone()
	updated.Root = newRoot
	s.waves[idx] = updated
	view := s.viewerCopyLocked(updated, actor)
	s.mu.Unlock()

	s.persist("toggle lock", "blips", bus.EventUpdate, func(ctx context.Context) error {
		return s.store.UpdateBlipLock(ctx, blipID, locked)
	})
	return view, nil
}

// TagWave adds a tag; UntagWave removes one. Both are idempotent.
func (s *Service) TagWave(ctx context.Context, actor, waveID, tag string) (*wave.Wave, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, validationError("tag is required")
	}
	return s.updateTags(ctx, actor, waveID, func(tags []string) []string {
		for _, t := range tags {
			if t == tag {
				return tags
			}
		}
		return append(tags, tag)
	})
}

func (s *Service) UntagWave(ctx context.Context, actor, waveID, tag string) (*wave.Wave, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, validationError("tag is required")
	}
	return s.updateTags(ctx, actor, waveID, func(tags []string) []string {
		out := tags[:0]
		for _, t := range tags {
			if t != tag {
				out = append(out, t)
			}
		}
		return out
	})
}

func (s *Service) updateTags(ctx context.Context, actor, waveID string, fn func([]string) []string) (*wave.Wave, error) {
	if actor == "" {
		return nil, privilegeDenied("no acting user")
	}
	s.mu.Lock()
	idx, current := s.findWaveLocked(waveID)
	if current == nil {
		s.mu.Unlock()
		return nil, notFound("wave not found")
	}
	updated := current.Clone()
	updated.Tags = fn(updated.Tags)
	tags := append([]string(nil), updated.Tags...)
	s.waves[idx] = updated
	view := s.viewerCopyLocked(updated, actor)
	s.mu.Unlock()

	s.persist("update tags", "waves", bus.EventUpdate, func(ctx context.Context) error {
		return s.store.UpdateWaveTags(ctx, waveID, tags)
	})
	s.indexWave(updated)
	return view, nil
}

func (s *Service) TogglePin(ctx context.Context, actor, waveID string) (*wave.Wave, error) {
	if actor == "" {
		return nil, privilegeDenied("no acting user")
	}
	s.mu.Lock()
	idx, current := s.findWaveLocked(waveID)
	if current == nil {
		s.mu.Unlock()
		return nil, notFound("wave not found")
	}
	updated := current.Clone()
	updated.IsPinned = !updated.IsPinned
	pinned := updated.IsPinned
	s.waves[idx] = updated
	view := s.viewerCopyLocked(updated, actor)
	s.mu.Unlock()

	s.persist("toggle pin", "waves", bus.EventUpdate, func(ctx context.Context) error {
		return s.store.UpdateWavePinned(ctx, waveID, pinned)
	})
	return view, nil
}

// MoveToFolder relocates a wave. "dms" is a view over DM membership, not a
// folder, so transitions into it are rejected.
func (s *Service) MoveToFolder(ctx context.Context, actor, waveID, folder string) (*wave.Wave, error) {
	if actor == "" {
		return nil, privilegeDenied("no acting user")
	}
	if folder == wave.ViewDMs {
		return nil, privilegeDenied("dms is a view, not a folder")
	}
	if !wave.ValidFolder(wave.Folder(folder)) {
		return nil, validationError("unknown folder")
	}

	s.mu.Lock()
	idx, current := s.findWaveLocked(waveID)
	if current == nil {
		s.mu.Unlock()
		return nil, notFound("wave not found")
	}
	updated := current.Clone()
	updated.Folder = wave.Folder(folder)
	s.waves[idx] = updated
	s.deselectIfHiddenLocked()
	view := s.viewerCopyLocked(updated, actor)
	s.mu.Unlock()

	s.persist("move folder", "waves", bus.EventUpdate, func(ctx context.Context) error {
		return s.store.UpdateWaveFolder(ctx, waveID, folder)
	})
	s.indexWave(updated)
	return view, nil
}

// AddParticipant joins a user to the wave and marks it unread for them.
func (s *Service) AddParticipant(ctx context.Context, actor, waveID, userID string) (*wave.Wave, error) {
	if actor == "" {
		return nil, privilegeDenied("no acting user")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, validationError("userId is required")
	}

	s.mu.Lock()
	if _, ok := s.users[userID]; !ok {
		s.mu.Unlock()
		return nil, notFound("profile not found")
	}
	idx, current := s.findWaveLocked(waveID)
	if current == nil {
		s.mu.Unlock()
		return nil, notFound("wave not found")
	}
	if current.HasParticipant(userID) {
		view := s.viewerCopyLocked(current, actor)
		s.mu.Unlock()
		return view, nil
	}
	updated := current.Clone()
	updated.ParticipantIDs = append(updated.ParticipantIDs, userID)
	s.waves[idx] = updated
	s.setReadLocked(waveID, userID, false)
	view := s.viewerCopyLocked(updated, actor)
	s.mu.Unlock()

	s.persist("add participant", "wave_participants", bus.EventInsert, func(ctx context.Context) error {
		return s.store.InsertParticipants(ctx, []store.ParticipantRow{
			{WaveID: waveID, UserID: userID, IsRead: false},
		})
	})
	return view, nil
}

func (s *Service) dmTitleLocked(creator string, participantIDs []string) string {
	for _, id := range participantIDs {
		if id != creator {
			return "Chat with " + s.profileNameLocked(id)
		}
	}
	return "Chat"
}

// deriveTitle takes the first non-empty line with markdown heading markers
// stripped, capped at 50 runes.
func deriveTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > 50 {
			return string(runes[:50])
		}
		return line
	}
	return ""
}
