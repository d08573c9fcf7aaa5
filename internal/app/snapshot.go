package app

import (
	"encoding/json"
	"log"

	"github.com/sixoverme/cqec-os/internal/blip"
	"github.com/sixoverme/cqec-os/internal/registry"
	"github.com/sixoverme/cqec-os/internal/search"
	"github.com/sixoverme/cqec-os/internal/store"
	"github.com/sixoverme/cqec-os/internal/wave"
)

// buildWaves turns a raw snapshot into wave objects with rebuilt blip trees
// and the per-viewer read relation. A wave whose tree cannot be rebuilt is
// skipped with a warning rather than failing the whole reload; partially
// synced data heals on the next pass.
func buildWaves(snap store.Snapshot) ([]*wave.Wave, map[string]map[string]bool) {
	versionsByBlip := make(map[string][]blip.Version)
	for _, v := range snap.Versions {
		versionsByBlip[v.BlipID] = append(versionsByBlip[v.BlipID], blip.Version{
			ID:        v.ID,
			BlipID:    v.BlipID,
			Content:   v.Content,
			CreatedAt: v.CreatedAt,
			EditorID:  v.EditorID,
		})
	}

	rowsByWave := make(map[string][]blip.Row)
	for _, b := range snap.Blips {
		rowsByWave[b.WaveID] = append(rowsByWave[b.WaveID], blipRowToEngine(b))
	}

	participants := make(map[string][]string)
	reads := make(map[string]map[string]bool)
	for _, p := range snap.Participants {
		participants[p.WaveID] = append(participants[p.WaveID], p.UserID)
		byUser, ok := reads[p.WaveID]
		if !ok {
			byUser = make(map[string]bool)
			reads[p.WaveID] = byUser
		}
		byUser[p.UserID] = p.IsRead
	}

	waves := make([]*wave.Wave, 0, len(snap.Waves))
	for _, row := range snap.Waves {
		root, err := blip.BuildTree(rowsByWave[row.ID])
		if err != nil {
			log.Printf("snapshot: wave %s: %v", row.ID, err)
			continue
		}
		attachVersions(root, versionsByBlip)

		var meta *wave.ProposalMetadata
		if len(row.ProposalMetadata) > 0 {
			var parsed wave.ProposalMetadata
			if err := json.Unmarshal(row.ProposalMetadata, &parsed); err != nil {
				log.Printf("snapshot: wave %s proposal metadata: %v", row.ID, err)
			} else {
				meta = &parsed
			}
		}

		waves = append(waves, &wave.Wave{
			ID:             row.ID,
			Title:          row.Title,
			ParticipantIDs: participants[row.ID],
			Root:           root,
			Folder:         wave.Folder(row.Folder),
			Tags:           row.Tags,
			IsPinned:       row.IsPinned,
			LastActivity:   row.LastActivity,
			ParentID:       row.ParentID,
			IsDM:           row.IsDM,
			Type:           wave.Type(row.Type),
			DomainID:       row.DomainID,
			Proposal:       meta,
		})
	}
	return waves, reads
}

// attachVersions is called on a freshly built tree before it is published;
// after that the tree is immutable.
func attachVersions(node *blip.Blip, byBlip map[string][]blip.Version) {
	if node == nil {
		return
	}
	node.Versions = byBlip[node.ID]
	for _, child := range node.Children {
		attachVersions(child, byBlip)
	}
}

func registryFromSnapshot(snap store.Snapshot) ([]registry.Domain, []registry.Role) {
	domains := make([]registry.Domain, 0, len(snap.Domains))
	for _, d := range snap.Domains {
		domains = append(domains, registry.Domain{
			ID:          d.ID,
			Name:        d.Name,
			Color:       d.Color,
			Description: d.Description,
			ParentID:    d.ParentID,
		})
	}
	roles := make([]registry.Role, 0, len(snap.Roles))
	for _, r := range snap.Roles {
		roles = append(roles, registry.Role{
			ID:          r.ID,
			Name:        r.Name,
			DomainID:    r.DomainID,
			Description: r.Description,
			HolderIDs:   r.HolderIDs,
			TermEnd:     r.TermEnd,
		})
	}
	return domains, roles
}

func blipRowToEngine(b store.BlipRow) blip.Row {
	row := blip.Row{
		ID:           b.ID,
		WaveID:       b.WaveID,
		ParentID:     b.ParentID,
		AuthorID:     b.AuthorID,
		Content:      b.Content,
		Timestamp:    b.Timestamp,
		IsReadOnly:   b.IsReadOnly,
		LastEdited:   b.LastEdited,
		LastEditorID: b.LastEditorID,
		DeletedAt:    b.DeletedAt,
	}
	if len(b.Gadgets) > 0 {
		if err := json.Unmarshal(b.Gadgets, &row.Gadgets); err != nil {
			log.Printf("snapshot: blip %s gadgets: %v", b.ID, err)
		}
	}
	return row
}

func waveRowFrom(w *wave.Wave) store.WaveRow {
	row := store.WaveRow{
		ID:           w.ID,
		Title:        w.Title,
		Type:         string(w.Type),
		Folder:       string(w.Folder),
		IsPinned:     w.IsPinned,
		LastActivity: w.LastActivity,
		IsDM:         w.IsDM,
		DomainID:     w.DomainID,
		ParentID:     w.ParentID,
		Tags:         w.Tags,
	}
	if w.Proposal != nil {
		row.ProposalMetadata = marshalJSON(*w.Proposal)
	}
	return row
}

func blipRowFrom(waveID, parentID string, b *blip.Blip) store.BlipRow {
	row := store.BlipRow{
		ID:           b.ID,
		WaveID:       waveID,
		ParentID:     parentID,
		AuthorID:     b.AuthorID,
		Content:      b.Content,
		Timestamp:    b.Timestamp,
		IsReadOnly:   b.IsReadOnly,
		LastEdited:   b.LastEdited,
		LastEditorID: b.LastEditorID,
		DeletedAt:    b.DeletedAt,
	}
	if len(b.Gadgets) > 0 {
		row.Gadgets = marshalJSON(b.Gadgets)
	}
	return row
}

func waveRecordFrom(w *wave.Wave) search.WaveRecord {
	return search.WaveRecord{
		ID:       w.ID,
		Title:    w.Title,
		Tags:     w.Tags,
		DomainID: w.DomainID,
		Type:     string(w.Type),
		Folder:   string(w.Folder),
	}
}

func blipRecordFrom(waveID string, b *blip.Blip) search.BlipRecord {
	return search.BlipRecord{
		ID:       b.ID,
		WaveID:   waveID,
		Content:  b.Content,
		AuthorID: b.AuthorID,
	}
}

func searchRecords(waves []*wave.Wave) ([]search.WaveRecord, []search.BlipRecord) {
	waveRecords := make([]search.WaveRecord, 0, len(waves))
	var blipRecords []search.BlipRecord
	for _, w := range waves {
		waveRecords = append(waveRecords, waveRecordFrom(w))
		blipRecords = append(blipRecords, collectBlipRecords(w.ID, w.Root, nil)...)
	}
	return waveRecords, blipRecords
}

func collectBlipRecords(waveID string, node *blip.Blip, acc []search.BlipRecord) []search.BlipRecord {
	if node == nil {
		return acc
	}
	acc = append(acc, blipRecordFrom(waveID, node))
	for _, child := range node.Children {
		acc = collectBlipRecords(waveID, child, acc)
	}
	return acc
}
