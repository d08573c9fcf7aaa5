package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Timestamps are persisted as epoch milliseconds, the shape the original
// client wrote.

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func msToTimePtr(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64)
	return &t
}

func timePtrToMs(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

// LoadSnapshot reads every entity kind in one pass. Soft-deleted blips are
// excluded here; their orphaned descendants are dropped during tree build.
func (s *PostgresStore) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var err error
	if snap.Profiles, err = s.listProfiles(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.Domains, err = s.listDomains(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.Roles, err = s.listRoles(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.Waves, err = s.listWaves(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.Participants, err = s.listParticipants(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.Blips, err = s.listBlips(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.Versions, err = s.listBlipVersions(ctx); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (s *PostgresStore) listProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, handle, email, COALESCE(avatar_url, ''), COALESCE(bio, ''),
		       status, capacity, COALESCE(access_needs, ''), is_robot, color
		FROM profiles
	`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var items []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Handle, &p.Email, &p.AvatarURL, &p.Bio,
			&p.Status, &p.Capacity, &p.AccessNeeds, &p.IsRobot, &p.Color); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, id string) (Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, handle, email, COALESCE(avatar_url, ''), COALESCE(bio, ''),
		       status, capacity, COALESCE(access_needs, ''), is_robot, color
		FROM profiles WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Handle, &p.Email, &p.AvatarURL, &p.Bio,
		&p.Status, &p.Capacity, &p.AccessNeeds, &p.IsRobot, &p.Color)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, p Profile) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET name = $2, bio = $3, status = $4, capacity = $5, access_needs = $6, color = $7
		WHERE id = $1
	`, p.ID, p.Name, p.Bio, p.Status, p.Capacity, p.AccessNeeds, p.Color)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) listDomains(ctx context.Context) ([]DomainRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(color, ''), COALESCE(description, ''), COALESCE(parent_id, '')
		FROM domains
	`)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var items []DomainRow
	for rows.Next() {
		var d DomainRow
		if err := rows.Scan(&d.ID, &d.Name, &d.Color, &d.Description, &d.ParentID); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domains: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertDomain(ctx context.Context, d DomainRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO domains (id, name, color, description, parent_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
	`, d.ID, d.Name, d.Color, d.Description, d.ParentID)
	if err != nil {
		return fmt.Errorf("insert domain: %w", err)
	}
	return nil
}

func (s *PostgresStore) listRoles(ctx context.Context) ([]RoleRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, domain_id, COALESCE(description, ''), holder_ids, term_end
		FROM roles
	`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var items []RoleRow
	for rows.Next() {
		var r RoleRow
		var holdersRaw []byte
		var termEnd sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Name, &r.DomainID, &r.Description, &holdersRaw, &termEnd); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		_ = json.Unmarshal(holdersRaw, &r.HolderIDs)
		r.TermEnd = msToTimePtr(termEnd)
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertRole(ctx context.Context, r RoleRow) error {
	holders := r.HolderIDs
	if holders == nil {
		holders = []string{}
	}
	encoded, err := json.Marshal(holders)
	if err != nil {
		return fmt.Errorf("marshal holder ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO roles (id, name, domain_id, description, holder_ids, term_end)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
	`, r.ID, r.Name, r.DomainID, r.Description, string(encoded), timePtrToMs(r.TermEnd))
	if err != nil {
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRoleHolders(ctx context.Context, roleID string, holderIDs []string) error {
	if holderIDs == nil {
		holderIDs = []string{}
	}
	encoded, err := json.Marshal(holderIDs)
	if err != nil {
		return fmt.Errorf("marshal holder ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE roles SET holder_ids = $2::jsonb WHERE id = $1`, roleID, string(encoded))
	if err != nil {
		return fmt.Errorf("update role holders: %w", err)
	}
	return nil
}

func (s *PostgresStore) listWaves(ctx context.Context) ([]WaveRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, type, folder, is_pinned, last_activity, is_dm,
		       COALESCE(domain_id, ''), COALESCE(parent_id, ''), proposal_metadata, tags
		FROM waves
		ORDER BY last_activity DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list waves: %w", err)
	}
	defer rows.Close()

	var items []WaveRow
	for rows.Next() {
		var w WaveRow
		var activity int64
		var metadata, tagsRaw []byte
		if err := rows.Scan(&w.ID, &w.Title, &w.Type, &w.Folder, &w.IsPinned, &activity,
			&w.IsDM, &w.DomainID, &w.ParentID, &metadata, &tagsRaw); err != nil {
			return nil, fmt.Errorf("scan wave: %w", err)
		}
		w.LastActivity = msToTime(activity)
		w.ProposalMetadata = metadata
		_ = json.Unmarshal(tagsRaw, &w.Tags)
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate waves: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertWave(ctx context.Context, w WaveRow) error {
	tags := w.Tags
	if tags == nil {
		tags = []string{}
	}
	encodedTags, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal wave tags: %w", err)
	}
	var metadata any
	if len(w.ProposalMetadata) > 0 {
		metadata = string(w.ProposalMetadata)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO waves (id, title, type, folder, is_pinned, last_activity, is_dm,
		                   domain_id, parent_id, proposal_metadata, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10::jsonb, $11::jsonb)
	`, w.ID, w.Title, w.Type, w.Folder, w.IsPinned, w.LastActivity.UnixMilli(), w.IsDM,
		w.DomainID, w.ParentID, metadata, string(encodedTags))
	if err != nil {
		return fmt.Errorf("insert wave: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWaveFolder(ctx context.Context, waveID, folder string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE waves SET folder = $2 WHERE id = $1`, waveID, folder)
	if err != nil {
		return fmt.Errorf("update wave folder: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWaveTitle(ctx context.Context, waveID, title string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE waves SET title = $2 WHERE id = $1`, waveID, title)
	if err != nil {
		return fmt.Errorf("update wave title: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWaveTags(ctx context.Context, waveID string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal wave tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE waves SET tags = $2::jsonb WHERE id = $1`, waveID, string(encoded))
	if err != nil {
		return fmt.Errorf("update wave tags: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWavePinned(ctx context.Context, waveID string, pinned bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE waves SET is_pinned = $2 WHERE id = $1`, waveID, pinned)
	if err != nil {
		return fmt.Errorf("update wave pinned: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWaveActivity(ctx context.Context, waveID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE waves SET last_activity = $2 WHERE id = $1`, waveID, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("update wave activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWaveProposal(ctx context.Context, waveID string, metadata []byte, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE waves SET proposal_metadata = $2::jsonb, last_activity = $3 WHERE id = $1
	`, waveID, string(metadata), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("update wave proposal: %w", err)
	}
	return nil
}

func (s *PostgresStore) listParticipants(ctx context.Context) ([]ParticipantRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT wave_id, user_id, is_read FROM wave_participants`)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var items []ParticipantRow
	for rows.Next() {
		var p ParticipantRow
		if err := rows.Scan(&p.WaveID, &p.UserID, &p.IsRead); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertParticipants(ctx context.Context, items []ParticipantRow) error {
	for _, p := range items {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO wave_participants (wave_id, user_id, is_read)
			VALUES ($1, $2, $3)
			ON CONFLICT (wave_id, user_id) DO NOTHING
		`, p.WaveID, p.UserID, p.IsRead)
		if err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) SetParticipantRead(ctx context.Context, waveID, userID string, isRead bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE wave_participants SET is_read = $3 WHERE wave_id = $1 AND user_id = $2
	`, waveID, userID, isRead)
	if err != nil {
		return fmt.Errorf("set participant read: %w", err)
	}
	return nil
}

// MarkUnreadForOthers flags a new reply for everyone but its author.
func (s *PostgresStore) MarkUnreadForOthers(ctx context.Context, waveID, authorID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE wave_participants SET is_read = FALSE WHERE wave_id = $1 AND user_id <> $2
	`, waveID, authorID)
	if err != nil {
		return fmt.Errorf("mark unread: %w", err)
	}
	return nil
}

func (s *PostgresStore) listBlips(ctx context.Context) ([]BlipRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wave_id, COALESCE(parent_id, ''), author_id, content, timestamp,
		       gadgets, is_read_only, last_edited, COALESCE(last_editor_id, ''), deleted_at
		FROM blips
		WHERE deleted_at IS NULL
		ORDER BY timestamp ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list blips: %w", err)
	}
	defer rows.Close()

	var items []BlipRow
	for rows.Next() {
		var b BlipRow
		var ts int64
		var lastEdited, deletedAt sql.NullInt64
		if err := rows.Scan(&b.ID, &b.WaveID, &b.ParentID, &b.AuthorID, &b.Content, &ts,
			&b.Gadgets, &b.IsReadOnly, &lastEdited, &b.LastEditorID, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan blip: %w", err)
		}
		b.Timestamp = msToTime(ts)
		b.LastEdited = msToTimePtr(lastEdited)
		b.DeletedAt = msToTimePtr(deletedAt)
		items = append(items, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blips: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertBlip(ctx context.Context, b BlipRow) error {
	var gadgets any
	if len(b.Gadgets) > 0 {
		gadgets = string(b.Gadgets)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blips (id, wave_id, parent_id, author_id, content, timestamp, gadgets, is_read_only)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7::jsonb, $8)
	`, b.ID, b.WaveID, b.ParentID, b.AuthorID, b.Content, b.Timestamp.UnixMilli(), gadgets, b.IsReadOnly)
	if err != nil {
		return fmt.Errorf("insert blip: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateBlipContent(ctx context.Context, blipID, content string, gadgets []byte, editedAt time.Time, editorID string) error {
	var encoded any
	if len(gadgets) > 0 {
		encoded = string(gadgets)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE blips SET content = $2, gadgets = $3::jsonb, last_edited = $4, last_editor_id = $5
		WHERE id = $1
	`, blipID, content, encoded, editedAt.UnixMilli(), editorID)
	if err != nil {
		return fmt.Errorf("update blip content: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateBlipGadgets(ctx context.Context, blipID string, gadgets []byte) error {
	var encoded any
	if len(gadgets) > 0 {
		encoded = string(gadgets)
	}
	_, err := s.db.ExecContext(ctx, `UPDATE blips SET gadgets = $2::jsonb WHERE id = $1`, blipID, encoded)
	if err != nil {
		return fmt.Errorf("update blip gadgets: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateBlipLock(ctx context.Context, blipID string, locked bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE blips SET is_read_only = $2 WHERE id = $1`, blipID, locked)
	if err != nil {
		return fmt.Errorf("update blip lock: %w", err)
	}
	return nil
}

// SoftDeleteBlip stamps the row rather than removing it. Descendants keep
// their rows; snapshot loads drop them as dangling references.
func (s *PostgresStore) SoftDeleteBlip(ctx context.Context, blipID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE blips SET deleted_at = $2 WHERE id = $1`, blipID, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("soft delete blip: %w", err)
	}
	return nil
}

func (s *PostgresStore) listBlipVersions(ctx context.Context) ([]BlipVersionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, blip_id, content, created_at, COALESCE(editor_id, '')
		FROM blip_versions
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list blip versions: %w", err)
	}
	defer rows.Close()

	var items []BlipVersionRow
	for rows.Next() {
		var v BlipVersionRow
		var createdAt int64
		if err := rows.Scan(&v.ID, &v.BlipID, &v.Content, &createdAt, &v.EditorID); err != nil {
			return nil, fmt.Errorf("scan blip version: %w", err)
		}
		v.CreatedAt = msToTime(createdAt)
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blip versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertBlipVersion(ctx context.Context, v BlipVersionRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blip_versions (id, blip_id, content, created_at, editor_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
	`, v.ID, v.BlipID, v.Content, v.CreatedAt.UnixMilli(), v.EditorID)
	if err != nil {
		return fmt.Errorf("insert blip version: %w", err)
	}
	return nil
}
