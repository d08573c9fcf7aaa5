package store

import "time"

// Profile is the cached identity record owned by the external identity
// provider. This core reads and write-through-caches it, nothing more.
type Profile struct {
	ID          string
	Name        string
	Handle      string
	Email       string
	AvatarURL   string
	Bio         string
	Status      string
	Capacity    string
	AccessNeeds string
	IsRobot     bool
	Color       string
}

type DomainRow struct {
	ID          string
	Name        string
	Color       string
	Description string
	ParentID    string
}

type RoleRow struct {
	ID          string
	Name        string
	DomainID    string
	Description string
	HolderIDs   []string
	TermEnd     *time.Time
}

type WaveRow struct {
	ID               string
	Title            string
	Type             string
	Folder           string
	IsPinned         bool
	LastActivity     time.Time
	IsDM             bool
	DomainID         string
	ParentID         string
	ProposalMetadata []byte // JSON, nil when not a proposal
	Tags             []string
}

type ParticipantRow struct {
	WaveID string
	UserID string
	IsRead bool
}

type BlipRow struct {
	ID           string
	WaveID       string
	ParentID     string
	AuthorID     string
	Content      string
	Timestamp    time.Time
	Gadgets      []byte // JSON, nil when none
	IsReadOnly   bool
	LastEdited   *time.Time
	LastEditorID string
	DeletedAt    *time.Time
}

type BlipVersionRow struct {
	ID        string
	BlipID    string
	Content   string
	CreatedAt time.Time
	EditorID  string
}

// Snapshot is one authoritative read of every entity kind needed to rebuild
// all wave trees. All kinds are fetched before any tree is built so a tree
// never links against a stale subset.
type Snapshot struct {
	Profiles     []Profile
	Domains      []DomainRow
	Roles        []RoleRow
	Waves        []WaveRow
	Participants []ParticipantRow
	Blips        []BlipRow
	Versions     []BlipVersionRow
}
