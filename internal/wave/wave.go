// Package wave defines the conversation container and the filtered views
// the sidebar list is built from.
package wave

import (
	"time"

	"github.com/sixoverme/cqec-os/internal/blip"
)

type Folder string

const (
	FolderInbox   Folder = "inbox"
	FolderArchive Folder = "archive"
	FolderTrash   Folder = "trash"
	FolderSpam    Folder = "spam"
)

func ValidFolder(f Folder) bool {
	switch f {
	case FolderInbox, FolderArchive, FolderTrash, FolderSpam:
		return true
	}
	return false
}

type Type string

const (
	TypeDiscussion Type = "discussion"
	TypeProposal   Type = "proposal"
	TypeCircleHome Type = "circle_home"
)

type ProposalType string

const (
	ProposalOperational    ProposalType = "operational"
	ProposalRoleAssignment ProposalType = "role_assignment"
	ProposalCircleCreation ProposalType = "circle_creation"
	ProposalFinancial      ProposalType = "financial"
)

type ProposalStatus string

const (
	StatusActive      ProposalStatus = "active"
	StatusImplemented ProposalStatus = "implemented"
	// Declared in the vocabulary but produced by nothing in this core;
	// reserved until the workflow around them is specified.
	StatusPassed  ProposalStatus = "passed"
	StatusBlocked ProposalStatus = "blocked"
)

// ProposalPayload carries the type-specific fields needed to execute a
// ratified proposal. Which fields are meaningful depends on the type.
type ProposalPayload struct {
	CircleName     string `json:"circleName,omitempty"`
	ParentDomainID string `json:"parentDomainId,omitempty"`
	RoleName       string `json:"roleName,omitempty"`
	NomineeID      string `json:"nomineeId,omitempty"`
	Title          string `json:"title,omitempty"`
	Description    string `json:"description,omitempty"`
}

type ProposalMetadata struct {
	Type    ProposalType    `json:"type"`
	Status  ProposalStatus  `json:"status"`
	Payload ProposalPayload `json:"payload"`
}

type Wave struct {
	ID             string
	Title          string
	ParticipantIDs []string
	Root           *blip.Blip
	Folder         Folder
	Tags           []string
	// IsRead is resolved per viewer from the participant relation when the
	// snapshot loads; it is not a property of the wave itself.
	IsRead       bool
	IsPinned     bool
	LastActivity time.Time
	ParentID     string
	IsDM         bool
	Type         Type
	DomainID     string
	Proposal     *ProposalMetadata
}

// Clone returns a shallow copy. The blip tree is shared; mutation operations
// on it already return fresh roots.
func (w *Wave) Clone() *Wave {
	copied := *w
	copied.ParticipantIDs = append([]string(nil), w.ParticipantIDs...)
	copied.Tags = append([]string(nil), w.Tags...)
	if w.Proposal != nil {
		meta := *w.Proposal
		copied.Proposal = &meta
	}
	return &copied
}

// HasParticipant reports membership in the participant set.
func (w *Wave) HasParticipant(userID string) bool {
	for _, id := range w.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}
