// Package gadget holds the structured decision widgets embedded in blips
// and the pure tally functions over their votes.
package gadget

import (
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindPoll    Kind = "poll"
	KindConsent Kind = "consent"
)

type VoteKind string

const (
	VoteConsent   VoteKind = "consent"
	VoteConcern   VoteKind = "concern"
	VoteObjection VoteKind = "objection"
)

type PollOption struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	VoterIDs []string `json:"voterIds"`
}

type Poll struct {
	Question string       `json:"question"`
	Options  []PollOption `json:"options"`
}

type ConsentVote struct {
	UserID string   `json:"userId"`
	Kind   VoteKind `json:"type"`
	Note   string   `json:"note,omitempty"`
}

type Consent struct {
	Topic string        `json:"topic"`
	Votes []ConsentVote `json:"votes"`
}

// Gadget is a tagged union: exactly one of Poll/Consent is set, per Kind.
type Gadget struct {
	ID      string
	Kind    Kind
	Poll    *Poll
	Consent *Consent
}

// wireGadget is the JSON shape persisted in the blips.gadgets column.
type wireGadget struct {
	ID   string `json:"id"`
	Type Kind   `json:"type"`
	Data struct {
		Question *string       `json:"question,omitempty"`
		Options  []PollOption  `json:"options,omitempty"`
		Topic    *string       `json:"topic,omitempty"`
		Votes    []ConsentVote `json:"votes,omitempty"`
	} `json:"data"`
}

func (g Gadget) MarshalJSON() ([]byte, error) {
	var wire wireGadget
	wire.ID = g.ID
	wire.Type = g.Kind
	switch g.Kind {
	case KindPoll:
		if g.Poll == nil {
			return nil, fmt.Errorf("poll gadget %s has no poll payload", g.ID)
		}
		wire.Data.Question = &g.Poll.Question
		wire.Data.Options = g.Poll.Options
	case KindConsent:
		if g.Consent == nil {
			return nil, fmt.Errorf("consent gadget %s has no consent payload", g.ID)
		}
		wire.Data.Topic = &g.Consent.Topic
		wire.Data.Votes = g.Consent.Votes
	default:
		return nil, fmt.Errorf("unknown gadget kind %q", g.Kind)
	}
	return json.Marshal(wire)
}

func (g *Gadget) UnmarshalJSON(data []byte) error {
	var wire wireGadget
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	g.ID = wire.ID
	g.Kind = wire.Type
	g.Poll = nil
	g.Consent = nil
	switch wire.Type {
	case KindPoll:
		poll := &Poll{Options: wire.Data.Options}
		if wire.Data.Question != nil {
			poll.Question = *wire.Data.Question
		}
		g.Poll = poll
	case KindConsent:
		consent := &Consent{Votes: wire.Data.Votes}
		if wire.Data.Topic != nil {
			consent.Topic = *wire.Data.Topic
		}
		g.Consent = consent
	default:
		return fmt.Errorf("unknown gadget kind %q", wire.Type)
	}
	return nil
}

// Clone returns a deep copy so callers can mutate payloads without
// touching the shared tree.
func (g Gadget) Clone() Gadget {
	out := Gadget{ID: g.ID, Kind: g.Kind}
	if g.Poll != nil {
		poll := Poll{Question: g.Poll.Question, Options: make([]PollOption, len(g.Poll.Options))}
		for i, opt := range g.Poll.Options {
			poll.Options[i] = PollOption{ID: opt.ID, Text: opt.Text, VoterIDs: append([]string(nil), opt.VoterIDs...)}
		}
		out.Poll = &poll
	}
	if g.Consent != nil {
		consent := Consent{Topic: g.Consent.Topic, Votes: append([]ConsentVote(nil), g.Consent.Votes...)}
		out.Consent = &consent
	}
	return out
}
