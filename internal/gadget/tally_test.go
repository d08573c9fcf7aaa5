package gadget

import (
	"encoding/json"
	"testing"
)

func samplePoll() Poll {
	return Poll{
		Question: "Meeting cadence?",
		Options: []PollOption{
			{ID: "opt-a", Text: "Weekly", VoterIDs: []string{"u1", "u2"}},
			{ID: "opt-b", Text: "Biweekly", VoterIDs: []string{"u3"}},
		},
	}
}

func TestTogglePollVoteAddsAndRemoves(t *testing.T) {
	poll := samplePoll()

	voted, ok := TogglePollVote(poll, "opt-b", "u1", false)
	if !ok {
		t.Fatal("expected option to be found")
	}
	if got := len(voted.Options[1].VoterIDs); got != 2 {
		t.Fatalf("expected 2 voters on opt-b, got %d", got)
	}
	// Non-exclusive: the u1 vote on opt-a stays.
	if got := len(voted.Options[0].VoterIDs); got != 2 {
		t.Fatalf("expected opt-a untouched, got %d voters", got)
	}

	unvoted, ok := TogglePollVote(voted, "opt-b", "u1", false)
	if !ok {
		t.Fatal("expected option to be found")
	}
	if got := len(unvoted.Options[1].VoterIDs); got != 1 {
		t.Fatalf("expected toggle to remove the vote, got %d voters", got)
	}

	// Input poll must not be modified.
	if got := len(poll.Options[1].VoterIDs); got != 1 {
		t.Fatalf("input poll mutated: %d voters on opt-b", got)
	}
}

func TestTogglePollVoteExclusive(t *testing.T) {
	poll := samplePoll()

	voted, ok := TogglePollVote(poll, "opt-b", "u1", true)
	if !ok {
		t.Fatal("expected option to be found")
	}
	if got := voted.Options[0].VoterIDs; len(got) != 1 || got[0] != "u2" {
		t.Fatalf("expected u1 cleared from opt-a, got %v", got)
	}
	if got := len(voted.Options[1].VoterIDs); got != 2 {
		t.Fatalf("expected u1 added to opt-b, got %d voters", got)
	}
}

func TestTogglePollVoteUnknownOption(t *testing.T) {
	poll := samplePoll()
	out, ok := TogglePollVote(poll, "missing", "u1", false)
	if ok {
		t.Fatal("expected not-found signal")
	}
	if len(out.Options[0].VoterIDs) != 2 || len(out.Options[1].VoterIDs) != 1 {
		t.Fatal("expected poll returned unchanged")
	}
}

func TestPollPercentages(t *testing.T) {
	poll := samplePoll()
	got := PollPercentages(poll)
	if got["opt-a"] != 67 || got["opt-b"] != 33 {
		t.Fatalf("expected 67/33, got %v", got)
	}
	if TotalPollVotes(poll) != 3 {
		t.Fatalf("expected 3 total votes, got %d", TotalPollVotes(poll))
	}
}

func TestPollPercentagesZeroVotes(t *testing.T) {
	poll := Poll{Options: []PollOption{{ID: "opt-a"}, {ID: "opt-b"}}}
	got := PollPercentages(poll)
	if got["opt-a"] != 0 || got["opt-b"] != 0 {
		t.Fatalf("expected all zero, got %v", got)
	}
}

func TestConsentOutcomePrecedence(t *testing.T) {
	cases := []struct {
		name  string
		votes []ConsentVote
		want  Outcome
	}{
		{"no votes", nil, OutcomeSafeToTry},
		{"consent only", []ConsentVote{{UserID: "u1", Kind: VoteConsent}}, OutcomeSafeToTry},
		{"concern", []ConsentVote{{UserID: "u1", Kind: VoteConcern}}, OutcomeDiscussionNeeded},
		{"objection dominates", []ConsentVote{{UserID: "u1", Kind: VoteConsent}, {UserID: "u2", Kind: VoteObjection}}, OutcomeBlocked},
		{"objection over concern", []ConsentVote{{UserID: "u1", Kind: VoteConcern}, {UserID: "u2", Kind: VoteObjection}}, OutcomeBlocked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ConsentOutcome(Consent{Votes: tc.votes}); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestRecordConsentVoteReplaces(t *testing.T) {
	consent := Consent{Topic: "Proposal Consent Check"}
	consent = RecordConsentVote(consent, ConsentVote{UserID: "u1", Kind: VoteConcern})
	consent = RecordConsentVote(consent, ConsentVote{UserID: "u2", Kind: VoteConsent})
	consent = RecordConsentVote(consent, ConsentVote{UserID: "u1", Kind: VoteConsent, Note: "resolved offline"})

	if len(consent.Votes) != 2 {
		t.Fatalf("expected 2 votes after replacement, got %d", len(consent.Votes))
	}
	var u1 *ConsentVote
	for i := range consent.Votes {
		if consent.Votes[i].UserID == "u1" {
			u1 = &consent.Votes[i]
		}
	}
	if u1 == nil || u1.Kind != VoteConsent || u1.Note != "resolved offline" {
		t.Fatalf("expected u1 vote replaced, got %+v", u1)
	}
	if ConsentOutcome(consent) != OutcomeSafeToTry {
		t.Fatalf("expected outcome to reflect the replacing vote")
	}
}

func TestGadgetJSONRoundTrip(t *testing.T) {
	in := Gadget{
		ID:   "g1",
		Kind: KindConsent,
		Consent: &Consent{
			Topic: "Proposal Consent Check",
			Votes: []ConsentVote{{UserID: "u1", Kind: VoteObjection, Note: "budget"}},
		},
	}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Gadget
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Kind != KindConsent || out.Consent == nil || out.Poll != nil {
		t.Fatalf("expected consent payload, got %+v", out)
	}
	if out.Consent.Topic != in.Consent.Topic || len(out.Consent.Votes) != 1 {
		t.Fatalf("payload lost in round trip: %+v", out.Consent)
	}
}
