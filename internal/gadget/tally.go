package gadget

type Outcome string

const (
	OutcomeSafeToTry        Outcome = "Safe to Try"
	OutcomeDiscussionNeeded Outcome = "Discussion Needed"
	OutcomeBlocked          Outcome = "Blocked"
)

// TogglePollVote adds the user to the option's voter set if absent and
// removes them if present. With exclusive set, voting for one option clears
// the user's votes on every other option. Returns a new poll; the input is
// not modified. The second result is false when the option id is unknown.
func TogglePollVote(poll Poll, optionID, userID string, exclusive bool) (Poll, bool) {
	found := false
	out := Poll{Question: poll.Question, Options: make([]PollOption, len(poll.Options))}
	for i, opt := range poll.Options {
		voters := append([]string(nil), opt.VoterIDs...)
		if opt.ID == optionID {
			found = true
			if contains(voters, userID) {
				voters = remove(voters, userID)
			} else {
				voters = append(voters, userID)
			}
		} else if exclusive {
			voters = remove(voters, userID)
		}
		out.Options[i] = PollOption{ID: opt.ID, Text: opt.Text, VoterIDs: voters}
	}
	if !found {
		return poll, false
	}
	return out, true
}

// TotalPollVotes counts votes across all options. A user selecting several
// options counts once per selection.
func TotalPollVotes(poll Poll) int {
	total := 0
	for _, opt := range poll.Options {
		total += len(opt.VoterIDs)
	}
	return total
}

// PollPercentages returns the rounded share of the total per option id,
// 0 for every option when no votes exist.
func PollPercentages(poll Poll) map[string]int {
	total := TotalPollVotes(poll)
	out := make(map[string]int, len(poll.Options))
	for _, opt := range poll.Options {
		if total == 0 {
			out[opt.ID] = 0
			continue
		}
		out[opt.ID] = int(float64(len(opt.VoterIDs))/float64(total)*100 + 0.5)
	}
	return out
}

// RecordConsentVote replaces any prior vote by the same user, keeping at
// most one current vote per participant. Returns a new consent payload.
func RecordConsentVote(consent Consent, vote ConsentVote) Consent {
	votes := make([]ConsentVote, 0, len(consent.Votes)+1)
	for _, v := range consent.Votes {
		if v.UserID != vote.UserID {
			votes = append(votes, v)
		}
	}
	votes = append(votes, vote)
	return Consent{Topic: consent.Topic, Votes: votes}
}

// ConsentOutcome evaluates objection-dominant precedence: any objection
// blocks, otherwise any concern needs discussion, otherwise safe to try
// (including zero votes).
func ConsentOutcome(consent Consent) Outcome {
	concern := false
	for _, v := range consent.Votes {
		switch v.Kind {
		case VoteObjection:
			return OutcomeBlocked
		case VoteConcern:
			concern = true
		}
	}
	if concern {
		return OutcomeDiscussionNeeded
	}
	return OutcomeSafeToTry
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
