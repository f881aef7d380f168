package session

import "strconv"

// MatchInput compares typed input against the expected answer, judging only
// once the input reaches the answer's full digit length. The comparison is
// textual on purpose: "007" is three characters, so it is judged complete and
// wrong rather than accepted as an alternate spelling of 7. UI input-feedback
// timing relies on this exact rule.
func MatchInput(input string, answer int) (complete, correct bool) {
	want := strconv.Itoa(answer)
	if len(input) < len(want) {
		return false, false
	}
	return true, input == want
}
