package game

const (
	pointsPerBestVote     = 10
	complianceOwnerBonus  = 20
	complianceAuthorBonus = 5
)

// computeScores returns the score of every connection id from scratch. Owners
// earn per best vote; a strict majority of passing compliance checks rewards
// the owner and each recorded section author.
func computeScores(docs []*Document, votes Votes) map[string]int {
	scores := map[string]int{}
	for _, d := range docs {
		scores[d.OwnerConnID] += pointsPerBestVote * votes.Best[d.ID]

		checks := votes.Compliance[d.ID]
		if len(checks) == 0 {
			continue
		}
		passed := 0
		for _, ok := range checks {
			if ok {
				passed++
			}
		}
		if passed*2 <= len(checks) {
			continue
		}
		scores[d.OwnerConnID] += complianceOwnerBonus
		for _, author := range d.SectionAuthors {
			if author != "" {
				scores[author] += complianceAuthorBonus
			}
		}
	}
	return scores
}
