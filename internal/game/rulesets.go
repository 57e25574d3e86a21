package game

import (
	"math/rand"
	"strings"
)

// Ruleset is a themed template from which a document's constraints are drawn.
// Each of the four public categories contributes one facet, plus one hidden
// facet only the owner sees.
type Ruleset struct {
	Name       string
	Tier       Tier
	Categories [PublicFacetCount][]string
	Hidden     []string
}

var defaultRulesets = []Ruleset{
	{
		Name: "containment-breach",
		Tier: TierC,
		Categories: [PublicFacetCount][]string{
			{"Safe", "Euclid", "Keter"},
			{"basement vault", "abandoned lighthouse", "orbital platform", "rural diner"},
			{"acoustic", "memetic", "biological", "temporal"},
			{"night shift", "audit week", "power outage"},
		},
		Hidden: []string{"the object is lonely", "a researcher is lying", "it has escaped before"},
	},
	{
		Name: "field-report",
		Tier: TierC,
		Categories: [PublicFacetCount][]string{
			{"recovered", "observed", "rumoured"},
			{"forest clearing", "subway tunnel", "school gym", "harbour"},
			{"mimicry", "hunger", "recursion", "silence"},
			{"first contact", "routine patrol", "evacuation"},
		},
		Hidden: []string{"the reporter is the anomaly", "nothing was found", "the map is wrong"},
	},
	{
		Name: "interview-log",
		Tier: TierB,
		Categories: [PublicFacetCount][]string{
			{"cooperative", "hostile", "evasive"},
			{"holding cell", "video call", "hospital ward"},
			{"speaks backwards", "remembers the future", "cannot be recorded"},
			{"translator present", "interviewer replaced", "tape damaged"},
		},
		Hidden: []string{"the interviewer already knew", "two subjects share one voice", "the log is incomplete"},
	},
	{
		Name: "incident-chain",
		Tier: TierB,
		Categories: [PublicFacetCount][]string{
			{"cascade", "single event", "recurring"},
			{"research site", "cruise ship", "mountain pass"},
			{"gravity", "colour", "names", "shadows"},
			{"three casualties", "no witnesses", "live broadcast"},
		},
		Hidden: []string{"the first incident never happened", "staff caused it", "it is still ongoing"},
	},
	{
		Name: "redacted-archive",
		Tier: TierA,
		Categories: [PublicFacetCount][]string{
			{"Apollyon", "Thaumiel", "Neutralized"},
			{"deep sea", "another dimension", "inside a book"},
			{"narrative", "probability", "identity", "language"},
			{"council vote", "reality shift", "document leak"},
		},
		Hidden: []string{"the reader is affected", "the archive is the anomaly", "every author is the same person"},
	},
	{
		Name: "exploration-log",
		Tier: TierA,
		Categories: [PublicFacetCount][]string{
			{"probe", "team", "volunteer"},
			{"endless corridor", "hollow moon", "childhood home"},
			{"time loop", "non-euclidean", "sentient architecture"},
			{"contact lost", "signal returned", "log repeats"},
		},
		Hidden: []string{"the team never left", "the exit moved", "someone extra returned"},
	},
}

// allowedTiers lists the ruleset tiers a participant of tier t may receive.
func allowedTiers(t Tier) []Tier {
	switch t {
	case TierA:
		return []Tier{TierA, TierB, TierC}
	case TierB:
		return []Tier{TierB, TierC}
	}
	return []Tier{TierC}
}

func pickRuleset(rng *rand.Rand, rulesets []Ruleset, t Tier) Ruleset {
	allowed := allowedTiers(t)
	candidates := make([]Ruleset, 0, len(rulesets))
	for _, rs := range rulesets {
		for _, a := range allowed {
			if rs.Tier == a {
				candidates = append(candidates, rs)
				break
			}
		}
	}
	if len(candidates) == 0 {
		candidates = rulesets
	}
	return candidates[rng.Intn(len(candidates))]
}

// instantiate draws one facet from each category and one hidden facet.
func (rs Ruleset) instantiate(rng *rand.Rand) ConstraintSet {
	cs := ConstraintSet{Ruleset: rs.Name, Public: make([]string, 0, PublicFacetCount)}
	for _, cat := range rs.Categories {
		cs.Public = append(cs.Public, pickOne(rng, cat))
	}
	cs.Hidden = pickOne(rng, rs.Hidden)
	return cs
}

func pickOne(rng *rand.Rand, xs []string) string {
	if len(xs) == 0 {
		return ""
	}
	return xs[rng.Intn(len(xs))]
}

// distributeKeywords flattens the submitted batches, shuffles them and slices
// consecutive chunks of SuggestionCount, one per participant in order. Short
// pools leave trailing participants with fewer keywords.
func distributeKeywords(rng *rand.Rand, batches [][]string, n int) [][]string {
	pool := make([]string, 0, n*SuggestionCount)
	for _, b := range batches {
		pool = append(pool, b...)
	}
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	out := make([][]string, n)
	for i := range out {
		lo := i * SuggestionCount
		hi := lo + SuggestionCount
		if lo > len(pool) {
			lo = len(pool)
		}
		if hi > len(pool) {
			hi = len(pool)
		}
		out[i] = append([]string(nil), pool[lo:hi]...)
	}
	return out
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		out = append(out, strings.TrimSpace(k))
	}
	return out
}
