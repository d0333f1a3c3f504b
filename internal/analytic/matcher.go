package analytic

// Criteria carries the line attributes a rule is matched against.
type Criteria struct {
	TagIDs     []int64
	PartnerID  *int64
	CategoryID *int64
	ProductID  *int64
}

// Match selects the best rule for the given criteria. Archived rules and
// rules with no matching field are skipped. Ties on match score fall back
// to higher stored priority, then lowest rule id, keeping the outcome
// deterministic regardless of rule ordering.
func Match(rules []Rule, criteria Criteria) (Assignment, bool) {
	var (
		best      Rule
		bestScore int
		found     bool
	)
	for _, rule := range rules {
		if rule.IsArchived {
			continue
		}
		score := matchScore(rule, criteria)
		if score == 0 {
			continue
		}
		if !found || betterThan(rule, score, best, bestScore) {
			best = rule
			bestScore = score
			found = true
		}
	}
	if !found {
		return Assignment{}, false
	}
	return Assignment{AnalyticalAccountID: best.AnalyticalAccountID, BudgetID: best.BudgetID}, true
}

func matchScore(rule Rule, criteria Criteria) int {
	score := 0
	if rule.PartnerTagID != nil && containsID(criteria.TagIDs, *rule.PartnerTagID) {
		score++
	}
	if rule.PartnerID != nil && criteria.PartnerID != nil && *rule.PartnerID == *criteria.PartnerID {
		score++
	}
	if rule.ProductCategoryID != nil && criteria.CategoryID != nil && *rule.ProductCategoryID == *criteria.CategoryID {
		score++
	}
	if rule.ProductID != nil && criteria.ProductID != nil && *rule.ProductID == *criteria.ProductID {
		score++
	}
	return score
}

func betterThan(candidate Rule, candidateScore int, current Rule, currentScore int) bool {
	if candidateScore != currentScore {
		return candidateScore > currentScore
	}
	if candidate.Priority != current.Priority {
		return candidate.Priority > current.Priority
	}
	return candidate.ID < current.ID
}

func containsID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
