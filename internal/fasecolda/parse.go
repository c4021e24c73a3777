package fasecolda

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Candidate is one vehicle entry from the guide's result list.
type Candidate struct {
	Name string
	CF   string
	CH   string
}

// parseCandidates extracts the result entries from the rendered guide page.
// A page without result containers yields an empty slice, not an error.
func parseCandidates(html string) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	doc.Find(".car-result-container").Each(func(_ int, s *goquery.Selection) {
		c := Candidate{
			Name: strings.TrimSpace(s.Find(".car-reference").Text()),
			CF:   strings.TrimSpace(s.Find(".car-code").First().Text()),
			CH:   strings.TrimSpace(s.Find(".car-ch").First().Text()),
		}
		if c.Name == "" {
			// Some layouts render the reference as plain container text.
			c.Name = strings.TrimSpace(s.Text())
		}
		if c.CF != "" {
			candidates = append(candidates, c)
		}
	})
	return candidates, nil
}

// selectBest returns the candidate whose name shares the most tokens with the
// requested reference, together with its score. Ties keep the earlier entry,
// matching the guide's own relevance ordering.
func selectBest(candidates []Candidate, reference string) (*Candidate, float64) {
	refTokens := tokenize(reference)
	if len(refTokens) == 0 {
		return nil, 0
	}

	var best *Candidate
	var bestScore float64
	for i := range candidates {
		score := overlapScore(refTokens, tokenize(candidates[i].Name))
		if score > bestScore {
			best = &candidates[i]
			bestScore = score
		}
	}
	return best, bestScore
}

// overlapScore is the fraction of reference tokens present in the candidate.
func overlapScore(refTokens, nameTokens []string) float64 {
	if len(refTokens) == 0 {
		return 0
	}
	present := make(map[string]bool, len(nameTokens))
	for _, t := range nameTokens {
		present[t] = true
	}
	matched := 0
	for _, t := range refTokens {
		if present[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(refTokens))
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	var tokens []string
	for _, f := range fields {
		if len(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
