package fasecolda

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergio/cotizador/internal/types"
)

func resultsPage(entries ...Candidate) string {
	var b strings.Builder
	b.WriteString("<html><body><div id='results'>")
	for _, e := range entries {
		fmt.Fprintf(&b,
			`<div class="car-result-container"><span class="car-reference">%s</span><span class="car-code">%s</span><span class="car-ch">%s</span></div>`,
			e.Name, e.CF, e.CH)
	}
	b.WriteString("</div></body></html>")
	return b.String()
}

func stubResolver(html string, err error) *Resolver {
	r := New("", true, false)
	r.render = func(context.Context, types.Vehicle) (string, error) {
		return html, err
	}
	return r
}

func TestResolveManualCodesSkipLookup(t *testing.T) {
	r := stubResolver("", errors.New("must not be called"))

	codes, err := r.Resolve(context.Background(), types.Vehicle{
		CFCode: "08102097",
		CHCode: "CH123",
	})

	require.NoError(t, err)
	assert.Equal(t, types.FasecoldaCodes{CF: "08102097", CH: "CH123"}, codes)
}

func TestResolvePicksBestScoringCandidate(t *testing.T) {
	html := resultsPage(
		Candidate{Name: "MAZDA CX-30 TOURING TP 2000CC", CF: "11111111", CH: "C1"},
		Candidate{Name: "MAZDA CX-30 GRAND TOURING TP 2500CC", CF: "22222222", CH: "C2"},
		Candidate{Name: "MAZDA 3 SEDAN", CF: "33333333", CH: "C3"},
	)
	r := stubResolver(html, nil)

	codes, err := r.Resolve(context.Background(), types.Vehicle{
		FullReference: "Mazda CX-30 Grand Touring",
	})

	require.NoError(t, err)
	assert.Equal(t, "22222222", codes.CF)
	assert.Equal(t, "C2", codes.CH)
}

func TestResolveRejectsWeakMatches(t *testing.T) {
	html := resultsPage(
		Candidate{Name: "RENAULT LOGAN EXPRESSION", CF: "44444444"},
	)
	r := stubResolver(html, nil)

	_, err := r.Resolve(context.Background(), types.Vehicle{
		FullReference: "Mazda CX-30 Grand Touring",
	})

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Contains(t, notFound.Error(), "Mazda CX-30 Grand Touring")
}

func TestResolveEmptyResultsIsNotFound(t *testing.T) {
	r := stubResolver("<html><body></body></html>", nil)

	_, err := r.Resolve(context.Background(), types.Vehicle{FullReference: "Mazda CX-30"})

	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestResolveWrapsRenderFailures(t *testing.T) {
	cause := errors.New("net::ERR_CONNECTION_REFUSED")
	r := stubResolver("", cause)

	_, err := r.Resolve(context.Background(), types.Vehicle{FullReference: "Mazda CX-30"})

	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.ErrorIs(t, err, cause)
}

func TestParseCandidatesSkipsEntriesWithoutCode(t *testing.T) {
	html := `<html><body>
		<div class="car-result-container"><span class="car-reference">NO CODE</span></div>
		<div class="car-result-container"><span class="car-reference">MAZDA 3</span><span class="car-code">55555555</span></div>
	</body></html>`

	candidates, err := parseCandidates(html)

	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "MAZDA 3", candidates[0].Name)
	assert.Equal(t, "55555555", candidates[0].CF)
}

func TestParseCandidatesFallsBackToContainerText(t *testing.T) {
	html := `<html><body>
		<div class="car-result-container">MAZDA CX-30 GRAND TOURING <span class="car-code">66666666</span></div>
	</body></html>`

	candidates, err := parseCandidates(html)

	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Contains(t, candidates[0].Name, "MAZDA CX-30 GRAND TOURING")
}

func TestSelectBestTieKeepsEarlierEntry(t *testing.T) {
	candidates := []Candidate{
		{Name: "MAZDA CX-30", CF: "1"},
		{Name: "MAZDA CX-30", CF: "2"},
	}

	best, score := selectBest(candidates, "Mazda CX-30")

	require.NotNil(t, best)
	assert.Equal(t, "1", best.CF)
	assert.InDelta(t, 1.0, score, 0.001)
}

func TestOverlapScore(t *testing.T) {
	tests := []struct {
		name      string
		reference string
		candidate string
		want      float64
	}{
		{"exact", "mazda cx 30", "MAZDA CX-30", 1.0},
		{"partial", "mazda cx 30 grand touring", "MAZDA CX-30", 0.6},
		{"disjoint", "renault logan", "MAZDA CX-30", 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := overlapScore(tokenize(tt.reference), tokenize(tt.candidate))
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}
}
