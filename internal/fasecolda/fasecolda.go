// Package fasecolda resolves the Fasecolda vehicle codes (CF and CH) that
// some insurer portals require, by searching the public vehicle value guide.
package fasecolda

import (
	"context"
	"log"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/sergio/cotizador/internal/types"
)

// DefaultURL is the public vehicle value guide search page.
const DefaultURL = "https://www.fasecolda.com/guia-de-valores-old/"

// scoreThreshold is the minimum reference-token overlap for a guide candidate
// to be accepted.
const scoreThreshold = 0.3

// renderFunc performs the guide search and returns the rendered results HTML.
type renderFunc func(ctx context.Context, vehicle types.Vehicle) (string, error)

// Resolver looks up vehicle codes on the guide site. Manually supplied codes
// on the vehicle always win and skip the lookup entirely.
type Resolver struct {
	url      string
	headless bool
	timeout  time.Duration
	verbose  bool
	render   renderFunc
}

// New creates a Resolver against the given guide URL (DefaultURL when empty).
func New(url string, headless, verbose bool) *Resolver {
	if url == "" {
		url = DefaultURL
	}
	r := &Resolver{
		url:      url,
		headless: headless,
		timeout:  60 * time.Second,
		verbose:  verbose,
	}
	r.render = r.renderSearch
	return r
}

// Resolve returns the CF/CH codes for a vehicle. Vehicles carrying a manual
// CF code are returned as-is without touching the guide site.
func (r *Resolver) Resolve(ctx context.Context, vehicle types.Vehicle) (types.FasecoldaCodes, error) {
	if vehicle.CFCode != "" {
		if r.verbose {
			log.Printf("[fasecolda] using manual codes for %s (cf=%s)", vehicle.Plate, vehicle.CFCode)
		}
		return types.FasecoldaCodes{CF: vehicle.CFCode, CH: vehicle.CHCode}, nil
	}

	html, err := r.render(ctx, vehicle)
	if err != nil {
		return types.FasecoldaCodes{}, &LookupError{Message: "guide search failed", Cause: err}
	}

	candidates, err := parseCandidates(html)
	if err != nil {
		return types.FasecoldaCodes{}, &LookupError{Message: "failed to parse guide results", Cause: err}
	}

	best, score := selectBest(candidates, vehicle.FullReference)
	if best == nil || score < scoreThreshold {
		return types.FasecoldaCodes{}, &NotFoundError{Reference: vehicle.FullReference}
	}
	if r.verbose {
		log.Printf("[fasecolda] matched %q (score %.2f, cf=%s)", best.Name, score, best.CF)
	}
	return types.FasecoldaCodes{CF: best.CF, CH: best.CH}, nil
}

// renderSearch drives the guide's search form in a headless browser and
// returns the rendered results markup.
func (r *Resolver) renderSearch(ctx context.Context, vehicle types.Vehicle) (string, error) {
	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", r.headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)...,
	)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, r.timeout)
	defer cancel()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(r.url),
		chromedp.WaitVisible(`#fe-categoria`),
		setSelect(`#fe-categoria`, vehicle.Category),
		setSelect(`#fe-estado`, vehicle.State),
		setSelect(`#fe-modelo`, vehicle.ModelYear),
		setSelect(`#fe-marca`, vehicle.Brand),
		chromedp.SendKeys(`#fe-refe1`, vehicle.Reference),
		chromedp.Click(`button.btn.btn-red.fe-submit`),
		chromedp.WaitVisible(`.car-result-container`),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", err
	}
	return html, nil
}

// setSelect sets a <select> value and fires the change event the page's
// scripts listen for.
func setSelect(selector, value string) chromedp.Action {
	return chromedp.Tasks{
		chromedp.SetValue(selector, value),
		chromedp.Evaluate(
			`document.querySelector(`+"`"+selector+"`"+`).dispatchEvent(new Event('change', {bubbles: true}))`,
			nil,
		),
	}
}
