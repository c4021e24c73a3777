package flow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"

	"github.com/sergio/cotizador/internal/session"
)

// stepRunner abstracts the browser so the engine's retry and cancellation
// logic is testable without Chrome.
type stepRunner interface {
	RunStep(ctx context.Context, step *Step, data StepData) error
	ArtifactPath() string
	Close()
}

// target locations resolved by the iframe probe.
const (
	targetMain  = "main"
	targetFrame = "frame"
)

// browserRunner drives one Chrome instance for one flow execution. All
// acquired browser resources are scoped to the runner and released by Close.
type browserRunner struct {
	ctx        context.Context
	cancels    []context.CancelFunc
	providerID string

	downloadDir      string
	prompt           VerificationPrompt
	verificationWait time.Duration
	verbose          bool

	mu        sync.Mutex
	filenames map[string]string
	completed chan string
	artifact  string
}

func newBrowserRunner(ctx context.Context, opts Options, providerID string, sess *session.Session) (*browserRunner, error) {
	downloadDir := filepath.Join(opts.DownloadsDir, providerID)
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download dir for %s: %w", providerID, err)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	// Persistent profile keeps the authenticated state between runs.
	if sess != nil {
		allocOpts = append(allocOpts, chromedp.UserDataDir(sess.ProfileDir))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	r := &browserRunner{
		ctx:              browserCtx,
		cancels:          []context.CancelFunc{cancelBrowser, cancelAlloc},
		providerID:       providerID,
		downloadDir:      downloadDir,
		prompt:           opts.Prompt,
		verificationWait: opts.VerificationWait,
		verbose:          opts.Verbose,
		filenames:        make(map[string]string),
		completed:        make(chan string, 4),
	}
	chromedp.ListenTarget(browserCtx, r.onBrowserEvent)

	// Route downloads into the provider directory; events let wait_download
	// observe completion.
	err := chromedp.Run(browserCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(downloadDir).
			WithEventsEnabled(true),
	)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to launch browser for %s: %w", providerID, err)
	}
	return r, nil
}

func (r *browserRunner) onBrowserEvent(ev interface{}) {
	switch e := ev.(type) {
	case *browser.EventDownloadWillBegin:
		r.mu.Lock()
		r.filenames[e.GUID] = e.SuggestedFilename
		r.mu.Unlock()
	case *browser.EventDownloadProgress:
		if e.State != browser.DownloadProgressStateCompleted {
			return
		}
		r.mu.Lock()
		name := r.filenames[e.GUID]
		r.mu.Unlock()

		// With AllowAndName the file lands under its GUID; restore the
		// portal's suggested name.
		path := filepath.Join(r.downloadDir, e.GUID)
		if name != "" {
			renamed := filepath.Join(r.downloadDir, name)
			if err := os.Rename(path, renamed); err == nil {
				path = renamed
			}
		}
		select {
		case r.completed <- path:
		default:
		}
	}
}

// ArtifactPath returns the last completed download, if any.
func (r *browserRunner) ArtifactPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.artifact
}

// Close releases the browser context and the Chrome process.
func (r *browserRunner) Close() {
	for _, cancel := range r.cancels {
		cancel()
	}
}

// RunStep executes one step against the page, honoring the context deadline.
func (r *browserRunner) RunStep(ctx context.Context, step *Step, data StepData) error {
	// chromedp contexts carry the browser target; derive the deadline from
	// the step context onto it.
	tctx, cancel := context.WithCancel(r.ctx)
	defer cancel()
	stop := propagateDeadline(ctx, cancel)
	defer stop()

	err := r.runAction(tctx, step, data)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && step.FailureText != "" {
		if found, _ := r.textPresent(tctx, step.Frame, step.FailureText); found {
			if step.FailureIsAuth {
				return &AuthenticationError{Provider: r.providerID, Message: step.FailureText}
			}
			return &UnrecoverablePageError{Step: step.Name, Indicator: step.FailureText}
		}
	}
	return err
}

// propagateDeadline cancels the chromedp-derived context when the step
// context ends, without tying the browser lifetime to the step.
func propagateDeadline(stepCtx context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-stepCtx.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (r *browserRunner) runAction(ctx context.Context, step *Step, data StepData) error {
	switch step.Action {
	case ActionNavigate:
		return chromedp.Run(ctx, chromedp.Navigate(data.Expand(step.URL)))
	case ActionSleep:
		return chromedp.Run(ctx, chromedp.Sleep(time.Duration(step.DelaySeconds*float64(time.Second))))
	case ActionWaitText:
		return r.waitForText(ctx, step.Frame, data.Expand(step.Text))
	case ActionAssertAbsent:
		found, err := r.textPresent(ctx, step.Frame, data.Expand(step.Text))
		if err != nil {
			return err
		}
		if found {
			if step.FailureIsAuth {
				return &AuthenticationError{Provider: r.providerID, Message: step.Text}
			}
			return &UnrecoverablePageError{Step: step.Name, Indicator: step.Text}
		}
		return nil
	case ActionWaitVisible:
		_, _, err := r.waitForCandidate(ctx, step)
		return err
	case ActionClick:
		sel, where, err := r.waitForCandidate(ctx, step)
		if err != nil {
			return err
		}
		return r.click(ctx, where, step.Frame, sel)
	case ActionFill:
		sel, where, err := r.waitForCandidate(ctx, step)
		if err != nil {
			return err
		}
		return r.fill(ctx, where, step.Frame, sel, data.Expand(step.Value))
	case ActionSelect:
		sel, where, err := r.waitForCandidate(ctx, step)
		if err != nil {
			return err
		}
		return r.selectOption(ctx, where, step.Frame, sel, data.Expand(step.Value))
	case ActionWaitDownload:
		return r.waitForDownload(ctx)
	case ActionAwaitVerification:
		return r.awaitVerification(ctx, step, data)
	default:
		return fmt.Errorf("step %q: unsupported action %q", step.Name, step.Action)
	}
}

// waitForCandidate polls the step's candidate selectors until one is visible,
// probing the named iframe before the main document. Returns the selector and
// where it was found.
func (r *browserRunner) waitForCandidate(ctx context.Context, step *Step) (string, string, error) {
	candidates := step.CandidateSelectors()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		for _, sel := range candidates {
			where, err := r.locate(ctx, step.Frame, sel)
			if err != nil {
				return "", "", err
			}
			if where != "" {
				if r.verbose {
					log.Printf("[%s] step %q: %q found in %s", r.providerID, step.Name, sel, where)
				}
				return sel, where, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", "", fmt.Errorf("step %q: none of %d selector(s) became visible: %w",
				step.Name, len(candidates), ctx.Err())
		case <-ticker.C:
		}
	}
}

// locate reports whether sel is visible, checking the named iframe first and
// falling back to the main document. This probe order is fixed policy: the
// portals place the same logical control in either location depending on page
// state.
func (r *browserRunner) locate(ctx context.Context, frameSel, sel string) (string, error) {
	js := fmt.Sprintf(`(() => {
		const sel = %q;
		const frameSel = %q;
		const visible = (el) => !!el && (el.offsetParent !== null || el.getClientRects().length > 0);
		if (frameSel) {
			const f = document.querySelector(frameSel);
			if (f) {
				try {
					const el = f.contentDocument && f.contentDocument.querySelector(sel);
					if (visible(el)) return %q;
				} catch (e) {}
			}
		}
		if (visible(document.querySelector(sel))) return %q;
		return '';
	})()`, sel, frameSel, targetFrame, targetMain)

	var where string
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &where)); err != nil {
		return "", err
	}
	return where, nil
}

func (r *browserRunner) click(ctx context.Context, where, frameSel, sel string) error {
	if where == targetFrame {
		js := fmt.Sprintf(
			`document.querySelector(%q).contentDocument.querySelector(%q).click()`,
			frameSel, sel)
		return chromedp.Run(ctx, chromedp.Evaluate(js, nil))
	}
	return chromedp.Run(ctx, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible))
}

func (r *browserRunner) fill(ctx context.Context, where, frameSel, sel, value string) error {
	if where == targetFrame {
		js := fmt.Sprintf(`(() => {
			const el = document.querySelector(%q).contentDocument.querySelector(%q);
			el.value = %q;
			el.dispatchEvent(new Event('input', { bubbles: true }));
			el.dispatchEvent(new Event('change', { bubbles: true }));
		})()`, frameSel, sel, value)
		return chromedp.Run(ctx, chromedp.Evaluate(js, nil))
	}
	return chromedp.Run(ctx,
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, value, chromedp.ByQuery),
	)
}

func (r *browserRunner) selectOption(ctx context.Context, where, frameSel, sel, value string) error {
	doc := "document"
	if where == targetFrame {
		doc = fmt.Sprintf("document.querySelector(%q).contentDocument", frameSel)
	}
	// Match by option value first, then by visible label.
	js := fmt.Sprintf(`(() => {
		const el = %s.querySelector(%q);
		const want = %q;
		let matched = false;
		for (const opt of el.options) {
			if (opt.value === want || opt.text.trim() === want) {
				el.value = opt.value;
				matched = true;
				break;
			}
		}
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return matched;
	})()`, doc, sel, value)

	var matched bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &matched)); err != nil {
		return err
	}
	if !matched {
		return fmt.Errorf("no option %q in select %q", value, sel)
	}
	return nil
}

func (r *browserRunner) waitForText(ctx context.Context, frameSel, text string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		found, err := r.textPresent(ctx, frameSel, text)
		if err != nil {
			return err
		}
		if found {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("text %q not observed: %w", text, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *browserRunner) textPresent(ctx context.Context, frameSel, text string) (bool, error) {
	js := fmt.Sprintf(`(() => {
		const want = %q;
		const frameSel = %q;
		if (document.body && document.body.innerText.includes(want)) return true;
		if (frameSel) {
			const f = document.querySelector(frameSel);
			try {
				if (f && f.contentDocument && f.contentDocument.body &&
					f.contentDocument.body.innerText.includes(want)) return true;
			} catch (e) {}
		}
		return false;
	})()`, text, frameSel)

	var found bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &found)); err != nil {
		return false, err
	}
	return found, nil
}

func (r *browserRunner) waitForDownload(ctx context.Context) error {
	select {
	case path := <-r.completed:
		r.mu.Lock()
		r.artifact = path
		r.mu.Unlock()
		if r.verbose {
			log.Printf("[%s] download completed: %s", r.providerID, path)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("download not observed: %w", ctx.Err())
	}
}

// classifyVerificationProbe decides what a failed verification probe means.
// The probe's own deadline expiring says the code input never appeared and
// returns nil; the step context ending, or any browser failure, surfaces so
// the step does not silently continue on a dead page.
func classifyVerificationProbe(stepCtx context.Context, err error) error {
	if stepCtx.Err() != nil {
		return stepCtx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// awaitVerification handles the MFA suspension point. When the code input is
// not on the page the session is already trusted and the step is a no-op;
// otherwise the flow suspends until the operator supplies the code.
func (r *browserRunner) awaitVerification(ctx context.Context, step *Step, data StepData) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	sel, where, err := r.waitForCandidate(probeCtx, step)
	cancel()
	if err != nil {
		if perr := classifyVerificationProbe(ctx, err); perr != nil {
			return perr
		}
		// Code input never appeared: no verification required.
		if r.verbose {
			log.Printf("[%s] step %q: no verification prompt, continuing", r.providerID, step.Name)
		}
		return nil
	}

	if r.prompt == nil {
		return &VerificationTimeoutError{Provider: r.providerID, Wait: 0}
	}

	log.Printf("[%s] verification required, waiting for code (up to %s)...", r.providerID, r.verificationWait)
	code, err := r.prompt(ctx, r.providerID)
	if err != nil {
		return &VerificationTimeoutError{Provider: r.providerID, Wait: r.verificationWait}
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return &VerificationTimeoutError{Provider: r.providerID, Wait: r.verificationWait}
	}
	return r.fill(ctx, where, step.Frame, sel, code)
}
