package browser

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/Callejox/watch-my-bag-scraper/utils"
)

// Cookie is a session cookie to inject into the local browser, typically
// handed back by the challenge-resolution proxy.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
}

// Browser owns a headless Chrome allocator shared by all tabs.
type Browser struct {
	allocCtx context.Context
	cancels  []context.CancelFunc
	logger   *utils.Logger
}

// New starts a headless browser. The binary is located from CHROME_BIN or
// well-known install paths.
func New(chromeBin string, logger *utils.Logger) (*Browser, error) {
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	logger.Info("[browser] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)

	// Suppress chromedp log noise
	silentCtx, cancelSilent := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	return &Browser{
		allocCtx: silentCtx,
		cancels:  []context.CancelFunc{cancelSilent, cancelAlloc},
		logger:   logger,
	}, nil
}

// Close shuts the browser down.
func (b *Browser) Close() {
	for _, cancel := range b.cancels {
		cancel()
	}
}

// NewTab opens a tab with its own session state. One tab lives for the
// duration of one query's collection so injected cookies carry across pages.
func (b *Browser) NewTab() *Tab {
	ctx, cancel := chromedp.NewContext(b.allocCtx)
	return &Tab{ctx: ctx, cancel: cancel, logger: b.logger}
}

// Tab is a single browser tab; all render-collaborator operations run here.
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *utils.Logger
}

// Close releases the tab.
func (t *Tab) Close() {
	t.cancel()
}

// Navigate loads a URL and returns the rendered HTML.
func (t *Tab) Navigate(ctx context.Context, url string, timeout time.Duration) (string, error) {
	runCtx, cancel := t.boundCtx(ctx, timeout)
	defer cancel()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(3*time.Second),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	return html, nil
}

// nextPageSelectors are tried in order when simulating a "next" click.
var nextPageSelectors = []string{
	"a[aria-label='Siguiente']",
	"a[aria-label='Next']",
	".pagination a.next",
	".pagination [rel='next']",
	"a[title='Siguiente página']",
	"a[title='Next page']",
	".pager-next a",
}

// ClickNext simulates a click on the pagination "next" control and returns
// the rendered HTML of the page that loads. Fails when no control is found.
func (t *Tab) ClickNext(ctx context.Context, timeout time.Duration) (string, error) {
	runCtx, cancel := t.boundCtx(ctx, timeout)
	defer cancel()

	script := `(function() {
		var selectors = [`
	for i, sel := range nextPageSelectors {
		if i > 0 {
			script += ","
		}
		script += fmt.Sprintf("%q", sel)
	}
	script += `];
		for (var i = 0; i < selectors.length; i++) {
			var el = document.querySelector(selectors[i]);
			if (el && el.offsetParent !== null) {
				el.scrollIntoView();
				el.click();
				return true;
			}
		}
		return false;
	})()`

	var clicked bool
	var html string
	err := chromedp.Run(runCtx,
		chromedp.Evaluate(script, &clicked),
	)
	if err != nil {
		return "", fmt.Errorf("browser: click next: %w", err)
	}
	if !clicked {
		return "", fmt.Errorf("browser: no visible next-page control")
	}

	err = chromedp.Run(runCtx,
		chromedp.Sleep(3*time.Second),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("browser: read page after click: %w", err)
	}
	return html, nil
}

// SetCookies injects session cookies into the tab, e.g. the fresh cookies a
// challenge-resolution proxy returns after solving a block page.
func (t *Tab) SetCookies(ctx context.Context, cookies []Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	runCtx, cancel := t.boundCtx(ctx, 15*time.Second)
	defer cancel()

	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(cctx context.Context) error {
		expires := cdp.TimeSinceEpoch(time.Now().Add(24 * time.Hour))
		for _, c := range cookies {
			err := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly).
				WithExpires(&expires).
				Do(cctx)
			if err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("browser: inject cookies: %w", err)
	}
	t.logger.Debug("[browser] Injected %d session cookies", len(cookies))
	return nil
}

// SimulateReading performs a small amount of synthetic interaction (scroll
// plus pointer movement) so the next request looks less automated. Errors
// are reported but callers treat them as non-fatal.
func (t *Tab) SimulateReading(ctx context.Context) error {
	runCtx, cancel := t.boundCtx(ctx, 10*time.Second)
	defer cancel()

	scrollAmount := 100 + rand.Intn(400)
	x := float64(100 + rand.Intn(700))
	y := float64(100 + rand.Intn(500))

	err := chromedp.Run(runCtx,
		chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", scrollAmount), nil),
		chromedp.Sleep(time.Duration(300+rand.Intn(700))*time.Millisecond),
		chromedp.ActionFunc(func(cctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(cctx)
		}),
	)
	if err != nil {
		return fmt.Errorf("browser: simulate reading: %w", err)
	}
	return nil
}

func (t *Tab) boundCtx(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx := t.ctx
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(runCtx, deadline)
	}
	return context.WithTimeout(runCtx, timeout)
}

// findChromeBinary locates a Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
