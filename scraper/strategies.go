package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/Callejox/watch-my-bag-scraper/scraper/browser"
	"github.com/Callejox/watch-my-bag-scraper/scraper/flaresolverr"
	"github.com/Callejox/watch-my-bag-scraper/utils"
)

// DirectStrategy loads the page URL straight into the local browser tab.
// Cheapest option and the first tried.
type DirectStrategy struct {
	Tab     *browser.Tab
	Timeout time.Duration
}

func (s *DirectStrategy) Name() string { return "direct" }

func (s *DirectStrategy) Attempt(ctx context.Context, target Target) (string, error) {
	return s.Tab.Navigate(ctx, target.URL, s.Timeout)
}

// ClickStrategy advances by clicking the pagination "next" control on the
// page already loaded in the tab. Some sources serve a block page on a
// direct deep-link but accept organic in-page navigation.
type ClickStrategy struct {
	Tab     *browser.Tab
	Timeout time.Duration
}

func (s *ClickStrategy) Name() string { return "click-next" }

func (s *ClickStrategy) Attempt(ctx context.Context, target Target) (string, error) {
	if target.PageNum <= 1 {
		return "", fmt.Errorf("click-next: no previous page to advance from")
	}
	return s.Tab.ClickNext(ctx, s.Timeout)
}

// SolverStrategy routes the fetch through a challenge-resolution proxy and
// injects the cookies it earned back into the local tab, so later direct
// attempts inherit the solved session. Last resort.
type SolverStrategy struct {
	Client *flaresolverr.Client
	Tab    *browser.Tab
	Logger *utils.Logger
}

func (s *SolverStrategy) Name() string { return "solver" }

func (s *SolverStrategy) Attempt(ctx context.Context, target Target) (string, error) {
	solution, err := s.Client.Get(ctx, target.URL)
	if err != nil {
		return "", err
	}

	cookies := make([]browser.Cookie, 0, len(solution.Cookies))
	for _, c := range solution.Cookies {
		cookies = append(cookies, browser.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	if err := s.Tab.SetCookies(ctx, cookies); err != nil {
		// The solved page is still usable without the cookie handoff.
		s.Logger.Warn("[solver] Cookie handoff failed: %v", err)
	}

	return solution.Response, nil
}
