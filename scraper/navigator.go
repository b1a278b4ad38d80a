package scraper

import (
	"context"
	"errors"
	"fmt"

	"github.com/Callejox/watch-my-bag-scraper/utils"
)

// ErrExhausted is returned when every navigation strategy has failed for a
// page. The caller decides whether the run continues.
var ErrExhausted = errors.New("all navigation strategies exhausted")

// Target is one result page to fetch.
type Target struct {
	URL     string
	PageNum int // 1-based
}

// Strategy is one way of getting a result page rendered. Strategies are
// tried in escalation order and each must return the page HTML.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, target Target) (string, error)
}

// Navigator escalates through its strategies until one yields a page that
// the source recognizes as a result page. Every attempt, successful or not,
// is followed by the humanize hook and the attempt delay so request pacing
// stays constant regardless of which strategy answered.
type Navigator struct {
	strategies []Strategy
	validate   func(html string) int
	minItems   int
	humanize   func(ctx context.Context)
	delay      utils.DelayPolicy
	logger     *utils.Logger
}

// NewNavigator builds a navigator. validate returns the number of listing
// records in a page; pages with fewer than minItems are treated as failures
// (block pages and empty shells parse fine but carry no records).
func NewNavigator(strategies []Strategy, validate func(html string) int, minItems int, humanize func(ctx context.Context), delay utils.DelayPolicy, logger *utils.Logger) *Navigator {
	if minItems < 1 {
		minItems = 1
	}
	return &Navigator{
		strategies: strategies,
		validate:   validate,
		minItems:   minItems,
		humanize:   humanize,
		delay:      delay,
		logger:     logger,
	}
}

// Fetch tries each strategy in order and returns the first valid page.
// Returns ErrExhausted (wrapped) when none produced one.
func (n *Navigator) Fetch(ctx context.Context, target Target) (string, error) {
	var lastErr error

	for _, strat := range n.strategies {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		html, err := strat.Attempt(ctx, target)
		n.pause(ctx)

		if err != nil {
			n.logger.Warn("[navigator] Page %d via %s failed: %v", target.PageNum, strat.Name(), err)
			lastErr = err
			continue
		}

		count := n.validate(html)
		if count < n.minItems {
			n.logger.Warn("[navigator] Page %d via %s returned %d records, below minimum %d",
				target.PageNum, strat.Name(), count, n.minItems)
			lastErr = fmt.Errorf("strategy %s: page contains %d records", strat.Name(), count)
			continue
		}

		n.logger.Debug("[navigator] Page %d fetched via %s (%d records)", target.PageNum, strat.Name(), count)
		return html, nil
	}

	if lastErr != nil {
		return "", fmt.Errorf("%w: last error: %v", ErrExhausted, lastErr)
	}
	return "", ErrExhausted
}

// pause runs the humanize hook and the attempt delay. The delay is part of
// the pacing contract, not a retry backoff, so it applies after successes too.
func (n *Navigator) pause(ctx context.Context) {
	if n.humanize != nil {
		n.humanize(ctx)
	}
	if err := n.delay.Wait(ctx); err != nil {
		n.logger.Debug("[navigator] Delay interrupted: %v", err)
	}
}
