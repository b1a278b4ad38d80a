package flaresolverr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/Callejox/watch-my-bag-scraper/utils"
)

// Client talks to a FlareSolverr-compatible challenge-resolution endpoint.
// Calls are rate limited so a burst of escalations cannot hammer the solver.
type Client struct {
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *utils.Logger
}

// Cookie is one session cookie returned by the solver.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Secure   bool   `json:"secure"`
	HTTPOnly bool   `json:"httpOnly"`
}

// Solution holds the solved page and the session cookies that unlocked it.
type Solution struct {
	Response string   `json:"response"`
	Cookies  []Cookie `json:"cookies"`
	Status   int      `json:"status"`
}

type request struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url"`
	MaxTimeout int    `json:"maxTimeout"`
}

type response struct {
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	Solution Solution `json:"solution"`
}

// New builds a solver client. minGap is the minimum spacing between calls.
func New(endpoint string, timeout time.Duration, minGap time.Duration, logger *utils.Logger) *Client {
	if minGap <= 0 {
		minGap = time.Second
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout + 10*time.Second},
		limiter:  rate.NewLimiter(rate.Every(minGap), 1),
		timeout:  timeout,
		logger:   logger,
	}
}

// Get asks the solver to fetch a URL through its own challenge-aware browser
// and returns the solved page plus session cookies.
func (c *Client) Get(ctx context.Context, url string) (*Solution, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("flaresolverr: rate wait: %w", err)
	}

	body, err := json.Marshal(request{
		Cmd:        "request.get",
		URL:        url,
		MaxTimeout: int(c.timeout / time.Millisecond),
	})
	if err != nil {
		return nil, fmt.Errorf("flaresolverr: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("flaresolverr: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("[solver] Requesting %s via %s", url, c.endpoint)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flaresolverr: call %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("flaresolverr: endpoint returned HTTP %d", resp.StatusCode)
	}

	var parsed response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("flaresolverr: decode response: %w", err)
	}
	if parsed.Status != "ok" {
		return nil, fmt.Errorf("flaresolverr: solver status %q: %s", parsed.Status, parsed.Message)
	}
	if parsed.Solution.Status >= 400 {
		return nil, fmt.Errorf("flaresolverr: upstream returned HTTP %d", parsed.Solution.Status)
	}

	c.logger.Debug("[solver] Solved %s (%d cookies)", url, len(parsed.Solution.Cookies))
	return &parsed.Solution, nil
}
