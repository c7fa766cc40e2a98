package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"inquest/internal/session"
)

// StoreChecker verifies the session store answers. Critical: without it
// no conversation state survives a turn.
type StoreChecker struct {
	Store session.Store
}

func (c *StoreChecker) Name() string   { return "session_store" }
func (c *StoreChecker) Critical() bool { return true }

func (c *StoreChecker) Check(ctx context.Context) error {
	// A missing session is the expected answer for a probe ID; only
	// transport-level failures count.
	_, err := c.Store.Get(ctx, "health-probe")
	if err == nil || errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrExpired) {
		return nil
	}
	return fmt.Errorf("session store: %w", err)
}

// EndpointChecker verifies an HTTP capability endpoint is reachable.
// Non-critical: the pipeline degrades without the language-model service
// but still answers.
type EndpointChecker struct {
	Component string
	URL       string
	Client    *http.Client
}

func (c *EndpointChecker) Name() string   { return c.Component }
func (c *EndpointChecker) Critical() bool { return false }

func (c *EndpointChecker) Check(ctx context.Context) error {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s unreachable: %w", c.Component, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s returned status %d", c.Component, resp.StatusCode)
	}
	return nil
}
