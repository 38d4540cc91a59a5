package supervisor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ragnarhq/ragnar-init/internal/logger"
)

var errNotReady = errors.New("not ready")

// ReadyCheck polls an HTTP endpoint of the serving runtime until its body
// contains Match. A zero URL disables the check.
type ReadyCheck struct {
	URL      string
	Match    string
	Timeout  time.Duration
	Interval time.Duration
}

func (r ReadyCheck) interval() time.Duration {
	if r.Interval > 0 {
		return r.Interval
	}
	return 500 * time.Millisecond
}

// wait returns nil once ready, errNotReady after Timeout and ctx.Err() if
// ctx ends first.
func (r ReadyCheck) wait(ctx context.Context) error {
	if r.URL == "" {
		return nil
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	client := resty.New().SetTimeout(2 * time.Second)
	ticker := time.NewTicker(r.interval())
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		if r.probe(ctx, client) {
			logger.Info("serving runtime ready at %s after %d attempt(s)", r.URL, attempt)
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errNotReady
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r ReadyCheck) probe(ctx context.Context, client *resty.Client) bool {
	resp, err := client.R().SetContext(ctx).Get(r.URL)
	if err != nil {
		logger.Debug("ready probe %s: %v", r.URL, err)
		return false
	}
	if resp.IsError() {
		logger.Debug("ready probe %s: status %d", r.URL, resp.StatusCode())
		return false
	}
	return strings.Contains(resp.String(), r.Match)
}
