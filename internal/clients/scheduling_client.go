// internal/clients/scheduling_client.go
package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"campusevents/internal/apperr"
	"campusevents/internal/rewards"
	"campusevents/internal/scheduling"
)

// SchedulingClient reads events from the scheduling service. Calls go through
// a circuit breaker so a down service fails fast instead of stalling callers.
type SchedulingClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewSchedulingClient(baseURL string, log *slog.Logger) *SchedulingClient {
	return &SchedulingClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 3 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "scheduling",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || apperr.IsNotFound(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (c *SchedulingClient) GetEvent(ctx context.Context, id uuid.UUID) (*scheduling.Event, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.getEvent(ctx, id)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("scheduling service unavailable: %w", err)
		}
		return nil, err
	}
	return result.(*scheduling.Event), nil
}

func (c *SchedulingClient) getEvent(ctx context.Context, id uuid.UUID) (*scheduling.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/events/%s", c.baseURL, id), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, apperr.NotFound("event", id)
	default:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var ev scheduling.Event
	if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// ResolveSource makes the client the Event resolver for point history. A
// deleted event resolves to nothing rather than an error.
func (c *SchedulingClient) ResolveSource(ctx context.Context, id uuid.UUID) (*rewards.SourceData, error) {
	ev, err := c.GetEvent(ctx, id)
	if apperr.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rewards.SourceData{
		Kind:  rewards.KindEvent,
		ID:    ev.ID,
		Title: ev.Title,
		Date:  ev.StartDate.String(),
	}, nil
}
