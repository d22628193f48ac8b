package clients

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusevents/internal/apperr"
	"campusevents/internal/rewards"
	"campusevents/internal/scheduling"
)

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSchedulingClient_ResolveSource(t *testing.T) {
	known := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events/"+known.String() {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(scheduling.Event{
			ID:        known,
			Title:     "Chess Open",
			StartDate: scheduling.NewDate(2024, time.June, 1),
			EndDate:   scheduling.NewDate(2024, time.June, 1),
		})
	}))
	defer srv.Close()

	c := NewSchedulingClient(srv.URL, quietLog())

	data, err := c.ResolveSource(context.Background(), known)
	require.NoError(t, err)
	assert.Equal(t, &rewards.SourceData{Kind: rewards.KindEvent, ID: known, Title: "Chess Open", Date: "2024-06-01"}, data)

	data, err = c.ResolveSource(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, data)

	_, err = c.GetEvent(context.Background(), uuid.New())
	assert.True(t, apperr.IsNotFound(err))
}

func TestSchedulingClient_BreakerOpensOnFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewSchedulingClient(srv.URL, quietLog())
	for i := 0; i < 5; i++ {
		_, err := c.GetEvent(context.Background(), uuid.New())
		require.Error(t, err)
	}
	require.Equal(t, int32(5), calls.Load())

	_, err := c.GetEvent(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")
	assert.Equal(t, int32(5), calls.Load())
}

func TestSchedulingClient_NotFoundDoesNotTrip(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewSchedulingClient(srv.URL, quietLog())
	for i := 0; i < 8; i++ {
		_, err := c.GetEvent(context.Background(), uuid.New())
		assert.True(t, apperr.IsNotFound(err))
	}
	assert.Equal(t, int32(8), calls.Load())
}

func TestSchedulingClient_AsResolver(t *testing.T) {
	var _ rewards.SourceResolver = (*SchedulingClient)(nil)
}
