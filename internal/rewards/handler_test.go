package rewards

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"campusevents/internal/notify"
	"campusevents/internal/platform"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(NewMemoryStore(), nil, notify.NewLogPublisher(log), log)

	r := platform.NewRouter(log)
	r.Group(func(r chi.Router) {
		NewHandler(svc, log, rate.NewLimiter(rate.Inf, 1)).Routes(r)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func send(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	return sendAs(t, method, url, body, uuid.New())
}

func sendAs(t *testing.T, method, url, body string, actor uuid.UUID) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(platform.ActorHeader, actor.String())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHandler_PointsAndLevels(t *testing.T) {
	srv := newTestServer(t)
	user := uuid.NewString()

	resp := send(t, http.MethodPost, srv.URL+"/rewards/points",
		`{"user_id":"`+user+`","amount":175,"reason":"Won the chess open","source":"event_participation","skills":{"chess":175}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	grant := decodeBody[grantResponse](t, resp)
	assert.Equal(t, 175, grant.Points)
	assert.Equal(t, LevelInfo{CurrentLevel: 2, PointsToNextLevel: 150, LevelProgress: 50}, grant.LevelInfo)

	resp = send(t, http.MethodGet, srv.URL+"/rewards/"+user, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reward := decodeBody[Reward](t, resp)
	assert.Equal(t, 175, reward.Total)
	assert.Equal(t, 175, reward.SkillPoints["chess"])

	resp = send(t, http.MethodGet, srv.URL+"/rewards/"+user+"/history?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decodeBody[HistoryPage](t, resp)
	require.Len(t, history.History, 1)
	assert.Equal(t, "Won the chess open", history.History[0].Reason)

	resp = send(t, http.MethodGet, srv.URL+"/leaderboard?category=chess", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	board := decodeBody[LeaderboardPage](t, resp)
	require.Len(t, board.Leaderboard, 1)
	assert.Equal(t, 10, board.Pagination.Limit)
}

func TestHandler_PointsValidation(t *testing.T) {
	srv := newTestServer(t)
	user := uuid.NewString()

	for name, body := range map[string]string{
		"zero amount":    `{"user_id":"` + user + `","amount":0,"reason":"r","source":"other"}`,
		"missing reason": `{"user_id":"` + user + `","amount":5,"source":"other"}`,
		"unknown source": `{"user_id":"` + user + `","amount":5,"reason":"r","source":"bribe"}`,
		"bad kind":       `{"user_id":"` + user + `","amount":5,"reason":"r","source":"other","source_ref":{"kind":"Payment","id":"` + uuid.NewString() + `"}}`,
		"not json":       `amount=5`,
		"huge amount":    `{"user_id":"` + user + `","amount":9223372036854775807,"reason":"r","source":"other"}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := send(t, http.MethodPost, srv.URL+"/rewards/points", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestHandler_BadgesAndAchievements(t *testing.T) {
	srv := newTestServer(t)
	user := uuid.NewString()
	base := srv.URL + "/rewards/" + user

	badge := `{"name":"Early Bird","description":"First to register","category":"participation","level":"bronze"}`
	resp := send(t, http.MethodPost, base+"/badges", badge)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = send(t, http.MethodPost, base+"/badges", badge)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = send(t, http.MethodPost, base+"/badges", `{"name":"X","description":"d","category":"participation","level":"wood"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = send(t, http.MethodPost, base+"/achievements",
		`{"title":"Chess Regular","description":"Play 2 tournaments","category":"participation","target":2,"points_awarded":100}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = send(t, http.MethodPost, base+"/achievements",
		`{"title":"Zero","description":"d","category":"c","target":0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	title := url.PathEscape("Chess Regular")
	resp = send(t, http.MethodPut, base+"/achievements/"+title, `{"progress":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	update := decodeBody[AchievementUpdate](t, resp)
	assert.True(t, update.Completed)
	assert.Equal(t, 100, update.Achievement.Progress.Percentage)

	resp = send(t, http.MethodPut, base+"/achievements/"+title, `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = send(t, http.MethodPut, base+"/achievements/Unknown", `{"progress":1}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = send(t, http.MethodGet, base, "")
	reward := decodeBody[Reward](t, resp)
	assert.Equal(t, 100, reward.Total)
	assert.Len(t, reward.Badges, 1)
}

func TestHandler_MaintenanceExpire(t *testing.T) {
	srv := newTestServer(t)
	user := uuid.NewString()

	resp := send(t, http.MethodPost, srv.URL+"/rewards/points",
		`{"user_id":"`+user+`","amount":50,"reason":"r","source":"other","expires_at":"2020-01-01T00:00:00Z"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = send(t, http.MethodPost, srv.URL+"/maintenance/expire", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.EqualValues(t, 1, body["updated"])

	resp = send(t, http.MethodGet, srv.URL+"/rewards/"+user, "")
	assert.Equal(t, 0, decodeBody[Reward](t, resp).Total)
}

func TestHandler_UnknownUserHistory(t *testing.T) {
	srv := newTestServer(t)
	resp := send(t, http.MethodGet, srv.URL+"/rewards/"+uuid.NewString()+"/history", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = send(t, http.MethodGet, srv.URL+"/rewards/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_CatalogAndRedemption(t *testing.T) {
	srv := newTestServer(t)
	user := uuid.New()

	resp := send(t, http.MethodPost, srv.URL+"/rewards/points",
		`{"user_id":"`+user.String()+`","amount":120,"reason":"Volunteered","source":"volunteer_work"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = send(t, http.MethodPost, srv.URL+"/catalog",
		`{"title":"Hoodie","description":"Club hoodie","image_url":"https://example.org/hoodie.png","points":100,"category":"Merchandise","quantity":1}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	item := decodeBody[CatalogItem](t, resp)
	assert.True(t, item.Available)

	resp = send(t, http.MethodPost, srv.URL+"/catalog",
		`{"title":"Hoodie","description":"d","image_url":"https://example.org/h.png","points":10,"category":"Snacks","quantity":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = sendAs(t, http.MethodPost, srv.URL+"/catalog/"+item.ID.String()+"/redeem", "", user)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	result := decodeBody[RedeemResult](t, resp)
	assert.Equal(t, 20, result.RemainingPoints)
	assert.Equal(t, RedemptionPending, result.Redemption.Status)

	resp = sendAs(t, http.MethodPost, srv.URL+"/catalog/"+item.ID.String()+"/redeem", "", user)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = send(t, http.MethodGet, srv.URL+"/catalog", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]CatalogItem](t, resp))
	resp = send(t, http.MethodGet, srv.URL+"/catalog?all=true", "")
	assert.Len(t, decodeBody[[]CatalogItem](t, resp), 1)

	resp = send(t, http.MethodGet, srv.URL+"/rewards/"+user.String()+"/redemptions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]Redemption](t, resp), 1)

	statusURL := srv.URL + "/redemptions/" + result.Redemption.ID.String() + "/status"
	resp = send(t, http.MethodPut, statusURL, `{"status":"shipped"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = send(t, http.MethodPut, statusURL, `{"status":"cancelled","notes":"out of size"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, RedemptionCancelled, decodeBody[Redemption](t, resp).Status)

	resp = send(t, http.MethodGet, srv.URL+"/rewards/"+user.String(), "")
	assert.Equal(t, 120, decodeBody[Reward](t, resp).Total)
	resp = send(t, http.MethodGet, srv.URL+"/catalog/"+item.ID.String(), "")
	restocked := decodeBody[CatalogItem](t, resp)
	assert.Equal(t, 1, restocked.Quantity)
	assert.True(t, restocked.Available)

	resp = send(t, http.MethodPut, srv.URL+"/catalog/"+item.ID.String(), `{"points":150}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 150, decodeBody[CatalogItem](t, resp).Points)

	resp = send(t, http.MethodDelete, srv.URL+"/catalog/"+item.ID.String(), "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = send(t, http.MethodGet, srv.URL+"/catalog/"+item.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
