package scheduling

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusevents/internal/apperr"
)

func TestParseTimeOfDay(t *testing.T) {
	valid := map[string]int{
		"00:00": 0,
		"09:30": 570,
		"12:00": 720,
		"23:59": 1439,
	}
	for in, want := range valid {
		got, err := ParseTimeOfDay("t", in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "9:30", "24:00", "12:60", "12-00", "ab:cd", "12:00:00", " 1:00"} {
		_, err := ParseTimeOfDay("start_time", in)
		var ve *apperr.ValidationError
		require.ErrorAs(t, err, &ve, in)
		assert.Equal(t, "start_time", ve.Field)
	}
}

func TestDate(t *testing.T) {
	d, err := ParseDate("start_date", "2024-06-01")
	require.NoError(t, err)
	assert.True(t, d.Equal(NewDate(2024, time.June, 1)))
	assert.Equal(t, "2024-06-02", d.AddDays(1).String())
	assert.True(t, d.Before(d.AddDays(1)))

	_, err = ParseDate("start_date", "01/06/2024")
	assert.True(t, apperr.IsValidation(err))

	local := time.Date(2024, time.June, 1, 23, 30, 0, 0, time.FixedZone("x", 5*3600))
	assert.Equal(t, "2024-06-01", DateOf(local).String())
}

func TestDateJSON(t *testing.T) {
	var s Slot
	require.NoError(t, json.Unmarshal([]byte(`{"start_date":"2024-06-01","end_date":"2024-06-03","start_time":"10:00","end_time":"12:00"}`), &s))
	assert.Equal(t, "2024-06-03", s.EndDate.String())

	out, err := json.Marshal(s.StartDate)
	require.NoError(t, err)
	assert.JSONEq(t, `"2024-06-01"`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"start_date":"June 1"}`), &s))
}

func TestDateScan(t *testing.T) {
	var d Date
	require.NoError(t, d.Scan(time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-06-01", d.String())
	require.NoError(t, d.Scan([]byte("2024-07-04")))
	assert.Equal(t, "2024-07-04", d.String())
	assert.Error(t, d.Scan(42))
}
