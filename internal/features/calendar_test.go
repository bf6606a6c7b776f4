package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeasonOf(t *testing.T) {
	testCases := []struct {
		month    time.Month
		expected Season
	}{
		{time.December, SeasonWinter},
		{time.January, SeasonWinter},
		{time.February, SeasonWinter},
		{time.March, SeasonSpring},
		{time.May, SeasonSpring},
		{time.June, SeasonSummer},
		{time.August, SeasonSummer},
		{time.September, SeasonFall},
		{time.November, SeasonFall},
	}

	for _, tc := range testCases {
		t.Run(tc.month.String(), func(t *testing.T) {
			d := time.Date(2025, tc.month, 15, 10, 0, 0, 0, time.UTC)
			assert.Equal(t, tc.expected, SeasonOf(d))
		})
	}
}

func TestDayOfWeek(t *testing.T) {
	assert.Equal(t, "Monday", DayOfWeek(time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Sunday", DayOfWeek(time.Date(2025, time.January, 12, 23, 59, 0, 0, time.UTC)))
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("07:05")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 7, Minute: 5}, tod)
	assert.Equal(t, "07:05", tod.String())

	for _, bad := range []string{"", "7", "24:00", "12:60", "noon"} {
		_, err := ParseTimeOfDay(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.March, d.Month())

	d, err = ParseDate("2025-03-01T09:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 9, d.Hour())

	_, err = ParseDate("March 1st")
	assert.Error(t, err)
}
