package datetime_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuhao-qian/railbook/internal/datetime"
)

func date(m, d int) datetime.Date { return datetime.Date{Month: m, Day: d} }

func TestParseDate(t *testing.T) {
	d, err := datetime.ParseDate("06-17")
	require.NoError(t, err)
	assert.Equal(t, date(6, 17), d)
	assert.Equal(t, "06-17", d.String())

	for _, bad := range []string{"", "6-17", "06/17", "0a-17", "06-1"} {
		_, err := datetime.ParseDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestDateArithmetic(t *testing.T) {
	assert.Equal(t, date(7, 1), date(6, 30).AddDays(1))
	assert.Equal(t, date(8, 3), date(6, 30).AddDays(34))
	assert.Equal(t, date(6, 30), date(7, 1).SubDays(1))
	assert.Equal(t, date(6, 28), date(7, 3).SubDays(5))

	assert.Equal(t, 0, date(6, 5).DaysSince(date(6, 5)))
	assert.Equal(t, 1, date(7, 1).DaysSince(date(6, 30)))
	assert.Equal(t, 92, date(9, 1).DaysSince(date(6, 1)))
	assert.Equal(t, -3, date(6, 1).DaysSince(date(6, 4)))

	assert.True(t, date(6, 30).Before(date(7, 1)))
	assert.True(t, date(7, 1).Before(date(7, 2)))
	assert.False(t, date(7, 2).Before(date(7, 2)))
}

func TestParseTime(t *testing.T) {
	tm, err := datetime.ParseTime("08:05")
	require.NoError(t, err)
	assert.Equal(t, datetime.Time(485), tm)
	assert.Equal(t, "08:05", tm.String())
	assert.Equal(t, "23:59", datetime.Time(1439).String())

	_, err = datetime.ParseTime("8:05")
	assert.Error(t, err)
}

func TestDateTimeNormalization(t *testing.T) {
	// Schedule offsets exceed a day; At carries them into the date.
	dt := datetime.At(date(6, 30), 1500)
	assert.Equal(t, date(7, 1), dt.Date)
	assert.Equal(t, datetime.Time(60), dt.Time)
	assert.Equal(t, "07-01 01:00", dt.String())

	dt = datetime.At(date(6, 1), 2880)
	assert.Equal(t, date(6, 3), dt.Date)
	assert.Equal(t, datetime.Time(0), dt.Time)
}

func TestDateTimeSubAndBefore(t *testing.T) {
	a := datetime.At(date(6, 1), 1380)
	b := datetime.At(date(6, 2), 60)

	assert.Equal(t, 120, b.Sub(a))
	assert.Equal(t, -120, a.Sub(b))
	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.False(t, a.Before(a))
}
