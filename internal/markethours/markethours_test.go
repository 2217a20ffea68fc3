package markethours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// 2024-03-04 is a Monday.
func at(day, hour, min int) time.Time {
	return time.Date(2024, 3, day, hour, min, 0, 0, time.UTC)
}

func TestIsMarketOpen(t *testing.T) {
	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"monday morning", at(4, 9, 0), true},
		{"daily break", at(4, 22, 30), false},
		{"after break", at(4, 23, 0), true},
		{"friday before close", at(8, 21, 59), true},
		{"friday after close", at(8, 22, 0), false},
		{"saturday", at(9, 12, 0), false},
		{"sunday before open", at(10, 22, 59), false},
		{"sunday open", at(10, 23, 0), true},
		{"christmas", time.Date(2024, 12, 25, 12, 0, 0, 0, time.UTC), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, IsMarketOpen(c.t))
		})
	}
}

func TestIsMarketOpen_ConvertsZones(t *testing.T) {
	ny := time.FixedZone("EST", -5*3600)
	// 17:30 EST = 22:30 UTC, inside the break
	assert.False(t, IsMarketOpen(time.Date(2024, 3, 4, 17, 30, 0, 0, ny)))
}

func TestNextOpen(t *testing.T) {
	assert.Equal(t, at(4, 9, 0), NextOpen(at(4, 9, 0)))
	assert.Equal(t, at(4, 23, 0), NextOpen(at(4, 22, 15)))
	assert.Equal(t, at(10, 23, 0), NextOpen(at(8, 22, 0)))
}

func TestNextRollover(t *testing.T) {
	assert.Equal(t, at(4, 22, 0), NextRollover(at(4, 9, 0)))
	assert.Equal(t, at(5, 22, 0), NextRollover(at(4, 22, 0)))
	assert.Equal(t, at(5, 22, 0), NextRollover(at(4, 23, 30)))
}

func TestTradingDay(t *testing.T) {
	assert.Equal(t, at(4, 0, 0), TradingDay(at(4, 21, 59)))
	assert.Equal(t, at(5, 0, 0), TradingDay(at(4, 23, 0)))
}

func TestTimeUntilClose(t *testing.T) {
	assert.Equal(t, 2*time.Hour, TimeUntilClose(at(4, 20, 0)))
	assert.Zero(t, TimeUntilClose(at(9, 12, 0)))
}

func TestStatusString(t *testing.T) {
	assert.Contains(t, StatusString(at(4, 20, 0)), "market open, break in 2h0m")
	assert.Contains(t, StatusString(at(9, 12, 0)), "opens Sun 23:00 UTC")
}
