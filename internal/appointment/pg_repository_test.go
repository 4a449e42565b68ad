package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountByDay(t *testing.T) {
	gaborone, err := time.LoadLocation("Africa/Gaborone")
	require.NoError(t, err)

	late := time.Date(2025, time.January, 6, 23, 30, 0, 0, time.UTC)
	datetimes := []time.Time{late, day(time.January, 6), day(time.January, 7)}

	assert.Equal(t, map[string]int{"2025-01-06": 2, "2025-01-07": 1}, countByDay(datetimes, nil))
	assert.Equal(t, map[string]int{"2025-01-06": 1, "2025-01-07": 2}, countByDay(datetimes, gaborone))

	local := countByDay(datetimes, time.Local)
	total := 0
	for d, n := range local {
		_, err := time.Parse("2006-01-02", d)
		assert.NoError(t, err, d)
		total += n
	}
	assert.Equal(t, 3, total)
}
