package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan(t *testing.T) {
	t.Run("one month back from mid-March", func(t *testing.T) {
		now := time.Date(2024, 3, 15, 10, 23, 45, 123, time.UTC)

		win, err := Plan(1, now)
		require.NoError(t, err)

		assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), win.Start)
		assert.Equal(t, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC), win.End)
	})

	t.Run("year rollover", func(t *testing.T) {
		now := time.Date(2024, 2, 10, 5, 0, 0, 0, time.UTC)

		win, err := Plan(10, now)
		require.NoError(t, err)

		assert.Equal(t, time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC), win.Start)
	})

	t.Run("multiple year rollover", func(t *testing.T) {
		now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

		win, err := Plan(27, now)
		require.NoError(t, err)

		assert.Equal(t, time.Date(2021, 12, 1, 0, 0, 0, 0, time.UTC), win.Start)
	})

	t.Run("end truncated to hour and start before end", func(t *testing.T) {
		for _, months := range []int{1, 3, 12, 24} {
			win, err := Plan(months, time.Date(2024, 7, 31, 23, 59, 59, 0, time.UTC))
			require.NoError(t, err)

			assert.True(t, win.Start.Before(win.End), "months=%d", months)
			assert.Equal(t, win.End, win.End.Truncate(time.Hour), "months=%d", months)
			assert.Equal(t, time.UTC, win.End.Location())
		}
	})

	t.Run("non-UTC reference time is normalized", func(t *testing.T) {
		loc := time.FixedZone("CET", 3600)
		now := time.Date(2024, 3, 15, 11, 0, 0, 0, loc)

		win, err := Plan(1, now)
		require.NoError(t, err)

		assert.Equal(t, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC), win.End)
	})

	t.Run("rejects non-positive months", func(t *testing.T) {
		_, err := Plan(0, time.Now())
		assert.ErrorIs(t, err, ErrInvalidMonths)

		_, err = Plan(-3, time.Now())
		assert.ErrorIs(t, err, ErrInvalidMonths)
	})
}

func TestSplit(t *testing.T) {
	win := Window{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 8, 15, 10, 0, 0, 0, time.UTC),
	}

	t.Run("chunks partition the window exactly", func(t *testing.T) {
		for _, span := range []time.Duration{time.Hour, 24 * time.Hour, 90 * 24 * time.Hour, 365 * 24 * time.Hour} {
			chunks := win.Split(span)
			require.NotEmpty(t, chunks, "span=%s", span)

			assert.Equal(t, win.Start, chunks[0].Start)
			assert.Equal(t, win.End, chunks[len(chunks)-1].End)
			for i := 1; i < len(chunks); i++ {
				assert.Equal(t, chunks[i-1].End, chunks[i].Start, "span=%s chunk=%d", span, i)
			}
			for _, c := range chunks {
				assert.True(t, c.Start.Before(c.End))
				assert.LessOrEqual(t, c.End.Sub(c.Start), span)
			}
		}
	})

	t.Run("last chunk truncated to window end", func(t *testing.T) {
		chunks := win.Split(90 * 24 * time.Hour)
		last := chunks[len(chunks)-1]
		assert.Equal(t, win.End, last.End)
		assert.Less(t, last.End.Sub(last.Start), 90*24*time.Hour)
	})

	t.Run("non-positive span yields one chunk", func(t *testing.T) {
		chunks := win.Split(0)
		require.Len(t, chunks, 1)
		assert.Equal(t, Chunk{Start: win.Start, End: win.End}, chunks[0])
	})
}

func TestWindowHours(t *testing.T) {
	win := Window{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, 30, win.Hours())
}

func TestWindowContains(t *testing.T) {
	win := Window{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
	}

	assert.True(t, win.Contains(win.Start))
	assert.True(t, win.Contains(win.Start.Add(time.Hour)))
	assert.False(t, win.Contains(win.End))
	assert.False(t, win.Contains(win.Start.Add(-time.Second)))
}
