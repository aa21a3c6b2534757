package speedometer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests step time explicitly
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestSpeedometer(interval time.Duration) (*Speedometer, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := New(interval)
	s.now = clock.Now
	return s, clock
}

func TestSpeed_FirstCallReturnsZero(t *testing.T) {
	s, _ := newTestSpeedometer(2 * time.Second)
	assert.Equal(t, 0.0, s.Speed(1000))
}

func TestSpeed_SameInstantReturnsZero(t *testing.T) {
	s, clock := newTestSpeedometer(2 * time.Second)
	s.Speed(0)
	clock.Advance(3 * time.Second)
	require.Equal(t, 10.0, s.Speed(30))

	// No time has passed since the last refresh
	assert.Equal(t, 0.0, s.Speed(90))
}

func TestSpeed_WithinIntervalReturnsCached(t *testing.T) {
	s, clock := newTestSpeedometer(2 * time.Second)
	s.Speed(0)

	clock.Advance(4 * time.Second)
	require.Equal(t, 5.0, s.Speed(20))

	clock.Advance(1 * time.Second)
	assert.Equal(t, 5.0, s.Speed(1000), "within interval the cached speed is returned")

	clock.Advance(1 * time.Second)
	assert.Equal(t, 5.0, s.Speed(5000), "exactly at the interval the cached speed is returned")
}

func TestSpeed_BeyondIntervalRecomputes(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		from    float64
		to      float64
		want    float64
	}{
		{"steady", 4 * time.Second, 100, 140, 10},
		{"fractional", 2500 * time.Millisecond, 0, 5, 2},
		{"decreasing", 5 * time.Second, 50, 40, -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, clock := newTestSpeedometer(2 * time.Second)
			s.Speed(tt.from)
			clock.Advance(tt.elapsed)
			assert.InDelta(t, tt.want, s.Speed(tt.to), 1e-9)
		})
	}
}

func TestSpeed_RefreshMovesBaseline(t *testing.T) {
	s, clock := newTestSpeedometer(time.Second)
	s.Speed(0)

	clock.Advance(2 * time.Second)
	require.Equal(t, 5.0, s.Speed(10))

	clock.Advance(2 * time.Second)
	assert.Equal(t, 20.0, s.Speed(50), "rate is measured from the last refresh, not the start")
}

func TestNew_DefaultInterval(t *testing.T) {
	assert.Equal(t, time.Duration(0), New(0).minInterval)
	assert.Equal(t, DefaultInterval, New(-time.Second).minInterval)
}

func TestSpeed_ZeroIntervalNeverCaches(t *testing.T) {
	s, clock := newTestSpeedometer(0)
	assert.Equal(t, 0.0, s.Speed(0))

	clock.Advance(time.Second)
	assert.Equal(t, 10.0, s.Speed(10))

	clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 20.0, s.Speed(20))

	// Same instant as the last refresh
	assert.Equal(t, 0.0, s.Speed(30))
}

func TestSpeed_ConcurrentCallers(t *testing.T) {
	s, clock := newTestSpeedometer(time.Millisecond)
	s.Speed(0)
	clock.Advance(time.Second)

	var wg sync.WaitGroup
	results := make([]float64, 50)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Speed(100)
		}(i)
	}
	wg.Wait()

	// One caller refreshes; the rest observe the same instant and get 0
	// or the freshly cached value.
	refreshed := 0
	for _, r := range results {
		if r == 100 {
			refreshed++
		} else {
			assert.Equal(t, 0.0, r)
		}
	}
	assert.Equal(t, 1, refreshed)
}

func TestDiagnostic(t *testing.T) {
	s, clock := newTestSpeedometer(time.Second)
	counter := 0.0
	d := s.Diagnostic("messages_per_second", func() float64 { return counter })

	assert.Equal(t, "messages_per_second", d.Name)

	v, err := d.Producer.Produce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	counter = 30
	clock.Advance(3 * time.Second)
	v, err = d.Producer.Produce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10.0, v)
}

func TestContextDiagnostic_PropagatesError(t *testing.T) {
	s := New(time.Second)
	boom := errors.New("source unavailable")
	d := s.ContextDiagnostic("queue_rate", func(ctx context.Context) (float64, error) {
		return 0, boom
	})

	_, err := d.Producer.Produce(context.Background())
	assert.ErrorIs(t, err, boom)
}
