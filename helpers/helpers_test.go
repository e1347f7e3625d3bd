package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntSecondDefault(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 7*time.Second, IntSecondDefault(7, 30*time.Second))
	assert.Equal(t, 30*time.Second, IntSecondDefault(0, 30*time.Second))
	assert.Equal(t, 30*time.Second, IntSecondDefault(-1, 30*time.Second))
}

func TestBackoffGrowsToMax(t *testing.T) {
	t.Parallel()
	b := &Backoff{Min: 100 * time.Millisecond, Max: 1 * time.Second, K: 2}
	assert.Equal(t, time.Duration(0), b.DelayBefore())

	b.Failure()
	d1 := b.DelayBefore()
	assert.True(t, d1 > 0 && d1 <= 100*time.Millisecond, "d1=%v", d1)

	for i := 0; i < 10; i++ {
		b.Failure()
	}
	dmax := b.DelayBefore()
	assert.True(t, dmax <= 1*time.Second, "dmax=%v", dmax)

	b.Reset()
	b.Failure()
	d2 := b.DelayBefore()
	assert.True(t, d2 <= 200*time.Millisecond, "d2=%v", d2)
}
