package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/eclipse-edc/Connector-sub001/clock"
)

func TestFake_AdvanceAndSet(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := clock.NewFake(start)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(time.Second), c.Advance(time.Second))
	assert.Equal(t, start.Add(time.Second), c.Now())

	later := start.Add(time.Hour)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}

func TestReal_IsUTC(t *testing.T) {
	var c clock.Clock = clock.Real{}
	assert.Equal(t, time.UTC, c.Now().Location())
}
