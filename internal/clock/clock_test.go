package clock

import (
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestStampAddCarries(t *testing.T) {
	s := Stamp{Sec: 10, Nsec: 999_999_000}.Add(1500 * time.Nanosecond)
	assert.Equal(t, s, Stamp{Sec: 11, Nsec: 500})

	s = Stamp{Sec: 1, Nsec: 0}.Add(2500 * time.Millisecond)
	assert.Equal(t, s, Stamp{Sec: 3, Nsec: 500_000_000})
}

func TestStampSub(t *testing.T) {
	a := Stamp{Sec: 5, Nsec: 100}
	b := Stamp{Sec: 4, Nsec: 999_999_900}
	assert.Equal(t, a.Sub(b), 200*time.Nanosecond)
	assert.Equal(t, b.Sub(a), -200*time.Nanosecond)
}

func TestFromNanos(t *testing.T) {
	assert.Equal(t, FromNanos(3_000_000_007), Stamp{Sec: 3, Nsec: 7})
	assert.Equal(t, FromNanos(-1), Stamp{Sec: -1, Nsec: 999_999_999})
	assert.Equal(t, FromNanos(42).Nanos(), int64(42))
}

func TestSystemClockAdvances(t *testing.T) {
	c := New(Monotonic)
	a := c.Now()
	b := c.Now()
	assert.Assert(t, b.Sub(a) >= 0)
	assert.Equal(t, c.ID().String(), "monotonic")
}
