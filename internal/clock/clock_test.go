package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTickAdvancesMonotonically(t *testing.T) {
	c := New()
	assert.Equal(t, uint64(0), c.Now())
	assert.Equal(t, uint64(1), c.Tick())
	assert.Equal(t, uint64(2), c.Tick())
	assert.Equal(t, uint64(2), c.Now())
}
