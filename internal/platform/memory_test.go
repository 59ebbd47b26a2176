package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTotalMemory(t *testing.T) {
	t.Parallel()

	assert.Positive(t, TotalMemory())
}
