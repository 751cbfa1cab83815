package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnlocksForThresholds(t *testing.T) {
	assert.Equal(t, Unlocks{}, UnlocksFor(1))
	assert.Equal(t, Unlocks{}, UnlocksFor(5))
	assert.Equal(t, Unlocks{Voice: true}, UnlocksFor(6))
	assert.Equal(t, Unlocks{Voice: true}, UnlocksFor(14))
	assert.Equal(t, Unlocks{Voice: true, Images: true}, UnlocksFor(15))
	assert.Equal(t, Unlocks{Voice: true, Images: true}, UnlocksFor(20))
	assert.Equal(t, Unlocks{Voice: true, Images: true, RevealEligible: true}, UnlocksFor(21))
}

// Once a flag turns on it must never turn off as the day increases.
func TestUnlocksForMonotonic(t *testing.T) {
	prev := UnlocksFor(1)
	for day := 2; day <= FinalDay; day++ {
		cur := UnlocksFor(day)
		if prev.Voice {
			assert.True(t, cur.Voice, "voice regressed on day %d", day)
		}
		if prev.Images {
			assert.True(t, cur.Images, "images regressed on day %d", day)
		}
		if prev.RevealEligible {
			assert.True(t, cur.RevealEligible, "reveal regressed on day %d", day)
		}
		prev = cur
	}
}
