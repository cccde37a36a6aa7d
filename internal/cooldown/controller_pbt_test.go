package cooldown

import (
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/profile-validator/internal/config"
	"github.com/profile-validator/internal/types"
)

func TestBackoffLevelProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Property: after k consecutive 429s with no success in between, the
	// level is min(k-1, len(sequence)-1) and the duration uses that index
	properties.Property("backoff level is min(k-1, len-1)", prop.ForAll(
		func(k int, sequence []int) bool {
			c := NewController(
				filepath.Join(t.TempDir(), "cooldowns.json"),
				config.CooldownConfig{BackoffSequence: sequence},
				testLogger(),
			)

			for i := 0; i < k; i++ {
				c.MarkCooldown(types.EndpointFriends, types.ReasonRateLimit, "HTTP 429")
			}

			level, ok := c.BackoffLevel(types.EndpointFriends)
			if !ok {
				return false
			}

			active := c.BackoffSequence()
			want := k - 1
			if want > len(active)-1 {
				want = len(active) - 1
			}
			if level != want {
				return false
			}
			if level < 0 || level > len(active)-1 {
				return false
			}
			return c.cooldowns[types.EndpointFriends].DurationMinutes == active[level]
		},
		gen.IntRange(1, 20),
		gen.SliceOfN(4, gen.IntRange(1, 480)),
	))

	properties.TestingRun(t)
}
