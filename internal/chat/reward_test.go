package chat

import (
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/arceus/mrp/internal/character"
)

func TestRewardDistribution(t *testing.T) {
	pool := []character.RewardOption{
		{Name: "A", Messages: []string{"a"}, Weight: 0},
		{Name: "B", Messages: []string{"b"}, Weight: 3},
		{Name: "C", Messages: []string{"c"}, Weight: 1},
	}

	const draws = 10000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		opt := pickWeighted(pool)
		counts[opt.Name]++
	}

	if counts["A"] != 0 {
		t.Errorf("zero-weight option selected %d times", counts["A"])
	}

	// B should win ~75% of draws. 3% tolerance is ~7 standard
	// deviations at this sample size.
	rate := float64(counts["B"]) / draws
	if math.Abs(rate-0.75) > 0.03 {
		t.Errorf("B selected at rate %.3f, want ~0.75", rate)
	}
}

func TestRewardUniformWhenNoPositiveWeights(t *testing.T) {
	pool := []character.RewardOption{
		{Name: "A", Messages: []string{"a"}},
		{Name: "B", Messages: []string{"b"}},
	}

	const draws = 10000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		counts[pickWeighted(pool).Name]++
	}

	for _, name := range []string{"A", "B"} {
		rate := float64(counts[name]) / draws
		if math.Abs(rate-0.5) > 0.03 {
			t.Errorf("%s selected at rate %.3f, want ~0.5", name, rate)
		}
	}
}

func TestSelectRewardFiltersNonActionable(t *testing.T) {
	pool := []character.RewardOption{
		{Name: "empty", Weight: 100},
		{Name: "real", Messages: []string{"hello {player}"}, Weight: 1},
	}

	for i := 0; i < 100; i++ {
		r := selectReward(pool, "Rose", "Galen", uuid.Nil)
		if r == nil {
			t.Fatal("actionable option present, got no reward")
		}
		if r.Name != "real" {
			t.Fatalf("non-actionable option %q selected", r.Name)
		}
	}
}

func TestSelectRewardEmptyPool(t *testing.T) {
	if r := selectReward(nil, "Rose", "Galen", uuid.Nil); r != nil {
		t.Errorf("empty pool granted %+v", r)
	}
	pool := []character.RewardOption{{Name: "nothing", Weight: 5}}
	if r := selectReward(pool, "Rose", "Galen", uuid.Nil); r != nil {
		t.Errorf("non-actionable pool granted %+v", r)
	}
}

func TestSelectRewardSkipsBlankEntries(t *testing.T) {
	pool := []character.RewardOption{{
		Name:     "mixed",
		Commands: []string{"", "give {player} item"},
		Messages: []string{"  ", "enjoy"},
		Weight:   1,
	}}

	r := selectReward(pool, "Rose", "Galen", uuid.Nil)
	if r == nil {
		t.Fatal("no reward")
	}
	if len(r.Commands) != 1 || r.Commands[0] != "give Rose item" {
		t.Errorf("commands = %v", r.Commands)
	}
	if len(r.Messages) != 1 || r.Messages[0] != "enjoy" {
		t.Errorf("messages = %v", r.Messages)
	}
}
