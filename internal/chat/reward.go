package chat

import (
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"

	"github.com/arceus/mrp/internal/character"
)

// Reward is a selected reward with all placeholders substituted, ready
// for the caller to dispatch (run commands, show messages).
type Reward struct {
	Name     string
	Commands []string
	Messages []string
}

// selectReward draws one option from the pool and substitutes the
// {player}, {villager}, and {uuid} placeholders. Returns nil when the
// pool holds nothing actionable.
func selectReward(pool []character.RewardOption, userName, characterName string, userID uuid.UUID) *Reward {
	actionable := make([]character.RewardOption, 0, len(pool))
	for _, opt := range pool {
		if opt.Actionable() {
			actionable = append(actionable, opt)
		}
	}
	if len(actionable) == 0 {
		return nil
	}

	opt := pickWeighted(actionable)

	sub := strings.NewReplacer(
		"{player}", userName,
		"{villager}", characterName,
		"{uuid}", userID.String(),
	)

	reward := &Reward{Name: opt.Name}
	for _, cmd := range opt.Commands {
		if strings.TrimSpace(cmd) == "" {
			continue
		}
		reward.Commands = append(reward.Commands, sub.Replace(cmd))
	}
	for _, msg := range opt.Messages {
		if strings.TrimSpace(msg) == "" {
			continue
		}
		reward.Messages = append(reward.Messages, sub.Replace(msg))
	}
	return reward
}

// pickWeighted selects among options with positive weight in proportion
// to their weights. When no option carries positive weight, selection
// is uniform over the whole pool. pool must be non-empty.
func pickWeighted(pool []character.RewardOption) character.RewardOption {
	total := 0.0
	weighted := make([]character.RewardOption, 0, len(pool))
	for _, opt := range pool {
		if opt.Weight <= 0 {
			continue
		}
		total += opt.Weight
		weighted = append(weighted, opt)
	}

	if len(weighted) > 0 && total > 0 {
		draw := rand.Float64() * total
		cumulative := 0.0
		for _, opt := range weighted {
			cumulative += opt.Weight
			if draw < cumulative {
				return opt
			}
		}
		// Floating-point accumulation can leave the draw a hair past
		// the final cumulative sum.
		return weighted[len(weighted)-1]
	}

	return pool[rand.IntN(len(pool))]
}
