package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gokatarajesh/codeduel/internal/config"
)

func TestGameOptions_FollowAdapterTimeouts(t *testing.T) {
	cfg := &config.App{
		Game: config.Game{
			WaitingDuration: 15 * time.Second,
			PlayDuration:    5 * time.Minute,
			PromptCooldown:  3 * time.Second,
			TestCooldown:    4 * time.Second,
			PublicFraction:  0.25,
			OpenMarker:      "```",
			CloseMarker:     "```",
		},
		Copilot:  config.Copilot{Model: "gpt-test", Timeout: 45 * time.Second},
		Executor: config.Executor{Timeout: 12 * time.Second},
	}

	opts := gameOptions(cfg)
	assert.Equal(t, 45*time.Second, opts.GenerationTimeout)
	assert.Equal(t, 12*time.Second, opts.ExecutionTimeout)
	assert.Equal(t, "gpt-test", opts.Model)
	assert.Equal(t, 15*time.Second, opts.WaitingDuration)
	assert.Equal(t, 0.25, opts.PublicFraction)
	assert.Equal(t, "```", opts.OpenMarker)
}
