package config

import (
	"time"

	"github.com/robfig/cron/v3"
)

// EveryNSeconds turns a watchable poll/sweep/schedule interval (always
// expressed in whole seconds in the config tables) into a ticker duration
// via cron's "@every" constant-delay schedule, rounding the same way a
// parsed "@every Ns" cron spec would.
func EveryNSeconds(seconds int) time.Duration {
	return cron.Every(time.Duration(seconds) * time.Second).Delay
}
