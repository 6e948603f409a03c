package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Notifier posts user-facing session notices, typically to the guild text
// channel the recording was started from.
type Notifier interface {
	Notify(guildID, message string)
}

// DurationGuard stops a recording that reaches its configured maximum age.
// A warning goes out warnLead before the cut so players can wrap up.
type DurationGuard struct {
	guildID  string
	max      time.Duration
	warnLead time.Duration
	notifier Notifier
	stopFn   func()

	once sync.Once
	done chan struct{}
}

func newDurationGuard(guildID string, max, warnLead time.Duration, notifier Notifier, stopFn func()) *DurationGuard {
	return &DurationGuard{
		guildID:  guildID,
		max:      max,
		warnLead: warnLead,
		notifier: notifier,
		stopFn:   stopFn,
		done:     make(chan struct{}),
	}
}

// Start launches the watch goroutine. A zero or negative maximum disables
// the guard entirely.
func (g *DurationGuard) Start() {
	if g.max <= 0 {
		return
	}
	go g.run()
}

func (g *DurationGuard) run() {
	// No warning when the whole session fits inside the warn lead.
	var warnCh <-chan time.Time
	if g.max > g.warnLead {
		warn := time.NewTimer(g.max - g.warnLead)
		defer warn.Stop()
		warnCh = warn.C
	}

	cut := time.NewTimer(g.max)
	defer cut.Stop()

	for {
		select {
		case <-warnCh:
			warnCh = nil
			log.Info().
				Str("guild_id", g.guildID).
				Dur("remaining", g.warnLead).
				Msg("Recording is approaching the session duration limit")
			g.notify(fmt.Sprintf("Recording reaches the %s limit in %s and will stop automatically.", g.max, g.warnLead))
		case <-cut.C:
			log.Warn().
				Str("guild_id", g.guildID).
				Dur("max_duration", g.max).
				Msg("Session duration limit reached, stopping recording")
			g.notify(fmt.Sprintf("Recording hit the %s limit and was stopped automatically.", g.max))
			g.stopFn()
			return
		case <-g.done:
			return
		}
	}
}

func (g *DurationGuard) notify(msg string) {
	if g.notifier != nil {
		g.notifier.Notify(g.guildID, msg)
	}
}

// Stop cancels the guard when the recording ends on its own. Safe to call
// more than once.
func (g *DurationGuard) Stop() {
	g.once.Do(func() { close(g.done) })
}
