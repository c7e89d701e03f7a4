package watch

import (
	"strings"
	"time"
)

// Heartbeat alternates between two frames on every clock tick. A frozen
// frame means the UI itself has stalled.
type Heartbeat struct {
	frame bool
}

func (h *Heartbeat) Tick() { h.frame = !h.frame }

func (h Heartbeat) String() string {
	if h.frame {
		return "⟳"
	}
	return "⟲"
}

// Activity lights up when an event arrives and fades over ten seconds.
type Activity struct {
	lastEvent time.Time
	now       func() time.Time
}

const activityDots = 5

func NewActivity() Activity {
	return Activity{now: time.Now}
}

func (a *Activity) OnEvent() { a.lastEvent = a.now() }

func (a Activity) LastEvent() time.Time { return a.lastEvent }

// Level is the number of lit dots, from activityDots down to 0.
func (a Activity) Level() int {
	if a.lastEvent.IsZero() {
		return 0
	}
	lit := activityDots - int(a.now().Sub(a.lastEvent)/(2*time.Second))
	if lit < 0 {
		return 0
	}
	return lit
}

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	level := a.Level()
	for i := range activityDots {
		if i < level {
			b.WriteString(theme.PulseOn.Render("●"))
		} else {
			b.WriteString(theme.PulseOff.Render("○"))
		}
	}
	return b.String()
}
