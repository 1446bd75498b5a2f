package watch

import (
	"strings"
	"time"
)

// Ticker alternates frames once a second while the UI loop is alive.
type Ticker struct {
	frames []string
	index  int
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"◐", "◓", "◑", "◒"}}
}

func (t *Ticker) Tick() {
	t.index = (t.index + 1) % len(t.frames)
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

// Pulse lights up on every event and fades one dot per two seconds of quiet.
type Pulse struct {
	dots      int
	lastEvent time.Time
}

const pulseWidth = 5

func (p *Pulse) OnEvent(at time.Time) {
	p.dots = pulseWidth
	p.lastEvent = at
}

func (p *Pulse) Decay(now time.Time) {
	if p.dots == 0 {
		return
	}
	left := pulseWidth - int(now.Sub(p.lastEvent)/(2*time.Second))
	p.dots = max(0, min(p.dots, left))
}

func (p Pulse) Render(theme Theme) string {
	var b strings.Builder
	for i := range pulseWidth {
		if i < p.dots {
			b.WriteString(theme.Good.Render("●"))
		} else {
			b.WriteString(theme.Faint.Render("○"))
		}
	}
	return b.String()
}

func (p Pulse) LastEvent() time.Time {
	return p.lastEvent
}

// gauge draws used/capacity as a fixed-width bar.
func gauge(used, capacity, width int) string {
	if capacity <= 0 || width <= 0 {
		return ""
	}
	filled := min(width, used*width/capacity)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("·", width-filled) + "]"
}
