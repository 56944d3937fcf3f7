package notify

import "sync/atomic"

// PresenceSensor is a ForegroundSensor fed by presence reports from a
// co-located client (for example through the gateway's presence endpoint).
// The zero value reports background.
type PresenceSensor struct {
	foreground atomic.Bool
}

func NewPresenceSensor() *PresenceSensor {
	return &PresenceSensor{}
}

// SetForeground records the latest reported visibility state.
func (s *PresenceSensor) SetForeground(foreground bool) {
	s.foreground.Store(foreground)
}

func (s *PresenceSensor) IsForeground() bool {
	return s.foreground.Load()
}
