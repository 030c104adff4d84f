package notify

import "sync/atomic"

// Preferences holds operator notification settings. Safe for concurrent use.
type Preferences struct {
	alarmSound atomic.Bool
}

func NewPreferences(alarmSound bool) *Preferences {
	p := &Preferences{}
	p.alarmSound.Store(alarmSound)
	return p
}

func (p *Preferences) AlarmSound() bool {
	return p.alarmSound.Load()
}

func (p *Preferences) SetAlarmSound(on bool) {
	p.alarmSound.Store(on)
}
