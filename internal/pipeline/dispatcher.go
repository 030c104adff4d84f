package pipeline

import (
	"device-monitor/internal/domain"
	"device-monitor/internal/metrics"
)

// Dispatcher fans each reading out to the state writer and, when history is
// enabled, to the history writer. Full channels drop the reading.
type Dispatcher struct {
	StateChan   chan *domain.Reading
	HistoryChan chan *domain.Reading
}

// NewDispatcher builds the channels. A historySize of zero disables history.
func NewDispatcher(stateSize, historySize int) *Dispatcher {
	d := &Dispatcher{
		StateChan: make(chan *domain.Reading, stateSize),
	}
	if historySize > 0 {
		d.HistoryChan = make(chan *domain.Reading, historySize)
	}
	return d
}

func (d *Dispatcher) Dispatch(r *domain.Reading) {
	metrics.ReadingsReceived.Add(1)

	select {
	case d.StateChan <- r:
	default:
		metrics.StateChannelDrops.Add(1)
	}

	if d.HistoryChan == nil {
		return
	}
	select {
	case d.HistoryChan <- r:
	default:
		metrics.HistoryChannelDrops.Add(1)
	}
}
