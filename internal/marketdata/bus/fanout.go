// Package bus fans finished bars out to independent consumers.
package bus

import (
	"context"
	"log"
	"sync"

	"goldscalper/internal/model"
)

// FanOut broadcasts bars from one input channel to every subscriber. A
// subscriber whose channel is full misses the bar; others are unaffected.
type FanOut struct {
	mu      sync.RWMutex
	outputs []output
	bufSize int

	// OnDrop is called when a bar is dropped for the named subscriber.
	OnDrop func(name string)
}

type output struct {
	name string
	ch   chan model.PriceBar
}

// New creates a FanOut whose subscriber channels hold bufSize bars.
func New(bufSize int) *FanOut {
	return &FanOut{bufSize: bufSize}
}

// Subscribe registers a consumer. Subscribe before Run starts.
func (f *FanOut) Subscribe(name string) <-chan model.PriceBar {
	ch := make(chan model.PriceBar, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, output{name: name, ch: ch})
	f.mu.Unlock()
	return ch
}

// Run forwards bars until ctx is cancelled or input closes, then closes
// every subscriber channel.
func (f *FanOut) Run(ctx context.Context, input <-chan model.PriceBar) {
	defer func() {
		f.mu.RLock()
		for _, o := range f.outputs {
			close(o.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for _, o := range f.outputs {
				select {
				case o.ch <- bar:
				default:
					if f.OnDrop != nil {
						f.OnDrop(o.name)
					} else {
						log.Printf("[bus] %s full, dropping bar %v", o.name, bar.Time)
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat is the fill level of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats reports the fill level of every subscriber.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, o := range f.outputs {
		stats[i] = ChannelStat{Name: o.name, Len: len(o.ch), Cap: cap(o.ch)}
	}
	return stats
}
