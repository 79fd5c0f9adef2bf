// Package metrics records content sync activity.
package metrics

import "time"

// Recorder receives sync and persistence events. Implementations must be safe
// for concurrent use.
type Recorder interface {
	ObserveRemoteWrite(op string, duration time.Duration, err error)
	ObserveEmission(collection string, origin string)
	ObserveSeed(collection string)
	ObserveLocalStoreFailure(op string)
	ObserveUpload(size int64, err error)
}

type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (n *Noop) ObserveRemoteWrite(_ string, _ time.Duration, _ error) {}

func (n *Noop) ObserveEmission(_ string, _ string) {}

func (n *Noop) ObserveSeed(_ string) {}

func (n *Noop) ObserveLocalStoreFailure(_ string) {}

func (n *Noop) ObserveUpload(_ int64, _ error) {}

var _ Recorder = (*Noop)(nil)
