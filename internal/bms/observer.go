package bms

import "time"

// Observer receives core events, e.g. to export metrics.
// Methods are called synchronously and must not block.
type Observer interface {
	FrameAccepted(Key, float64)
	FrameDropped(id uint32)
	Flushed(Key)
	DecodeFailed(node uint8, err error)
	Published(records int, took time.Duration)
	PublishFailed(err error, took time.Duration)
}

type NoopObserver struct{}

func (NoopObserver) FrameAccepted(Key, float64)         {}
func (NoopObserver) FrameDropped(uint32)                {}
func (NoopObserver) Flushed(Key)                        {}
func (NoopObserver) DecodeFailed(uint8, error)          {}
func (NoopObserver) Published(int, time.Duration)       {}
func (NoopObserver) PublishFailed(error, time.Duration) {}
