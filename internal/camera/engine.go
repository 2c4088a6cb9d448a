package camera

import "time"

// ConfigFlags give hints to the engine's stream configuration.
type ConfigFlags uint

const (
	FlagVideoNone ConfigFlags = 0
	FlagVideoRaw  ConfigFlags = 1 << iota
	FlagVideoJPEGColourspace
)

// Sink receives completed-frame handles from the engine's capture context.
// The relay implements it; ownership of the handle transfers with Post.
type Sink interface {
	Post(h *Handle)
}

// EncodedOutputFunc receives one encoded bitstream chunk. It is invoked
// from the encoder's context, not the main loop.
type EncodedOutputFunc func(data []byte, timestamp time.Time, keyframe bool)

// Engine is the capture/encode collaborator. Implementations own device
// acquisition, buffer allocation and codec mechanics; the core only drives
// lifecycle and consumes frames via the Sink given at construction.
//
// Ordering: Open, Configure, Start; StartEncoder/StopEncoder any number of
// times while started; Stop releases the device and shuts the buffer pool
// down, so handles still in flight recycle as no-ops.
type Engine interface {
	Open() error
	Configure(flags ConfigFlags) error
	Start() error
	Stop() error

	// SubmitForEncoding takes ownership of the handle; the engine releases
	// it once the frame's bytes have been consumed by the encoder.
	SubmitForEncoding(h *Handle) error

	RegisterEncodedOutputCallback(fn EncodedOutputFunc)
	StartEncoder() error
	StopEncoder() error
}
