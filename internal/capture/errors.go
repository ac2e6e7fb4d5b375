package capture

import "errors"

var (
	ErrDeviceUnavailable  = errors.New("media device unavailable")
	ErrAcquisitionTimeout = errors.New("media acquisition timed out")
	ErrNoStream           = errors.New("no media stream acquired")
	ErrNoTrack            = errors.New("no track of requested kind")
	ErrProtected          = errors.New("stream is protected")
	ErrVideoUnsupported   = errors.New("device has no video input")
	ErrClosed             = errors.New("capture manager closed")
)
