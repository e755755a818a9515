package capture

import "errors"

// Setup-time failures returned by Engine.Start. Everything that goes wrong
// after a session is running is reported as an advisory Event instead.
var (
	ErrAlreadyRecording       = errors.New("a recording session is already running")
	ErrNotRecording           = errors.New("no recording session is running")
	ErrInvalidChunkTarget     = errors.New("chunk target must be longer than the split window")
	ErrNoInputDevice          = errors.New("no usable input device")
	ErrSystemAudioUnavailable = errors.New("system audio capture unavailable")
)
