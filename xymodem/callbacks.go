package xymodem

import "time"

// Callbacks provides hooks for transfer events.
// All callbacks are optional.
type Callbacks struct {
	// OnFileStart is called when a file starts moving. size is -1 when the
	// receiver has not been told the size.
	OnFileStart func(filename string, size int64)

	// OnProgress is called periodically while a file is moving.
	// rate is in bytes per second.
	OnProgress func(filename string, transferred, total int64, rate float64)

	// OnFileComplete is called once a file has been fully acknowledged
	// (sender) or finalized (receiver).
	OnFileComplete func(filename string, bytesTransferred int64, duration time.Duration)

	// OnError is called for every error Update returns.
	// context names the direction, "send" or "receive".
	OnError func(err error, context string)
}

func defaultCallbacks() *Callbacks {
	return &Callbacks{
		OnFileStart:    func(string, int64) {},
		OnProgress:     func(string, int64, int64, float64) {},
		OnFileComplete: func(string, int64, time.Duration) {},
		OnError:        func(error, string) {},
	}
}

// mergeCallbacks fills the hooks the caller left nil with no-ops.
func mergeCallbacks(user *Callbacks) *Callbacks {
	def := defaultCallbacks()
	if user == nil {
		return def
	}

	result := *user
	if result.OnFileStart == nil {
		result.OnFileStart = def.OnFileStart
	}
	if result.OnProgress == nil {
		result.OnProgress = def.OnProgress
	}
	if result.OnFileComplete == nil {
		result.OnFileComplete = def.OnFileComplete
	}
	if result.OnError == nil {
		result.OnError = def.OnError
	}
	return &result
}
