package detect

import "errors"

// ErrInvalidConfig is returned when a PyramidConfig cannot possibly work
// (eg tile size not larger than the minimum overlap). We never silently
// correct a bad config.
var ErrInvalidConfig = errors.New("Invalid pyramid configuration")

// ErrDetector is returned when the detector fails or returns malformed
// output for a batch. This is fatal for the image being processed - we do
// not retry, and we do not fabricate a partial result.
var ErrDetector = errors.New("Detector failure")

// ErrMultiDevice is returned when a caller asks for one image's predictions
// to be fanned out across multiple devices. That mode is not supported, and
// we reject it outright rather than silently running on one device.
var ErrMultiDevice = errors.New("Multi-device fan-out is not supported")
