package native

import "errors"

// Package errors for the HAL device.
var (
	// ErrNilHALDevice is returned when creating a device without a HAL device.
	ErrNilHALDevice = errors.New("native: HAL device is nil")

	// ErrNilHALQueue is returned when creating a device without a HAL queue.
	ErrNilHALQueue = errors.New("native: HAL queue is nil")

	// ErrUnsupportedFormat is returned for pixel formats with no GPU texture format.
	ErrUnsupportedFormat = errors.New("native: pixel format has no GPU texture format")

	// ErrTextureDestroyed is returned when writing to a released texture.
	ErrTextureDestroyed = errors.New("native: texture has been destroyed")

	// ErrInvalidRegion is returned for writes outside the texture or with short data.
	ErrInvalidRegion = errors.New("native: invalid texture region")
)
