package model

import "github.com/rotisserie/eris"

var (
	// ErrNotReady is returned by antenna sources whose dataset has not finished loading.
	ErrNotReady = eris.New("antenna data not loaded yet")

	// ErrContourUnknown is returned when a contour membership question cannot
	// be answered, e.g. the contour for the antenna is missing or not loaded.
	ErrContourUnknown = eris.New("contour membership unknown")
)
