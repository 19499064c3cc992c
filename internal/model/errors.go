package model

import "errors"

// ErrNotFound is returned by stores when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotRefundable is returned when a reservation is not in a refundable state.
var ErrNotRefundable = errors.New("reservation not eligible for refund")
