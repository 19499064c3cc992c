package storage

import "github.com/ashita-ai/madoguchi/internal/model"

// ErrNotFound is returned when a requested entity does not exist. It is the
// same value as model.ErrNotFound so callers outside storage can match it.
var ErrNotFound = model.ErrNotFound
