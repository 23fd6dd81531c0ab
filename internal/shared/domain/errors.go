package domain

import "errors"

// ErrNotExist is returned by repositories when the requested row is
// not present. Callers test for it with errors.Is.
var ErrNotExist = errors.New("does not exist")

// ErrStale is returned by guarded writes when the row no longer
// matches the expected prior state, meaning another component won the
// race. The caller re-reads and decides, it never retries blindly.
var ErrStale = errors.New("state changed concurrently")
