package storage

import (
	"errors"
	"fmt"
)

var ErrRecordNotFound = errors.New("record not found")

type Tier string

const (
	TierLocalCache Tier = "local_cache"
	TierRemote     Tier = "remote_store"
	TierMedia      Tier = "media_mirror"
	TierArchive    Tier = "archive"
)

// Error is a failed write or read against one storage tier. Manager logs
// and swallows these on the persist path.
type Error struct {
	Tier Tier
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Tier, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
