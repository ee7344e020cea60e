package feeds

import (
	"errors"
	"fmt"
)

var (
	ErrFeedExists     = errors.New("feed is already watched")
	ErrFeedNotWatched = errors.New("feed is not watched")
	ErrInvalidURL     = errors.New("feed url must be an absolute http(s) url")
)

// FetchError is a network or parse failure while reading a feed. It moves
// the feed into backoff and is never shown to chat users.
type FetchError struct {
	URL        string
	StatusCode int // set for HTTP status failures
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching feed %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetching feed %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
