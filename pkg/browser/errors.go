package browser

import (
	"errors"

	fleeterrors "github.com/odvcencio/testfleet/pkg/errors"
)

var (
	// ErrNotStarted is returned by accessors that only make sense while the
	// server is running.
	ErrNotStarted = errors.New("server not started")

	// ErrUnknownBrowser is returned for ids that are not currently captured.
	ErrUnknownBrowser = errors.New("unknown browser")
)

func notStarted(op string) error {
	return fleeterrors.Wrap(ErrNotStarted, fleeterrors.ErrCodeNotStarted, "server has not been started").
		WithContext("op", op)
}

func unknownBrowser(id string) error {
	return fleeterrors.Wrap(ErrUnknownBrowser, fleeterrors.ErrCodeUnknownBrowser, "browser is not captured").
		WithContext("browser_id", id)
}

// IsNotStarted reports whether err means the registry has not been started.
func IsNotStarted(err error) bool {
	return errors.Is(err, ErrNotStarted)
}

// IsUnknownBrowser reports whether err refers to a browser that is not captured.
func IsUnknownBrowser(err error) bool {
	return errors.Is(err, ErrUnknownBrowser)
}
