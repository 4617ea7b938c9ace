// Package testutil holds helpers shared by package tests.
package testutil

import (
	"io"
	"log/slog"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
