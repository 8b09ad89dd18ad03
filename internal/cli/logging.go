// Package cli holds the small pieces of setup shared by cmd/sender and
// cmd/receiver: log-level parsing and the dlog/logrus wiring neither
// core package is allowed to touch directly.
package cli

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/dlog"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NewLoggingContext installs a logrus-backed dlog.Logger at the given
// level and stamps the context with a per-run transfer ID, so a
// sender's and a receiver's log lines can be correlated when both are
// watched side by side.
func NewLoggingContext(levelName string) (context.Context, error) {
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", levelName, err)
	}
	logger := logrus.New()
	logger.SetLevel(level)

	ctx := dlog.WithLogger(context.Background(), dlog.WrapLogrus(logger))
	ctx = dlog.WithField(ctx, "transfer_id", uuid.NewString())
	return ctx, nil
}
