// Package deltas persists change events for asynchronous downstream
// pickup. Events are staged under a content-derived name and then renamed
// into the ready directory, so a consumer polling ready/ never observes a
// half-written file.
package deltas

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/edgewatch/edgewatch/internal/config"
	"github.com/edgewatch/edgewatch/internal/core"
	"github.com/edgewatch/edgewatch/internal/logger"
)

// FileEmitter implements core.DeltaSink over a staging/ready directory
// pair on the same filesystem (the rename must be atomic).
type FileEmitter struct {
	stagingDir string
	readyDir   string
	maxRetries int
	logger     *logger.Logger
	now        func() time.Time
}

func NewFileEmitter(cfg config.DeltaConfig, log *logger.Logger) (*FileEmitter, error) {
	for _, dir := range []string{cfg.StagingDir, cfg.ReadyDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create delta dir %s: %w", dir, err)
		}
	}

	retries := cfg.MaxRetries
	if retries < 1 {
		retries = 1
	}

	return &FileEmitter{
		stagingDir: cfg.StagingDir,
		readyDir:   cfg.ReadyDir,
		maxRetries: retries,
		logger:     log.WithComponent("deltas"),
		now:        time.Now,
	}, nil
}

// Emit stamps the event with wall-clock timestamp fields and writes it
// through the two-phase stage-then-rename protocol. The write is retried
// a bounded number of times; a persistent failure is returned to the
// caller and must fail the causing operation, since a lost delta breaks
// the decoupled-consumer guarantee.
func (e *FileEmitter) Emit(ctx context.Context, event core.Event) error {
	now := e.now().UTC()
	event["epoch"] = now.Unix()
	event["date"] = now.Format(time.RFC3339)
	event["year"] = now.Year()
	event["month"] = int(now.Month())
	event["day"] = now.Day()
	event["hour"] = now.Hour()
	event["minute"] = now.Minute()
	event["second"] = now.Second()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize delta event: %w", err)
	}

	// Name derived from the full serialized event. Collisions between
	// identical events are acceptable: the same content lands once.
	sum := sha256.Sum256(payload)
	name := hex.EncodeToString(sum[:]) + ".json"

	var lastErr error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		if lastErr = e.writeOnce(name, payload); lastErr == nil {
			e.logger.Debugw("delta emitted",
				"event", event["event"],
				"file", name,
				"attempt", attempt,
			)
			return nil
		}
		e.logger.Warnw("delta write failed, retrying",
			"file", name,
			"attempt", attempt,
			"error", lastErr,
		)
	}
	return fmt.Errorf("failed to emit delta after %d attempts: %w", e.maxRetries, lastErr)
}

func (e *FileEmitter) writeOnce(name string, payload []byte) error {
	staged := filepath.Join(e.stagingDir, name)
	ready := filepath.Join(e.readyDir, name)

	f, err := os.OpenFile(staged, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to stage delta: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(staged)
		return fmt.Errorf("failed to write delta: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(staged)
		return fmt.Errorf("failed to sync delta: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(staged)
		return fmt.Errorf("failed to close delta: %w", err)
	}

	// A crash before this point leaves an orphan in staging/, which is
	// acceptable; ready/ only ever sees complete files.
	if err := os.Rename(staged, ready); err != nil {
		return fmt.Errorf("failed to publish delta: %w", err)
	}
	return nil
}
