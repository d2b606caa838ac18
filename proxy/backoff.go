package proxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// TransferType is the direction of a relay transfer.
type TransferType string

const (
	// SendTransfer is an upload to the relay.
	SendTransfer TransferType = "send"

	// ReceiveTransfer is a download from the relay.
	ReceiveTransfer TransferType = "receive"
)

// BackoffExecError wraps the last error of a failed backoff procedure.
type BackoffExecError struct {
	execErr error
}

func (e *BackoffExecError) Error() string {
	if e.execErr == nil {
		return "backoff exec error"
	}
	return fmt.Sprintf("backoff exec error: %s", e.execErr.Error())
}

func (e *BackoffExecError) Unwrap() error {
	return e.execErr
}

// BackoffCfg configures how relay transfers are retried.
//
// nolint:lll
type BackoffCfg struct {
	// SkipInitDelay skips waiting out the reset window of earlier
	// attempts.
	SkipInitDelay bool `long:"skipinitdelay" description:"Skip the initial delay before retrying a relay transfer that failed recently."`

	// BackoffResetWait is how long after a failed batch of attempts the
	// next batch may start.
	BackoffResetWait time.Duration `long:"backoffresetwait" description:"The amount of time to wait before resetting the backoff counter. Valid time units are {s, m, h}."`

	// NumTries is the number of attempts in one batch.
	NumTries int `long:"numtries" description:"The number of relay transfer attempts before the backoff counter is reset."`

	// InitialBackoff is the wait after the first failed attempt.
	InitialBackoff time.Duration `long:"initialbackoff" description:"The initial backoff time to wait before retrying a relay transfer. Valid time units are {s, m, h}."`

	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration `long:"maxbackoff" description:"The maximum backoff time to wait before retrying a relay transfer. Valid time units are {s, m, h}."`
}

// DefaultBackoffCfg returns the retry policy used when none is configured.
func DefaultBackoffCfg() *BackoffCfg {
	return &BackoffCfg{
		BackoffResetWait: 10 * time.Minute,
		NumTries:         3,
		InitialBackoff:   time.Second,
		MaxBackoff:       30 * time.Second,
	}
}

// AttemptLog records failed relay transfer attempts per key.
type AttemptLog interface {
	// LogAttempt records a failed attempt now.
	LogAttempt(ctx context.Context, key string, typ TransferType) error

	// Attempts returns the times of earlier attempts.
	Attempts(ctx context.Context, key string,
		typ TransferType) ([]time.Time, error)
}

type attemptKey struct {
	key string
	typ TransferType
}

// MemAttemptLog is an in-memory AttemptLog.
type MemAttemptLog struct {
	clock clock.Clock

	mu       sync.Mutex
	attempts map[attemptKey][]time.Time
}

// NewMemAttemptLog creates an empty attempt log.
func NewMemAttemptLog(clk clock.Clock) *MemAttemptLog {
	return &MemAttemptLog{
		clock:    clk,
		attempts: make(map[attemptKey][]time.Time),
	}
}

// LogAttempt implements AttemptLog.
func (m *MemAttemptLog) LogAttempt(_ context.Context, key string,
	typ TransferType) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	k := attemptKey{key: key, typ: typ}
	m.attempts[k] = append(m.attempts[k], m.clock.Now())

	return nil
}

// Attempts implements AttemptLog.
func (m *MemAttemptLog) Attempts(_ context.Context, key string,
	typ TransferType) ([]time.Time, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]time.Time(nil), m.attempts[attemptKey{key, typ}]...),
		nil
}

// BackoffHandler runs relay transfers with exponential backoff.
type BackoffHandler struct {
	cfg   *BackoffCfg
	log   AttemptLog
	clock clock.Clock
}

// NewBackoffHandler creates a backoff handler.
func NewBackoffHandler(cfg *BackoffCfg, attempts AttemptLog,
	clk clock.Clock) *BackoffHandler {

	return &BackoffHandler{cfg: cfg, log: attempts, clock: clk}
}

// initialDelay waits out the reset window if the key failed recently.
func (b *BackoffHandler) initialDelay(ctx context.Context, key string,
	typ TransferType) error {

	if b.cfg.SkipInitDelay {
		return nil
	}

	timestamps, err := b.log.Attempts(ctx, key, typ)
	if err != nil {
		return fmt.Errorf("unable to read transfer attempts: %w", err)
	}
	if len(timestamps) == 0 {
		return nil
	}

	last := timestamps[0]
	for _, ts := range timestamps[1:] {
		if ts.After(last) {
			last = ts
		}
	}

	since := b.clock.Now().Sub(last)
	if since >= b.cfg.BackoffResetWait {
		return nil
	}

	wait := b.cfg.BackoffResetWait - since
	log.Debugf("Waiting %v before retrying %v transfer of %v", wait, typ,
		key)

	return b.wait(ctx, wait)
}

// Exec runs f until it succeeds or the tries of one batch are used up.
func (b *BackoffHandler) Exec(ctx context.Context, key string,
	typ TransferType, f func() error) error {

	if b.cfg == nil {
		return fmt.Errorf("backoff config not specified")
	}

	if err := b.initialDelay(ctx, key, typ); err != nil {
		return err
	}

	var (
		backoff = b.cfg.InitialBackoff
		tries   = max(b.cfg.NumTries, 1)
		errExec error
	)
	for i := 0; i < tries; i++ {
		errExec = f()
		if errExec == nil {
			return nil
		}
		errExec = &BackoffExecError{execErr: errExec}

		if err := b.log.LogAttempt(ctx, key, typ); err != nil {
			return fmt.Errorf("unable to log transfer attempt: %w",
				err)
		}

		if backoff == 0 || i == tries-1 {
			continue
		}

		log.Debugf("Relay %v transfer of %v failed, backing off %v "+
			"(attempt=%d): %v", typ, key, backoff, i, errExec)

		if err := b.wait(ctx, backoff); err != nil {
			return fmt.Errorf("backoff wait: %w", err)
		}

		backoff *= 2
		if backoff > b.cfg.MaxBackoff {
			backoff = b.cfg.MaxBackoff
		}
	}

	return fmt.Errorf("relay transfer failed after %d tries: %w", tries,
		errExec)
}

func (b *BackoffHandler) wait(ctx context.Context, wait time.Duration) error {
	select {
	case <-b.clock.TickAfter(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
