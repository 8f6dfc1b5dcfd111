// Package encryption models the external encryption tool as a
// process-wide singleton with an internal serialization primitive
// protecting the external process invocation.
//
// The serialization primitive is golang.org/x/sync/semaphore.Weighted
// with a single permit, the same library the heavy-file mutex in
// internal/scheduler uses. A plain sync.Mutex would do the same job, but
// semaphore.Weighted's context-aware Acquire lets an encryption wait
// honor a job's cancellation token the same way every other suspension
// point in this codebase does.
package encryption

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
)

// Hook is the external contract: encrypt destinationPath in place and
// return an elapsed-time measurement (0 = not applicable, >0 = success
// duration in ms, -1 = error). The core treats the value as opaque.
type Hook func(ctx context.Context, destinationPath string) int64

// Service is the process-wide encryption singleton. Its zero value is not
// usable; construct with New.
type Service struct {
	sem *semaphore.Weighted
	key string
	run Hook
}

// defaultService is the module-level singleton. Callers normally use
// Encrypt/Configure rather than constructing their own Service, but New
// remains available for tests that want isolation.
var defaultService = New(nil, "")

// New constructs a Service. A nil hook defaults to NoopHook, which
// reports "not applicable" for every file, useful before a real
// encryption key/command has been configured.
func New(hook Hook, key string) *Service {
	if hook == nil {
		hook = NoopHook
	}
	return &Service{
		sem: semaphore.NewWeighted(1),
		key: key,
		run: hook,
	}
}

// Configure swaps the default singleton's hook and key, e.g. after
// loading the scheduler configuration file.
func Configure(hook Hook, key string) {
	defaultService = New(hook, key)
}

// Encrypt runs the configured hook against destinationPath, serialized
// by the package's single-permit semaphore so at most one encryption
// invocation is in flight process-wide. Returns -1 if ctx is cancelled
// while waiting for the permit, matching the hook's own error sentinel
// so callers don't need a separate cancellation case.
func Encrypt(ctx context.Context, destinationPath string) int64 {
	return defaultService.Encrypt(ctx, destinationPath)
}

func (s *Service) Encrypt(ctx context.Context, destinationPath string) int64 {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return -1
	}
	defer s.sem.Release(1)

	return s.run(ctx, destinationPath)
}

// NoopHook reports every file as not requiring encryption. It is the
// fallback the default singleton uses until a real key and command are
// configured.
func NoopHook(ctx context.Context, destinationPath string) int64 {
	return 0
}

// ExternalCommandHook builds a Hook that invokes an external encryption
// executable, passing destinationPath and then key as its two
// arguments. The core only measures elapsed time and records the exit
// outcome; it never interprets the algorithm.
func ExternalCommandHook(executable, key string) Hook {
	return func(ctx context.Context, destinationPath string) int64 {
		if strings.TrimSpace(executable) == "" {
			return 0
		}

		start := time.Now()
		cmd := exec.CommandContext(ctx, executable, destinationPath, key)
		if err := cmd.Run(); err != nil {
			return -1
		}
		return time.Since(start).Milliseconds()
	}
}
