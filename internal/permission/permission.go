// Package permission decides whether the step-counter permission is held and
// drives the host's permission prompt.
package permission

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ActivityRecognition is the permission that guards the step counter.
const ActivityRecognition = "android.permission.ACTIVITY_RECOGNITION"

// ErrNotRegistered is returned when a permission request is made before a
// launcher was registered.
var ErrNotRegistered = errors.New("not_registered")

// Launcher shows the host's permission prompt and reports, per permission,
// whether the user granted it.
type Launcher interface {
	Launch(ctx context.Context, permissions []string) (map[string]bool, error)
}

// Checker reports whether the host currently holds a permission.
type Checker interface {
	Granted(ctx context.Context, permission string) bool
}

// Recorder remembers the outcome of a prompt.
type Recorder interface {
	Record(permission string, granted bool)
}

// AllGranted reports whether every prompt result is a grant. An empty result
// counts as granted.
func AllGranted(results map[string]bool) bool {
	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

// MemoryChecker holds grants in memory.
type MemoryChecker struct {
	mu      sync.RWMutex
	granted map[string]bool
}

// NewMemoryChecker seeds a checker with already granted permissions.
func NewMemoryChecker(granted []string) *MemoryChecker {
	c := &MemoryChecker{granted: make(map[string]bool, len(granted))}
	for _, p := range granted {
		c.granted[p] = true
	}
	return c
}

// Granted implements Checker.
func (c *MemoryChecker) Granted(_ context.Context, permission string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.granted[permission]
}

// Record implements Recorder.
func (c *MemoryChecker) Record(permission string, granted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if granted {
		c.granted[permission] = true
	} else {
		delete(c.granted, permission)
	}
}

// List returns the granted permissions.
func (c *MemoryChecker) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.granted))
	for p := range c.granted {
		out = append(out, p)
	}
	return out
}

// StaticLauncher answers prompts from a fixed allow list, as a pre-provisioned
// device would.
type StaticLauncher struct {
	Allow []string
}

// Launch implements Launcher.
func (l StaticLauncher) Launch(_ context.Context, permissions []string) (map[string]bool, error) {
	results := make(map[string]bool, len(permissions))
	for _, p := range permissions {
		results[p] = false
		for _, allowed := range l.Allow {
			if allowed == p {
				results[p] = true
				break
			}
		}
	}
	return results, nil
}

// PromptLauncher asks on a terminal.
type PromptLauncher struct {
	In  io.Reader
	Out io.Writer
}

// Launch implements Launcher. Anything but y/yes is a denial.
func (l PromptLauncher) Launch(ctx context.Context, permissions []string) (map[string]bool, error) {
	reader := bufio.NewReader(l.In)
	results := make(map[string]bool, len(permissions))

	for _, p := range permissions {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if _, err := fmt.Fprintf(l.Out, "Allow %s? [y/N]: ", p); err != nil {
			return nil, fmt.Errorf("write prompt: %w", err)
		}
		answer, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read answer: %w", err)
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		results[p] = answer == "y" || answer == "yes"
	}

	return results, nil
}
