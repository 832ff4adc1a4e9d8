package permission

import (
	"context"
	"fmt"
	"sync"

	"github.com/goodtune/pedometer/internal/metrics"
	"github.com/rs/zerolog"
)

// Gate answers "may we count steps?" and runs the permission request flow.
type Gate struct {
	policy        Evaluator
	checker       Checker
	platformLevel int
	logger        zerolog.Logger

	mu       sync.RWMutex
	launcher Launcher
}

// NewGate creates a gate for a host at the given platform level.
func NewGate(policy Evaluator, checker Checker, platformLevel int, logger zerolog.Logger) *Gate {
	return &Gate{
		policy:        policy,
		checker:       checker,
		platformLevel: platformLevel,
		logger:        logger.With().Str("component", "permission").Logger(),
	}
}

// SetLauncher registers the host's permission prompt.
func (g *Gate) SetLauncher(l Launcher) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.launcher = l
}

// Registered reports whether a launcher has been registered.
func (g *Gate) Registered() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.launcher != nil
}

func (g *Gate) decide(ctx context.Context) (Decision, error) {
	input := Input{
		Permission:    ActivityRecognition,
		PlatformLevel: g.platformLevel,
	}
	if g.checker != nil && g.checker.Granted(ctx, ActivityRecognition) {
		input.Granted = []string{ActivityRecognition}
	}
	return g.policy.Decide(ctx, input)
}

// IsGranted reports whether the step counter may be used.
func (g *Gate) IsGranted(ctx context.Context) (bool, error) {
	decision, err := g.decide(ctx)
	if err != nil {
		return false, err
	}
	return decision.Granted, nil
}

// Request asks for the permission. Platforms without runtime permissions are
// granted without a prompt; otherwise the result is true only when the user
// granted everything that was asked for.
func (g *Gate) Request(ctx context.Context) (bool, error) {
	g.mu.RLock()
	launcher := g.launcher
	g.mu.RUnlock()

	if launcher == nil {
		metrics.PermissionRequests.WithLabelValues("not_registered").Inc()
		return false, ErrNotRegistered
	}

	decision, err := g.decide(ctx)
	if err != nil {
		return false, err
	}
	if !decision.RuntimeRequired {
		metrics.PermissionRequests.WithLabelValues("not_required").Inc()
		return true, nil
	}

	results, err := launcher.Launch(ctx, []string{ActivityRecognition})
	if err != nil {
		metrics.PermissionRequests.WithLabelValues("error").Inc()
		return false, fmt.Errorf("launch permission prompt: %w", err)
	}

	if recorder, ok := g.checker.(Recorder); ok {
		for p, granted := range results {
			recorder.Record(p, granted)
		}
	}

	granted := AllGranted(results)
	if granted {
		metrics.PermissionRequests.WithLabelValues("granted").Inc()
	} else {
		metrics.PermissionRequests.WithLabelValues("denied").Inc()
	}
	g.logger.Info().Bool("granted", granted).Int("platform_level", g.platformLevel).Msg("Permission request completed")
	return granted, nil
}
