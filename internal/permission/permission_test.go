package permission

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestPolicy(t *testing.T) *Policy {
	t.Helper()

	policy, err := NewPolicy("", zerolog.Nop())
	if err != nil {
		t.Fatalf("load embedded policy: %v", err)
	}
	return policy
}

func TestPolicyDecisions(t *testing.T) {
	policy := newTestPolicy(t)

	tests := []struct {
		name  string
		input Input
		want  Decision
	}{
		{
			name:  "legacy platform needs no runtime permission",
			input: Input{Permission: ActivityRecognition, PlatformLevel: 28},
			want:  Decision{RuntimeRequired: false, Granted: true},
		},
		{
			name:  "runtime permission not granted",
			input: Input{Permission: ActivityRecognition, PlatformLevel: 29},
			want:  Decision{RuntimeRequired: true, Granted: false},
		},
		{
			name:  "runtime permission granted",
			input: Input{Permission: ActivityRecognition, PlatformLevel: 34, Granted: []string{ActivityRecognition}},
			want:  Decision{RuntimeRequired: true, Granted: true},
		},
		{
			name:  "other permission granted",
			input: Input{Permission: ActivityRecognition, PlatformLevel: 34, Granted: []string{"android.permission.CAMERA"}},
			want:  Decision{RuntimeRequired: true, Granted: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := policy.Decide(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("decide: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestPolicyFromDirectoryAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "permission.rego")

	allowAll := `package pedometer.permission

decision := {"runtime_required": true, "granted": true}
`
	if err := os.WriteFile(path, []byte(allowAll), 0600); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	policy, err := NewPolicy(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}

	got, err := policy.Decide(context.Background(), Input{Permission: ActivityRecognition, PlatformLevel: 33})
	if err != nil || !got.Granted {
		t.Fatalf("expected granted decision, got %+v (%v)", got, err)
	}

	if err := os.WriteFile(path, []byte("package pedometer.permission\n\ndecision := {{{"), 0600); err != nil {
		t.Fatalf("write broken policy: %v", err)
	}
	if err := policy.Reload(); err == nil {
		t.Fatal("expected reload of a broken policy to fail")
	}

	got, err = policy.Decide(context.Background(), Input{Permission: ActivityRecognition, PlatformLevel: 33})
	if err != nil || !got.Granted {
		t.Fatalf("expected previous policy to stay in effect, got %+v (%v)", got, err)
	}
}

func TestPolicyMissingDirectory(t *testing.T) {
	if _, err := NewPolicy(t.TempDir(), zerolog.Nop()); err == nil {
		t.Fatal("expected error for a directory without policies")
	}
}

func TestAllGranted(t *testing.T) {
	if !AllGranted(nil) {
		t.Error("expected empty result to count as granted")
	}
	if !AllGranted(map[string]bool{"a": true, "b": true}) {
		t.Error("expected all true to be granted")
	}
	if AllGranted(map[string]bool{"a": true, "b": false}) {
		t.Error("expected a denial to fail the request")
	}
}

func TestGateRequestNotRegistered(t *testing.T) {
	gate := NewGate(newTestPolicy(t), NewMemoryChecker(nil), 33, zerolog.Nop())

	if gate.Registered() {
		t.Fatal("expected gate without launcher")
	}
	if _, err := gate.Request(context.Background()); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestGateRequestRecordsGrant(t *testing.T) {
	checker := NewMemoryChecker(nil)
	gate := NewGate(newTestPolicy(t), checker, 33, zerolog.Nop())
	gate.SetLauncher(StaticLauncher{Allow: []string{ActivityRecognition}})

	ctx := context.Background()
	if granted, err := gate.IsGranted(ctx); err != nil || granted {
		t.Fatalf("expected not granted before request, got %v (%v)", granted, err)
	}

	granted, err := gate.Request(ctx)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !granted {
		t.Fatal("expected request to be granted")
	}

	if granted, err := gate.IsGranted(ctx); err != nil || !granted {
		t.Fatalf("expected granted after request, got %v (%v)", granted, err)
	}
}

func TestGateRequestDenied(t *testing.T) {
	gate := NewGate(newTestPolicy(t), NewMemoryChecker(nil), 33, zerolog.Nop())
	gate.SetLauncher(StaticLauncher{})

	granted, err := gate.Request(context.Background())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if granted {
		t.Fatal("expected denial")
	}
}

type countingLauncher struct{ calls int }

func (l *countingLauncher) Launch(context.Context, []string) (map[string]bool, error) {
	l.calls++
	return map[string]bool{}, nil
}

func TestGateRequestLegacyPlatformSkipsPrompt(t *testing.T) {
	launcher := &countingLauncher{}
	gate := NewGate(newTestPolicy(t), NewMemoryChecker(nil), 28, zerolog.Nop())
	gate.SetLauncher(launcher)

	granted, err := gate.Request(context.Background())
	if err != nil || !granted {
		t.Fatalf("expected grant without prompt, got %v (%v)", granted, err)
	}
	if launcher.calls != 0 {
		t.Fatalf("expected no prompt, got %d", launcher.calls)
	}
}

func TestPromptLauncher(t *testing.T) {
	var out bytes.Buffer
	launcher := PromptLauncher{In: strings.NewReader("yes\n"), Out: &out}

	results, err := launcher.Launch(context.Background(), []string{ActivityRecognition})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if !results[ActivityRecognition] {
		t.Fatal("expected grant")
	}
	if !strings.Contains(out.String(), ActivityRecognition) {
		t.Fatalf("expected prompt to name the permission, got %q", out.String())
	}

	results, err = PromptLauncher{In: strings.NewReader(""), Out: &out}.Launch(context.Background(), []string{ActivityRecognition})
	if err != nil {
		t.Fatalf("launch at EOF: %v", err)
	}
	if results[ActivityRecognition] {
		t.Fatal("expected denial at EOF")
	}
}

func TestMemoryCheckerRecord(t *testing.T) {
	checker := NewMemoryChecker([]string{"a"})
	checker.Record("b", true)
	checker.Record("a", false)

	if checker.Granted(context.Background(), "a") {
		t.Error("expected a to be revoked")
	}
	if !checker.Granted(context.Background(), "b") {
		t.Error("expected b to be granted")
	}
	if len(checker.List()) != 1 {
		t.Errorf("expected one grant, got %v", checker.List())
	}
}
