package context_test

import (
	"context"
	"strings"
	"testing"

	fcontext "github.com/compose-farm/compose-farm/pkg/context"
)

func TestStartRun(t *testing.T) {
	ctx := fcontext.StartRun(context.Background(), "apply")

	if !strings.HasPrefix(fcontext.GetRunID(ctx), "run_") {
		t.Errorf("unexpected run id %q", fcontext.GetRunID(ctx))
	}
	if fcontext.GetOperation(ctx) != "apply" {
		t.Errorf("unexpected operation %q", fcontext.GetOperation(ctx))
	}
	if fcontext.GetDuration(ctx) < 0 {
		t.Error("expected non-negative duration")
	}
}

func TestStartRun_KeepsExistingRunID(t *testing.T) {
	ctx := fcontext.WithRunID(context.Background(), "run_fixed")
	ctx = fcontext.StartRun(ctx, "migrate")

	if fcontext.GetRunID(ctx) != "run_fixed" {
		t.Errorf("expected run id to be preserved, got %q", fcontext.GetRunID(ctx))
	}
}

func TestDefaults(t *testing.T) {
	ctx := context.Background()
	if fcontext.HasRunID(ctx) {
		t.Error("expected no run id")
	}
	if fcontext.GetDuration(ctx) != 0 {
		t.Error("expected zero duration without start time")
	}
}
