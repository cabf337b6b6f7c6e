package sandbox

import (
	"context"
	"strings"
	"testing"
)

func TestDiagnoseMapsKnownCodes(t *testing.T) {
	tests := []struct {
		code int
		want Cause
	}{
		{ExitUnsupportedFormat, CauseUnsupportedFormat},
		{ExitCorruptedDocument, CauseCorruptedDocument},
		{ExitPageLimit, CausePageLimit},
		{ExitPageSize, CausePageSize},
		{ExitRenderFailure, CauseRenderFailure},
		{126, CauseNotLaunchable},
		{127, CauseNotLaunchable},
		{137, CauseResourceLimit},
		{139, CauseCrashed},
		{134, CauseCrashed},
	}
	for _, tt := range tests {
		got := Diagnose(tt.code)
		if got.Cause != tt.want {
			t.Errorf("Diagnose(%d).Cause = %v, want %v", tt.code, got.Cause, tt.want)
		}
		if got.Code != tt.code {
			t.Errorf("Diagnose(%d).Code = %d", tt.code, got.Code)
		}
	}
}

func TestDiagnoseKilledByResourceLimit(t *testing.T) {
	got := Diagnose(137)
	if got.Cause != CauseResourceLimit {
		t.Fatalf("Diagnose(137).Cause = %v, want CauseResourceLimit", got.Cause)
	}
	if !strings.Contains(got.Error(), "resource limit") {
		t.Fatalf("Diagnose(137).Error() = %q, want resource limit mention", got.Error())
	}
}

func TestDiagnoseUnknownCodeFallsBack(t *testing.T) {
	got := Diagnose(42)
	if got.Cause != CauseUnknown {
		t.Fatalf("Diagnose(42).Cause = %v, want CauseUnknown", got.Cause)
	}
	if got.Error() != "worker failed with exit code 42" {
		t.Fatalf("Diagnose(42).Error() = %q", got.Error())
	}
}

func TestDiagnoseExitCollectsStatus(t *testing.T) {
	l := &ExecLauncher{Command: []string{"sh", "-c", "exit 11"}}
	w, err := l.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	diag := DiagnoseExit(context.Background(), w)
	if diag.Cause != CauseCorruptedDocument {
		t.Fatalf("DiagnoseExit cause = %v (code %d), want CauseCorruptedDocument", diag.Cause, diag.Code)
	}
}

func TestExecLauncherWaitReportsSignalsShellStyle(t *testing.T) {
	l := &ExecLauncher{Command: []string{"sh", "-c", "kill -9 $$"}}
	w, err := l.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	code, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if code != 137 {
		t.Fatalf("exit code = %d, want 137 for SIGKILL", code)
	}
	// Wait must be repeatable.
	again, err := w.Wait(context.Background())
	if err != nil || again != 137 {
		t.Fatalf("second Wait = %d, %v", again, err)
	}
}
