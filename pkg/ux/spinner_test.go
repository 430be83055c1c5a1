// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"errors"
	"strings"
	"testing"
)

func TestSpinner_MachineMode_PrintsOnce(t *testing.T) {
	orig := CurrentLevel()
	defer SetPersonalityLevel(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := captureStdout(func() {
		s := NewSpinner("materializing tables")
		s.Start()
		s.Stop()
	})

	if output != "PROGRESS: materializing tables\n" {
		t.Errorf("expected single PROGRESS line, got %q", output)
	}
}

func TestSpinner_StandardMode_PrintsOnce(t *testing.T) {
	orig := CurrentLevel()
	defer SetPersonalityLevel(orig)

	SetPersonalityLevel(PersonalityStandard)

	output := captureStdout(func() {
		s := NewSpinner("scanning runs")
		s.Start()
		s.Stop()
	})

	if !strings.Contains(output, "scanning runs") {
		t.Errorf("expected message in output, got %q", output)
	}
	if strings.Count(output, "scanning runs") != 1 {
		t.Errorf("expected message printed exactly once, got %q", output)
	}
}

func TestSpinner_DoubleStartIsSafe(t *testing.T) {
	orig := CurrentLevel()
	defer SetPersonalityLevel(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := captureStdout(func() {
		s := NewSpinner("working")
		s.Start()
		s.Start()
		s.Stop()
		s.Stop()
	})

	if strings.Count(output, "PROGRESS") != 1 {
		t.Errorf("double start should print once, got %q", output)
	}
}

func TestSpinner_StopWithoutStart(t *testing.T) {
	orig := CurrentLevel()
	defer SetPersonalityLevel(orig)

	SetPersonalityLevel(PersonalityMachine)

	// Must not panic or block.
	s := NewSpinner("idle")
	s.Stop()
}

func TestSpinner_UpdateMessage(t *testing.T) {
	s := NewSpinner("first")
	s.UpdateMessage("second")

	s.mu.Lock()
	got := s.message
	s.mu.Unlock()

	if got != "second" {
		t.Errorf("expected updated message, got %q", got)
	}
}

func TestWithSpinner_Success(t *testing.T) {
	orig := CurrentLevel()
	defer SetPersonalityLevel(orig)

	SetPersonalityLevel(PersonalityMachine)

	var ran bool
	output := captureStdout(func() {
		err := WithSpinner("building joins", func() error {
			ran = true
			return nil
		})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	if !ran {
		t.Error("expected wrapped function to run")
	}
	if !strings.Contains(output, "OK: building joins") {
		t.Errorf("expected success line, got %q", output)
	}
}

func TestWithSpinner_Error(t *testing.T) {
	orig := CurrentLevel()
	defer SetPersonalityLevel(orig)

	SetPersonalityLevel(PersonalityMachine)

	wantErr := errors.New("bucket offline")
	errOut := captureStderr(func() {
		captureStdout(func() {
			if err := WithSpinner("uploading", func() error { return wantErr }); !errors.Is(err, wantErr) {
				t.Errorf("expected wrapped error back, got %v", err)
			}
		})
	})

	if !strings.Contains(errOut, "bucket offline") {
		t.Errorf("expected error detail on stderr, got %q", errOut)
	}
}
