package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestNewServeCmd(t *testing.T) {
	cmd := NewServeCmd()

	if cmd == nil {
		t.Fatal("NewServeCmd() returned nil")
	}
	if cmd.Use != "serve" {
		t.Errorf("Expected Use='serve', got %q", cmd.Use)
	}
	if cmd.Flags().Lookup("addr") == nil {
		t.Error("Flag 'addr' not registered")
	}
	if cmd.RunE == nil {
		t.Error("Command RunE function not set")
	}
}

func TestNewAskCmd(t *testing.T) {
	cmd := NewAskCmd()

	if cmd == nil {
		t.Fatal("NewAskCmd() returned nil")
	}
	if !strings.HasPrefix(cmd.Use, "ask") {
		t.Errorf("Expected Use to start with 'ask', got %q", cmd.Use)
	}
	if cmd.Flags().Lookup("json") == nil {
		t.Error("Flag 'json' not registered")
	}
	if cmd.Flags().Lookup("session") == nil {
		t.Error("Flag 'session' not registered")
	}

	// Query argument is required.
	cmd.SetArgs([]string{})
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	if err := cmd.Execute(); err == nil {
		t.Error("Execute() without a query should fail")
	}
}

func TestNewFeedbackCmd(t *testing.T) {
	cmd := NewFeedbackCmd()

	if cmd == nil {
		t.Fatal("NewFeedbackCmd() returned nil")
	}
	if !strings.HasPrefix(cmd.Use, "feedback") {
		t.Errorf("Expected Use to start with 'feedback', got %q", cmd.Use)
	}

	// Exactly two args are required.
	cmd.SetArgs([]string{"trace-only"})
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	if err := cmd.Execute(); err == nil {
		t.Error("Execute() with one argument should fail")
	}
}

func TestNewInsightsCmd(t *testing.T) {
	cmd := NewInsightsCmd()

	if cmd == nil {
		t.Fatal("NewInsightsCmd() returned nil")
	}
	if cmd.Use != "insights" {
		t.Errorf("Expected Use='insights', got %q", cmd.Use)
	}
	for _, flag := range []string{"json", "category", "sources"} {
		if cmd.Flags().Lookup(flag) == nil {
			t.Errorf("Flag %q not registered", flag)
		}
	}
}

func TestNewMineCmd(t *testing.T) {
	cmd := NewMineCmd()

	if cmd == nil {
		t.Fatal("NewMineCmd() returned nil")
	}
	if cmd.Use != "mine" {
		t.Errorf("Expected Use='mine', got %q", cmd.Use)
	}
	if cmd.RunE == nil {
		t.Error("Command RunE function not set")
	}
}

func TestNewIngestCmd(t *testing.T) {
	cmd := NewIngestCmd()

	if cmd == nil {
		t.Fatal("NewIngestCmd() returned nil")
	}
	if !strings.HasPrefix(cmd.Use, "ingest") {
		t.Errorf("Expected Use to start with 'ingest', got %q", cmd.Use)
	}
}

func TestNewVersionCmd(t *testing.T) {
	cmd := NewVersionCmd()

	if cmd == nil {
		t.Fatal("NewVersionCmd() returned nil")
	}
	if cmd.Use != "version" {
		t.Errorf("Expected Use='version', got %q", cmd.Use)
	}

	cmd.SetArgs([]string{})
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
}

func TestCommandHelp(t *testing.T) {
	commands := []*cobra.Command{
		NewServeCmd(),
		NewAskCmd(),
		NewIngestCmd(),
		NewMineCmd(),
		NewInsightsCmd(),
		NewFeedbackCmd(),
	}

	for _, cmd := range commands {
		if cmd.Short == "" {
			t.Errorf("Command %q missing short description", cmd.Use)
		}

		cmd.SetArgs([]string{"--help"})
		buf := new(bytes.Buffer)
		cmd.SetOut(buf)
		cmd.SetErr(buf)
		if err := cmd.Execute(); err != nil {
			t.Errorf("Execute(--help) for %q failed: %v", cmd.Use, err)
		}
	}
}
