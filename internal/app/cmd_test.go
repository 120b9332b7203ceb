package app

import (
	"bytes"
	"testing"
)

func TestNewRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand(&bytes.Buffer{})

	for _, name := range []Command{CommandServe, CommandMigrate, CommandHealthcheck, CommandRetag, CommandLeaderboard} {
		cmd, _, err := root.Find([]string{string(name)})
		if err != nil {
			t.Errorf("Find(%q) error = %v", name, err)
			continue
		}
		if cmd.Name() != string(name) {
			t.Errorf("Find(%q) = %q", name, cmd.Name())
		}
	}
}

func TestRun_UnknownCommand_ReturnsError(t *testing.T) {
	var buf bytes.Buffer
	if err := Run(&buf, []string{"worker"}); err == nil {
		t.Fatal("Run(worker) should return error")
	}
}

func TestRun_RetagRequiresItemID(t *testing.T) {
	var buf bytes.Buffer
	if err := Run(&buf, []string{"retag"}); err == nil {
		t.Fatal("Run(retag) without item id should return error")
	}
	if err := Run(&buf, []string{"retag", "a", "b"}); err == nil {
		t.Fatal("Run(retag a b) should return error")
	}
}

func TestCommandString(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{CommandServe, "serve"},
		{CommandMigrate, "migrate"},
		{CommandHealthcheck, "healthcheck"},
		{CommandRetag, "retag"},
		{CommandLeaderboard, "leaderboard"},
	}

	for _, tt := range tests {
		if got := string(tt.cmd); got != tt.want {
			t.Errorf("Command(%q) string = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}

func TestRun_MigrateRejectsNegativeRollback(t *testing.T) {
	var buf bytes.Buffer
	if err := Run(&buf, []string{"migrate", "--rollback", "-1"}); err == nil {
		t.Fatal("Run(migrate --rollback -1) should return error")
	}
}
