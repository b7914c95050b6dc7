package main

import (
	"testing"

	"tally/internal/config"
)

func TestRootRegistersCommands(t *testing.T) {
	cfg := config.Default()
	root := newRootCmd(&cfg)

	for _, path := range [][]string{
		{"srv"},
		{"migrate"},
		{"info"},
		{"config", "get"},
		{"config", "set"},
		{"config", "keys"},
		{"expense", "create"},
		{"expense", "rm"},
		{"attachment", "add"},
		{"attachment", "ref"},
		{"attachment", "link"},
		{"attachment", "get"},
		{"attachment", "rename"},
		{"attachment", "rm"},
		{"admin", "gc-blobs"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Fatalf("command %v not registered: %v", path, err)
		}
	}
}

func TestAttachAliasResolves(t *testing.T) {
	cfg := config.Default()
	root := newRootCmd(&cfg)
	cmd, _, err := root.Find([]string{"attach", "list"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if cmd.Name() != "list" || cmd.Parent().Name() != "attachment" {
		t.Fatalf("expected attachment list, got %s", cmd.CommandPath())
	}
}

func TestJSONAndYAMLAreExclusive(t *testing.T) {
	t.Setenv(logLevelEnvKey, "")
	cfg := config.Default()
	root := newRootCmd(&cfg)
	root.SetArgs([]string{"config", "keys", "--json", "--yaml"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error for --json with --yaml")
	}
}

func TestArgValidatorsUseMessage(t *testing.T) {
	check := requireExactlyArgs(2, "expense id and name are required")
	if err := check(nil, []string{"ex-1"}); err == nil || err.Error() != "expense id and name are required" {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := check(nil, []string{"ex-1", "Receipt"}); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if err := requireAtLeastArgs(2, "need more")(nil, []string{"a", "b", "c"}); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}
