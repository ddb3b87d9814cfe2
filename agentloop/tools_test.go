package agentloop

import (
	"errors"
	"testing"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := NewToolRegistry()
	rec := &recordingTool{}

	if err := reg.Register(echoTool("zeta", rec)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(echoTool("alpha", rec)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := reg.Register(echoTool("alpha", rec)); !errors.Is(err, ErrDuplicateTool) {
		t.Errorf("duplicate Register = %v, want ErrDuplicateTool", err)
	}
	if err := reg.Register(RegisteredTool{Definition: ToolDefinition{Name: "noexec"}}); err == nil {
		t.Error("Register without executor should fail")
	}
	if err := reg.Register(RegisteredTool{Executor: rec.executor}); err == nil {
		t.Error("Register without name should fail")
	}

	if reg.Count() != 2 {
		t.Errorf("Count = %d, want 2", reg.Count())
	}
	names := reg.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("Names = %v", names)
	}

	tool, err := reg.Lookup("zeta")
	if err != nil || tool.Definition.Name != "zeta" {
		t.Errorf("Lookup(zeta) = %+v, %v", tool, err)
	}
	if _, err := reg.Lookup("missing"); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("Lookup(missing) = %v, want ErrToolNotFound", err)
	}
}

func TestToUnifiedLLMToolDefs(t *testing.T) {
	reg := newTestRegistry(t, commandTool(&recordingTool{}))
	defs := reg.ToUnifiedLLMToolDefs()
	if len(defs) != 1 {
		t.Fatalf("got %d definitions", len(defs))
	}
	if defs[0].Name != "terminal_command" || defs[0].Description == "" {
		t.Errorf("definition = %+v", defs[0])
	}
	if defs[0].Parameters["type"] != "object" {
		t.Errorf("parameters = %v", defs[0].Parameters)
	}
}
