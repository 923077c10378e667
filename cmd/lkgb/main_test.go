package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testOntology = `
namespace: http://example.com/test/
classes:
  - name: Event
    prefix: event
    datatype_properties:
      - name: eventMessage
    object_properties:
      - name: hasUser
        range: User
  - name: User
    prefix: user
    datatype_properties:
      - name: userName
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRootCommands(t *testing.T) {
	cmd := rootCmd()
	want := map[string]bool{
		"parse": false, "extract": false, "describe": false, "validate": false,
		"seed": false, "clear": false, "version": false,
	}
	for _, c := range cmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing subcommand %s", name)
		}
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	ontologyPath := writeFile(t, dir, "ontology.yaml", testOntology)

	valid := writeFile(t, dir, "valid.json", `{"event":"login alice","nodes":[
		{"uri":"http://example.com/test/e","class":"Event","properties":{"eventMessage":"login alice"}},
		{"uri":"http://example.com/test/u","class":"User","properties":{"userName":"alice"}}],
		"edges":[{"source":"http://example.com/test/e","property":"hasUser","target":"http://example.com/test/u"}]}`)
	invalid := writeFile(t, dir, "invalid.json", `{"event":"login alice","nodes":[
		{"uri":"http://example.com/test/e","class":"Event","properties":{"eventMessage":"login alice"}},
		{"uri":"http://example.com/test/u","class":"User","properties":{"name":"alice"}}],"edges":[]}`)

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"valid", valid, ""},
		{"invalid", invalid, "not valid"},
		{"missing file", filepath.Join(dir, "nope.json"), "read"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := rootCmd()
			cmd.SetArgs([]string{"validate", "--ontology", ontologyPath, tt.path})
			err := cmd.Execute()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDescribeCommand(t *testing.T) {
	ontologyPath := writeFile(t, t.TempDir(), "ontology.yaml", testOntology)

	cmd := rootCmd()
	cmd.SetArgs([]string{"describe", "--ontology", ontologyPath})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cmd = rootCmd()
	cmd.SetArgs([]string{"describe", "--ontology", ontologyPath + ".missing"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for a missing ontology")
	}
}

func TestSeedCommandCheck(t *testing.T) {
	t.Setenv("EXAMPLES_PATH", "")
	dir := t.TempDir()
	ontologyPath := writeFile(t, dir, "ontology.yaml", testOntology)
	valid := writeFile(t, dir, "examples.json", `[{"event":"login alice","graph":{"nodes":[
		{"uri":"http://example.com/test/e","class":"Event","properties":{"eventMessage":"login alice"}},
		{"uri":"http://example.com/test/u","class":"User","properties":{"userName":"alice"}}],
		"edges":[{"source":"http://example.com/test/e","property":"hasUser","target":"http://example.com/test/u"}]}}]`)
	orphan := writeFile(t, dir, "orphan.json", `[{"event":"login alice","graph":{"nodes":[
		{"uri":"http://example.com/test/e","class":"Event","properties":{"eventMessage":"login alice"}},
		{"uri":"http://example.com/test/u","class":"User","properties":{"userName":"alice"}}]}}]`)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"valid", []string{valid}, ""},
		{"disconnected", []string{orphan}, "Disconnected"},
		{"no path", nil, "EXAMPLES_PATH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := rootCmd()
			cmd.SetArgs(append([]string{"seed", "--check", "--ontology", ontologyPath}, tt.args...))
			err := cmd.Execute()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestClearCommandNeedsScope(t *testing.T) {
	tests := [][]string{
		{"clear"},
		{"clear", "--all", "--experiment", "exp-1"},
	}
	for _, args := range tests {
		cmd := rootCmd()
		cmd.SetArgs(args)
		if err := cmd.Execute(); err == nil {
			t.Fatalf("%v: expected an error before touching the database", args)
		}
	}
}
