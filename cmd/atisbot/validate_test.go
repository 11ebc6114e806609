package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// executeCmd runs rootCmd with args and returns captured stdout and any error.
func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return p
}

func TestRunValidate_ValidConfig(t *testing.T) {
	t.Setenv("ATISBOT_CMD_TOKEN", "123:abc")
	configPath := writeConfig(t, `
telegram:
  token: ${ATISBOT_CMD_TOKEN}
  channel: "@kpdx_atis"
atis:
  icao: kpdx
relay:
  threshold: 5m
  schedule: "*/5 * * * *"
`)

	output, err := executeCmd(t, "validate", "-c", configPath)
	if err != nil {
		t.Fatalf("validate command error = %v", err)
	}

	expectedPhrases := []string{
		"Config is valid!",
		"https://api.flybywiresim.com/atis/KPDX?source=vatsim",
		"@kpdx_atis",
		"5m0s",
		"*/5 * * * *",
	}
	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("output missing %q\ngot:\n%s", phrase, output)
		}
	}
}

func TestRunValidate_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing token",
			content: "telegram:\n  channel: \"@kpdx_atis\"\n",
			wantErr: "telegram.token",
		},
		{
			name:    "missing channel",
			content: "telegram:\n  token: \"123:abc\"\n",
			wantErr: "telegram.channel",
		},
		{
			name:    "unknown key",
			content: "telegram:\n  token: \"123:abc\"\n  channel: \"@c\"\n  chanel: \"@c\"\n",
			wantErr: "chanel",
		},
		{
			name:    "bad icao",
			content: "telegram:\n  token: \"123:abc\"\n  channel: \"@c\"\natis:\n  icao: \"KP\"\n",
			wantErr: "ICAO",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCmd(t, "validate", "-c", writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestRunValidate_MissingFile(t *testing.T) {
	_, err := executeCmd(t, "validate", "-c", filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestVersionCmd(t *testing.T) {
	output, err := executeCmd(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(output, "atisbot dev") {
		t.Fatalf("output = %q", output)
	}
}
