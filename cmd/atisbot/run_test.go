package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeRunner struct{ err error }

func (f fakeRunner) Run(context.Context) error { return f.err }

func stubRunners(t *testing.T, errs ...error) *int {
	t.Helper()
	calls := 0
	old := newRunner
	newRunner = func(string) (runner, error) {
		i := calls
		calls++
		if i >= len(errs) {
			return fakeRunner{}, nil
		}
		return fakeRunner{err: errs[i]}, nil
	}
	t.Cleanup(func() { newRunner = old })
	return &calls
}

func TestRunRetriesOnceAndWritesCrashFile(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
		wantCrash string
	}{
		{name: "clean exit", errs: nil, wantCalls: 1},
		{name: "recovers on retry", errs: []error{errors.New("first boom")}, wantCalls: 2, wantCrash: "first boom"},
		{
			name:      "fails twice",
			errs:      []error{errors.New("first boom"), errors.New("second boom")},
			wantCalls: 2,
			wantErr:   true,
			wantCrash: "second boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := stubRunners(t, tt.errs...)
			crash := filepath.Join(t.TempDir(), "error_log.txt")

			_, err := executeCmd(t, "run", "-c", "unused.yaml", "--crash-file", crash)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if *calls != tt.wantCalls {
				t.Fatalf("runner calls = %d, want %d", *calls, tt.wantCalls)
			}

			b, rerr := os.ReadFile(crash)
			if tt.wantCrash == "" {
				if rerr == nil {
					t.Fatalf("crash file written: %q", b)
				}
				return
			}
			if rerr != nil {
				t.Fatalf("read crash file: %v", rerr)
			}
			if got := strings.TrimSpace(string(b)); got != tt.wantCrash {
				t.Fatalf("crash file = %q, want %q", got, tt.wantCrash)
			}
		})
	}
}
