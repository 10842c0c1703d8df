package log

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
)

// lockedBuffer is a bytes.Buffer safe for concurrent writers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" WARN ", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"info", LevelInfo},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(LevelInfo)
	})

	SetLevel(LevelWarn)
	Info("hidden message")
	Warn("shown warning", "round", 3)
	Error("sync failed", errors.New("boom"))

	out := buf.String()
	if strings.Contains(out, "hidden message") {
		t.Errorf("info logged at warn level:\n%s", out)
	}
	for _, want := range []string{"shown warning", "round", "sync failed", "boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	SetLevel(LevelDebug)
	Debug("debug detail")
	if !strings.Contains(buf.String(), "debug detail") {
		t.Errorf("debug not logged at debug level:\n%s", buf.String())
	}
}

func TestSetOutputWhileLogging(t *testing.T) {
	var first, second lockedBuffer
	SetOutput(&first)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				Info("refresh tick", "n", j)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			SetOutput(&second)
		} else {
			SetOutput(&first)
		}
	}
	wg.Wait()

	SetOutput(&second)
	Info("after switch")
	if !strings.Contains(second.String(), "after switch") {
		t.Fatalf("final output missing message:\n%s", second.String())
	}
}
