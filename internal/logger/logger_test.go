package logger

import (
	"github.com/fatih/color"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAsyncHandlerWritesLogFile(t *testing.T) {
	color.NoColor = true
	dir := t.TempDir()

	handler := NewAsyncHandler(dir, slog.LevelInfo)
	log := slog.New(handler).With("env", "dev")
	log.WithGroup("session").Info("connected", "state", "up")
	log.Debug("filtered out")
	if err := handler.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, time.Now().Format("2006-01-02")+".log"))
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	content := string(data)
	for _, want := range []string{"connected", "env=dev", "session.state=up"} {
		if !strings.Contains(content, want) {
			t.Errorf("log line %q does not contain %q", content, want)
		}
	}
	if strings.Contains(content, "filtered out") {
		t.Errorf("debug record written at info level: %q", content)
	}
}

func TestAsyncHandlerCloseTwice(t *testing.T) {
	handler := NewAsyncHandler("", slog.LevelInfo)
	_ = handler.Close()
	_ = handler.Close()
	// writes after close are dropped rather than panicking
	handler.Write([]byte("late\n"))
}
