package logx

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	SetLevel(LevelInfo)

	l := New("test")
	l.Debugf("hidden")
	l.Infof("shown %d", 1)
	l.Warnf("also shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug line emitted at info level")
	}
	if !strings.Contains(out, "I [test] shown 1") {
		t.Errorf("info line missing: %q", out)
	}
	if !strings.Contains(out, "W [test] also shown") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestHex(t *testing.T) {
	if got := Hex([]byte{0x20, 0x06, 0x0B}); got != "20 06 0B" {
		t.Errorf("Hex = %q", got)
	}
	if Hex(nil) != "" {
		t.Error("Hex(nil) not empty")
	}
}
