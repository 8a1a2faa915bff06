package util_test

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/downfa11-org/go-dispatcher/util"
	"gopkg.in/yaml.v3"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	util.SetOutput(&buf)
	prev := util.Level()
	defer func() {
		util.SetOutput(os.Stderr)
		util.SetLevel(prev)
	}()
	log.SetFlags(0)
	defer log.SetFlags(log.LstdFlags)

	util.SetLevel(util.LogLevelWarn)
	util.Debug("hidden %d", 1)
	util.Info("hidden %d", 2)
	util.Warn("shown %d", 3)
	util.Error("shown %d", 4)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("messages below warn leaked: %q", out)
	}
	if !strings.Contains(out, "[WARN] shown 3") || !strings.Contains(out, "[ERROR] shown 4") {
		t.Fatalf("missing warn/error lines: %q", out)
	}
}

func TestLogLevelUnmarshal(t *testing.T) {
	var fromYAML struct {
		Level util.LogLevel `yaml:"log_level"`
	}
	if err := yaml.Unmarshal([]byte("log_level: debug"), &fromYAML); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if fromYAML.Level != util.LogLevelDebug {
		t.Fatalf("yaml level = %v", fromYAML.Level)
	}
	if err := yaml.Unmarshal([]byte("log_level: 3"), &fromYAML); err != nil {
		t.Fatalf("yaml int: %v", err)
	}
	if fromYAML.Level != util.LogLevelError {
		t.Fatalf("yaml int level = %v", fromYAML.Level)
	}

	var fromJSON struct {
		Level util.LogLevel `json:"log_level"`
	}
	if err := json.Unmarshal([]byte(`{"log_level":"warn"}`), &fromJSON); err != nil {
		t.Fatalf("json: %v", err)
	}
	if fromJSON.Level != util.LogLevelWarn {
		t.Fatalf("json level = %v", fromJSON.Level)
	}
	if err := json.Unmarshal([]byte(`{"log_level":true}`), &fromJSON); err == nil {
		t.Fatalf("expected error for bool level")
	}

	out, err := json.Marshal(util.LogLevelDebug)
	if err != nil || string(out) != `"debug"` {
		t.Fatalf("marshal = %s, %v", out, err)
	}
}
