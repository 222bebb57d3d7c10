package logger

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	coreconfig "github.com/m3rciful/checklistbot/core/config"
)

func TestSelectLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info+2":  slog.LevelInfo + 2,
		"loud":    slog.LevelInfo,
	}
	for in, want := range cases {
		cfg := &coreconfig.Config{Logging: coreconfig.LoggingConfig{Level: in}}
		if got := selectLevel(cfg); got != want {
			t.Fatalf("selectLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSelectKeyOrder(t *testing.T) {
	cfg := &coreconfig.Config{Logging: coreconfig.LoggingConfig{KeysOrder: "ts, level,event"}}
	if got := selectKeyOrder(cfg); !reflect.DeepEqual(got, []string{"ts", "level", "event"}) {
		t.Fatalf("order = %v", got)
	}
	cfg.Logging.KeysOrder = "default"
	if got := selectKeyOrder(cfg); len(got) != len(defaultKeyOrder) {
		t.Fatalf("default order len = %d", len(got))
	}
}

func TestSelectFormat(t *testing.T) {
	if selectFormat(nil) != formatJSON {
		t.Fatal("nil config must log JSON")
	}
	cfg := &coreconfig.Config{Logging: coreconfig.LoggingConfig{Profile: "dev"}}
	if selectFormat(cfg) != formatKV {
		t.Fatal("dev profile must log kv")
	}
	cfg.Logging.Format = "json"
	if selectFormat(cfg) != formatJSON {
		t.Fatal("explicit json ignored")
	}
}

func TestErrAttr(t *testing.T) {
	a := Err(errors.New("bad\x00 " + strings.Repeat("x", 400)))
	if a.Key != "err" {
		t.Fatalf("key = %q", a.Key)
	}
	if v := a.Value.String(); strings.ContainsRune(v, 0) || len([]rune(v)) != maxErrLen {
		t.Fatalf("value not sanitized/limited: %d runes", len([]rune(v)))
	}
	if Err(nil).Value.String() != "" {
		t.Fatal("nil error must be empty")
	}
}

func TestHelpersAreNilSafe(t *testing.T) {
	// Before InitLogger the package logger is nil; helpers must not panic.
	Info(context.Background(), "app", "noop", slog.Int("n", 1))
	Error(context.Background(), "app", "noop")
}
