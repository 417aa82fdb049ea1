package log

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		env, level string
		want       zerolog.Level
	}{
		{"dev", "", zerolog.DebugLevel},
		{"prod", "", zerolog.InfoLevel},
		{"prod", "warn", zerolog.WarnLevel},
		{"dev", "error", zerolog.ErrorLevel},
		{"prod", "loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.env, tt.level); got != tt.want {
			t.Errorf("parseLevel(%q, %q) = %v, want %v", tt.env, tt.level, got, tt.want)
		}
	}
}

func TestInit_SetsGlobalLevel(t *testing.T) {
	Init("prod", "warn")
	if got := log.Logger.GetLevel(); got != zerolog.WarnLevel {
		t.Errorf("logger level = %v, want warn", got)
	}
}
