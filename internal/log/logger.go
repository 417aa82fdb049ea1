package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init 配置全局 logger：dev 输出彩色控制台格式，其他环境输出 JSON。
// level 为空或无法解析时，dev 默认 debug，其余默认 info。
func Init(env, level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	var out io.Writer = os.Stdout
	if env == "dev" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(out).Level(parseLevel(env, level)).With().Timestamp().Logger()
}

func parseLevel(env, level string) zerolog.Level {
	if lvl, err := zerolog.ParseLevel(level); err == nil && level != "" {
		return lvl
	}
	if env == "dev" {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
