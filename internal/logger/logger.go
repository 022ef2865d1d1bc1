// Package logger 进程级结构化日志。业务代码直接用包函数打印，
// 输出目标与级别在启动时按配置替换。
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	level   slog.LevelVar
	current atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelInfo)
	current.Store(build(os.Stdout))
}

func build(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level}))
}

// SetOutput 替换日志输出目标，通常在加载配置后指向 stdout+文件的组合。
func SetOutput(w io.Writer) {
	current.Store(build(w))
}

// SetLevel 按配置字符串调整级别，无法识别的值落回 info。
func SetLevel(s string) {
	level.Set(parseLevel(s))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Debugf(format string, v ...any) { current.Load().Debug(fmt.Sprintf(format, v...)) }

func Infof(format string, v ...any) { current.Load().Info(fmt.Sprintf(format, v...)) }

func Warnf(format string, v ...any) { current.Load().Warn(fmt.Sprintf(format, v...)) }

func Errorf(format string, v ...any) { current.Load().Error(fmt.Sprintf(format, v...)) }
