package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"audio-frames/internal/types"
)

// Config 运行时配置，从环境变量读取，命令行参数可再覆盖
type Config struct {
	// 存储
	DBPath string

	// 服务
	Port             int
	QueryConcurrency int // 单次区间查询并发拉取的块数
	MaxQueryMs       int // 单次 HTTP 帧查询允许的最大时间跨度，0 表示不限

	// 分析
	HopMs           int
	ChunkSizeFrames int
	FFTSize         int
	SpectrumBands   int
	AnalyzerVersion string

	LogLevel slog.Level
}

// Load 读取环境变量，无效数值回落到默认值
func Load() Config {
	return Config{
		DBPath: envStr("FRAMES_DB_PATH", "frames.db"),

		Port:             envInt("FRAMES_PORT", 8080),
		QueryConcurrency: envInt("FRAMES_QUERY_CONCURRENCY", 4),
		MaxQueryMs:       envInt("FRAMES_MAX_QUERY_MS", 600000),

		HopMs:           envInt("FRAMES_HOP_MS", 10),
		ChunkSizeFrames: envInt("FRAMES_CHUNK_SIZE", types.DefaultChunkSizeFrames),
		FFTSize:         envInt("FRAMES_FFT_SIZE", 2048),
		SpectrumBands:   envInt("FRAMES_SPECTRUM_BANDS", 24),
		AnalyzerVersion: envStr("FRAMES_ANALYZER_VERSION", types.DefaultAnalyzerVersion),

		LogLevel: ParseLevel(envStr("FRAMES_LOG_LEVEL", "info")),
	}
}

// ParseLevel debug/info/warn/error，无法识别时为 info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt 非数字或负数都回落到默认值
func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}
