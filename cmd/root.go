package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"audio-frames/internal/config"
	"audio-frames/internal/store"
	"audio-frames/internal/types"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	cfg      config.Config
	dbPath   string
	logLevel string
	logJSON  bool
	version  = "1.0.0"
)

var rootCmd = &cobra.Command{
	Use:   "audio-frames",
	Short: "按时间索引的音频分析帧存储",
	Long: `audio-frames 存储离线音频分析的结果：固定间隔的逐帧特征按块保存为紧凑的二进制，
稀疏的事件单独保存，可按任意时间区间查询。

子命令:
  serve    启动 HTTP 接口
  analyze  分析 WAV / FLAC 文件并发布到帧存储
  query    按时间区间读取解码后的帧
  events   按时间区间读取事件
  inspect  查看清单、帧布局和分块计划`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		if cmd.Flags().Changed("db") {
			cfg.DBPath = dbPath
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = config.ParseLevel(logLevel)
		}
		setupLogger(os.Stderr, cfg.LogLevel, logJSON)
	},
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "frames.db", "SQLite 数据库文件 (FRAMES_DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "日志级别: debug/info/warn/error (FRAMES_LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "以 JSON 格式输出日志")

	rootCmd.SetVersionTemplate("audio-frames version {{.Version}}\n")
	rootCmd.Version = version
}

func setupLogger(w io.Writer, level slog.Level, asJSON bool) {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if asJSON {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	return st, nil
}

func parseID(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s 不是合法的 UUID: %q", types.ErrValidation, name, raw)
	}
	return id, nil
}

// resolveManifest 指定 manifestID 时按 id 读取，否则取该分析最新的完整清单
func resolveManifest(ctx context.Context, st *store.Store, analysisID uuid.UUID, manifestID string) (*types.Manifest, error) {
	if manifestID == "" {
		return st.LatestManifest(ctx, analysisID)
	}
	id, err := parseID(manifestID, "manifest")
	if err != nil {
		return nil, err
	}
	m, err := st.GetManifest(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.AnalysisID != analysisID {
		return nil, fmt.Errorf("%w: 清单 %s 不属于分析 %s", types.ErrNotFound, id, analysisID)
	}
	return m, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
