package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"audio-frames/internal/api"
	"audio-frames/internal/query"

	"github.com/spf13/cobra"
)

var (
	servePort        int
	serveConcurrency int
	serveMaxQueryMs  int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP 接口",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "监听端口 (FRAMES_PORT)")
	serveCmd.Flags().IntVar(&serveConcurrency, "query-concurrency", query.DefaultConcurrency, "单次区间查询并发拉取的块数 (FRAMES_QUERY_CONCURRENCY)")
	serveCmd.Flags().IntVar(&serveMaxQueryMs, "max-query-ms", 600000, "单次帧查询允许的最大时间跨度，0 表示不限 (FRAMES_MAX_QUERY_MS)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	if cmd.Flags().Changed("query-concurrency") {
		cfg.QueryConcurrency = serveConcurrency
	}
	if cmd.Flags().Changed("max-query-ms") {
		cfg.MaxQueryMs = serveMaxQueryMs
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	engine := query.New(st, cfg.QueryConcurrency)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api.NewServer(st, engine, cfg.MaxQueryMs).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", srv.Addr, "db", cfg.DBPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP 服务异常退出: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("关闭 HTTP 服务失败: %w", err)
	}
	return nil
}
