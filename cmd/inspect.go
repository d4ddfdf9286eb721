package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"audio-frames/internal/frames"
	"audio-frames/internal/types"

	"github.com/spf13/cobra"
)

var (
	inspectManifest string
	inspectAll      bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <analysis_id>",
	Short: "查看清单、帧布局和分块计划",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringVar(&inspectManifest, "manifest", "", "指定清单ID，默认最新的完整清单")
	inspectCmd.Flags().BoolVar(&inspectAll, "all", false, "列出该分析的所有清单")
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := parseID(args[0], "analysis_id")
	if err != nil {
		return err
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	if inspectAll {
		list, err := st.ListManifests(ctx, id)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\t创建时间\t完整\t分析器版本\t指纹")
		for _, m := range list {
			fmt.Fprintf(tw, "%s\t%s\t%v\t%s\t%s\n",
				m.ID, m.CreatedAt.Format("2006-01-02 15:04:05"), m.Complete, m.AnalyzerVersion, m.Fingerprint)
		}
		return tw.Flush()
	}

	m, err := resolveManifest(ctx, st, id, inspectManifest)
	if err != nil {
		return err
	}
	layout, err := frames.VerifyManifest(m)
	if err != nil {
		return err
	}
	stored, err := st.CountChunks(ctx, m.ID)
	if err != nil {
		return err
	}
	return printManifest(out, m, layout, stored)
}

func printManifest(w io.Writer, m *types.Manifest, layout *frames.Layout, storedChunks int) error {
	fmt.Fprintf(w, "清单ID: %s\n", m.ID)
	fmt.Fprintf(w, "分析ID: %s\n", m.AnalysisID)
	fmt.Fprintf(w, "指纹: %s\n", m.Fingerprint)
	fmt.Fprintf(w, "音频哈希: %s\n", m.AudioContentHash)
	fmt.Fprintf(w, "分析器版本: %s (格式 %s)\n", m.AnalyzerVersion, m.Version)
	fmt.Fprintf(w, "时长: %d ms, 采样率 %d Hz\n", m.DurationMs, m.SampleRate)
	fmt.Fprintf(w, "帧: %d 帧, 每 %d ms 一帧, 每帧 %d 字节\n", m.FrameCount, m.HopMs, m.BytesPerFrame)
	fmt.Fprintf(w, "完整: %v, 已存储 %d/%d 块\n", m.Complete, storedChunks, m.TotalChunks)

	fmt.Fprintf(w, "\n帧布局:\n")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "频带\t类型\t元素\t偏移\t宽度")
	for i, e := range layout.Entries {
		b := layout.Bands[i]
		fmt.Fprintf(tw, "%s\t%s\t%d x %d\t%d\t%d\n", e.Band, b.DataType, b.ElementCount, b.ElementByteWidth, e.Offset, e.Width)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	spans, err := frames.PlanChunks(m.FrameCount, m.ChunkSizeFrames)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\n分块计划 (每块 %d 帧):\n", m.ChunkSizeFrames)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "块\t帧\t时间 ms\t字节")
	for _, s := range spans {
		startMs, endMs := frames.ChunkTimeRange(s, m.HopMs, m.DurationMs)
		fmt.Fprintf(tw, "%d\t[%d, %d)\t[%d, %d)\t%d\n",
			s.Index, s.StartFrame, s.EndFrame(), startMs, endMs, s.ByteLen(m.BytesPerFrame))
	}
	return tw.Flush()
}
