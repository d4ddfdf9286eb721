package cmd

import (
	"strings"

	"audio-frames/internal/query"
	"audio-frames/internal/types"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	queryFromMs   int
	queryToMs     int
	queryBands    string
	queryManifest string
)

var queryCmd = &cobra.Command{
	Use:   "query <analysis_id>",
	Short: "按时间区间读取解码后的帧 (JSON)",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().IntVar(&queryFromMs, "from", 0, "起始时间 ms (含)")
	queryCmd.Flags().IntVar(&queryToMs, "to", types.OpenEnd, "结束时间 ms (不含)，默认到结尾")
	queryCmd.Flags().StringVar(&queryBands, "bands", "", "只返回这些频带，逗号分隔")
	queryCmd.Flags().StringVar(&queryManifest, "manifest", "", "指定清单ID，默认最新的完整清单")
}

type queryOutput struct {
	ManifestID  uuid.UUID `json:"manifest_id"`
	TotalFrames int       `json:"total_frames"`
	*query.Result
}

func runQuery(cmd *cobra.Command, args []string) error {
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

	m, err := resolveManifest(ctx, st, id, queryManifest)
	if err != nil {
		return err
	}

	var bands []string
	for _, b := range strings.Split(queryBands, ",") {
		if b = strings.TrimSpace(b); b != "" {
			bands = append(bands, b)
		}
	}

	res, err := query.New(st, cfg.QueryConcurrency).QueryFrames(ctx, m, queryFromMs, queryToMs, bands)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), queryOutput{
		ManifestID:  m.ID,
		TotalFrames: res.TotalFrames(),
		Result:      res,
	})
}
