package cmd

import (
	"audio-frames/internal/types"

	"github.com/spf13/cobra"
)

var (
	eventsFromMs int
	eventsToMs   int
	eventsType   string
)

var eventsCmd = &cobra.Command{
	Use:   "events <analysis_id>",
	Short: "按时间区间读取事件 (JSON)",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().IntVar(&eventsFromMs, "from", 0, "起始时间 ms (含)")
	eventsCmd.Flags().IntVar(&eventsToMs, "to", types.OpenEnd, "结束时间 ms (不含)，默认到结尾")
	eventsCmd.Flags().StringVarP(&eventsType, "type", "t", "", "只返回该类型的事件")
}

func runEvents(cmd *cobra.Command, args []string) error {
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

	events, err := st.QueryEvents(ctx, types.EventQuery{
		AnalysisID: id,
		FromMs:     eventsFromMs,
		ToMs:       eventsToMs,
		EventType:  types.EventType(eventsType),
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), events)
}
