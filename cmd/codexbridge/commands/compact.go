package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newCompactCmd creates the `codexbridge compact` command.
func newCompactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Compact a session's history into its long-term summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			sess := app.Store.Active()
			if id, _ := cmd.Flags().GetString("session"); id != "" {
				sess = app.Store.Get(id)
				if sess == nil {
					return fmt.Errorf("unknown session %q", id)
				}
			}

			res, err := app.Budget.Compact(cmd.Context(), sess, "manual")
			if err != nil {
				return fmt.Errorf("上下文压缩失败: %w", err)
			}
			if !res.Performed {
				fmt.Println("当前上下文占用较低，无需压缩")
				return nil
			}
			if err := app.Store.Persist(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("已压缩会话上下文（%d 条历史消息）\n", res.SummarizedCount)
			return nil
		},
	}
	cmd.Flags().StringP("session", "s", "", "session id instead of the active one")
	return cmd
}
