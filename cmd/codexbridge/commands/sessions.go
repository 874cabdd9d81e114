package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSessionsCmd creates the `codexbridge sessions` command group.
func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage chat sessions",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List sessions, most recent first",
			RunE: func(cmd *cobra.Command, _ []string) error {
				app, err := loadApp(cmd)
				if err != nil {
					return err
				}
				defer app.Close()
				printSessions(app)
				return nil
			},
		},
		&cobra.Command{
			Use:   "new",
			Short: "Create and activate a new session",
			RunE: func(cmd *cobra.Command, _ []string) error {
				app, err := loadApp(cmd)
				if err != nil {
					return err
				}
				defer app.Close()
				sess := app.Store.Create()
				if err := app.Store.Persist(cmd.Context()); err != nil {
					return err
				}
				fmt.Println(sess.ID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "use <id>",
			Short: "Activate a session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := loadApp(cmd)
				if err != nil {
					return err
				}
				defer app.Close()
				if !app.Store.SetActive(args[0]) {
					return fmt.Errorf("unknown session %q", args[0])
				}
				return app.Store.Persist(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := loadApp(cmd)
				if err != nil {
					return err
				}
				defer app.Close()
				if app.Store.Get(args[0]) == nil {
					return fmt.Errorf("unknown session %q", args[0])
				}
				app.Store.Delete(args[0])
				return app.Store.Persist(cmd.Context())
			},
		},
	)
	return cmd
}
