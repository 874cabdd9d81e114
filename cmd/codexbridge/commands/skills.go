package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSkillsCmd creates the `codexbridge skills` command group.
func newSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect the discovered skill catalog",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered skills",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if refresh, _ := cmd.Flags().GetBool("refresh"); refresh {
				app.Catalog.Refresh()
			}
			list := app.Catalog.List()
			if len(list) == 0 {
				fmt.Println("no skills found")
				return nil
			}
			for _, s := range list {
				if s.Description != "" {
					fmt.Printf("%s\t%s\t%s\n", s.ID, s.Name, s.Description)
				} else {
					fmt.Printf("%s\t%s\n", s.ID, s.Name)
				}
			}
			return nil
		},
	}
	listCmd.Flags().Bool("refresh", false, "drop the scan cache before listing")

	useCmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Stage a skill on the active session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			id := args[0]
			if _, ok := app.Catalog.Get(id); !ok {
				return fmt.Errorf("unknown skill %q", id)
			}
			sess := app.Store.Active()
			if !sess.StageSkill(id) {
				fmt.Println("skill already staged, or the selection is full")
				return nil
			}
			if err := app.Store.Persist(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("✓ %s staged for session %q\n", id, sess.Title)
			return nil
		},
	}

	dropCmd := &cobra.Command{
		Use:   "drop <id>",
		Short: "Unstage a skill from the active session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			sess := app.Store.Active()
			if !sess.UnstageSkill(args[0]) {
				return fmt.Errorf("skill %q is not staged", args[0])
			}
			if err := app.Store.Persist(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("✓ %s removed from session %q\n", args[0], sess.Title)
			return nil
		},
	}

	cmd.AddCommand(listCmd, useCmd, dropCmd)
	return cmd
}
