package commands

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/hollisner/codexbridge/pkg/codexbridge/config"
)

// newSetupCmd creates the `codexbridge setup` command.
func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive settings wizard",
		Long: `Walks through the essential settings and writes settings.yaml.
The optional agent API key goes to the OS keyring, never to disk.

Examples:
  codexbridge setup
  codexbridge setup --clear-key`,
		RunE: runSetup,
	}
	cmd.Flags().Bool("clear-key", false, "remove the stored agent API key and exit")
	return cmd
}

func runSetup(cmd *cobra.Command, _ []string) error {
	if clear, _ := cmd.Flags().GetBool("clear-key"); clear {
		if err := config.DeleteAPIKey(); err != nil {
			return err
		}
		fmt.Println("✓ API key removed from the OS keyring")
		return nil
	}

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.DefaultSettingsPath()
	}
	settings, err := config.Load(path)
	if err != nil {
		return err
	}

	agentMode := settings.IsAgentMode()
	nativeMode := settings.IsNativeContextMode()
	apiKey := ""

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Agent binary").
				Description("Name or path of the codex binary").
				Value(&settings.Command),
			huh.NewInput().
				Title("Extra arguments").
				Description("Forwarded to the exec fallback, shell-quoted").
				Value(&settings.Args),
			huh.NewSelect[string]().
				Title("Model").
				Options(huh.NewOptions(settings.ModelChoices()...)...).
				Value(&settings.Model),
			huh.NewInput().
				Title("Vault directory").
				Description("Markdown root for @[[...]] mentions, empty for the working directory").
				Value(&settings.VaultDir),
			huh.NewConfirm().
				Title("Agent mode").
				Description("Allow file operations inside the vault (workspace-write sandbox)").
				Value(&agentMode),
			huh.NewConfirm().
				Title("Native context mode").
				Description("Rely on the agent's own thread memory for history").
				Value(&nativeMode),
			huh.NewConfirm().
				Title("Extended context window").
				Description("Budget against the 1M-token window").
				Value(&settings.Show1MContext),
			huh.NewInput().
				Title("Agent API key (optional)").
				Description("Stored in the OS keyring, leave empty to skip").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	settings.AgentMode = &agentMode
	settings.NativeContextMode = &nativeMode

	if err := settings.Save(path); err != nil {
		return err
	}
	fmt.Printf("✓ Settings written to %s\n", path)

	if key := strings.TrimSpace(apiKey); key != "" {
		if err := config.StoreAPIKey(key); err != nil {
			return err
		}
		fmt.Println("✓ API key stored in the OS keyring")
	}
	return nil
}
