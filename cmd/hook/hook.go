package hook

import "github.com/spf13/cobra"

// HookCmd groups the git hook helpers.
var HookCmd = &cobra.Command{Use: "hook", Short: "Git hook helpers"}

func init() {
	HookCmd.AddCommand(postReceiveCmd)
	HookCmd.AddCommand(installCmd)
}
