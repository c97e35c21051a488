package hook

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/yz4230/shipyard/internal/storage"
)

var installFlags struct {
	endpoint string
}

var installCmd = &cobra.Command{
	Use:   "install <bare-repo-dir>",
	Short: "Install a post-receive hook that triggers pipelines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		binary, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
		path, err := storage.InstallPostReceiveHook(args[0], binary, installFlags.endpoint)
		if err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("installed post-receive hook")
		return nil
	},
}

func init() {
	installCmd.Flags().StringVar(&installFlags.endpoint, "endpoint", "http://localhost:3001/api/pipelines/trigger", "Pipeline trigger endpoint")
}
