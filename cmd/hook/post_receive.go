package hook

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const defaultDeployRef = "refs/heads/main"

var postReceiveFlags struct {
	endpoint string
	ref      string
	repoURL  string
	timeout  time.Duration
}

type refUpdate struct {
	Old, New, Ref string
}

// triggerRequest mirrors the body accepted by POST /api/pipelines/trigger.
type triggerRequest struct {
	RepoURL    string `json:"repo_url"`
	Branch     string `json:"branch"`
	CommitHash string `json:"commit_hash"`
}

var postReceiveCmd = &cobra.Command{
	Use:           "post-receive",
	Short:         "Handle post-receive git hook. Not intended to be run manually.",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		gitDir, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getwd: %w", err)
		}
		repoURL := postReceiveFlags.repoURL
		if repoURL == "" {
			repoURL = gitDir
		}

		update, ok, err := findRef(os.Stdin, postReceiveFlags.ref)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		if !ok {
			log.Info().Str("ref", postReceiveFlags.ref).Msg("no deployment needed")
			return nil
		}
		if strings.Trim(update.New, "0") == "" {
			log.Info().Str("ref", update.Ref).Msg("branch deleted, skipping")
			return nil
		}

		log.Info().Str("old_sha", update.Old).Str("new_sha", update.New).Str("ref", update.Ref).Msg("requesting pipeline...")
		req := triggerRequest{
			RepoURL:    repoURL,
			Branch:     strings.TrimPrefix(update.Ref, "refs/heads/"),
			CommitHash: update.New,
		}
		id, err := postTrigger(postReceiveFlags.endpoint, req, postReceiveFlags.timeout)
		if err != nil {
			log.Error().Err(err).Msg("trigger pipeline")
			return err
		}
		log.Info().Str("pipeline", id).Msg("pipeline queued")
		return nil
	},
}

// findRef scans post-receive input lines for the given ref.
func findRef(r io.Reader, ref string) (refUpdate, bool, error) {
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := s.Text()
		parts := strings.Fields(line)
		if len(parts) != 3 {
			log.Error().Str("line", line).Msg("invalid input line")
			continue
		}
		if parts[2] == ref {
			return refUpdate{Old: parts[0], New: parts[1], Ref: parts[2]}, true, nil
		}
	}
	return refUpdate{}, false, s.Err()
}

func postTrigger(endpoint string, req triggerRequest, timeout time.Duration) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	var out struct {
		Pipeline struct {
			ID string `json:"id"`
		} `json:"pipeline"`
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out)
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("trigger rejected: %s: %s", resp.Status, out.Error)
	}
	return out.Pipeline.ID, nil
}

func init() {
	postReceiveCmd.Flags().StringVar(&postReceiveFlags.endpoint, "endpoint", "http://localhost:3001/api/pipelines/trigger", "Pipeline trigger endpoint")
	postReceiveCmd.Flags().StringVar(&postReceiveFlags.ref, "ref", defaultDeployRef, "Ref whose updates start a pipeline")
	postReceiveCmd.Flags().StringVar(&postReceiveFlags.repoURL, "repo-url", "", "Repository URL sent with the trigger (defaults to the git dir)")
	postReceiveCmd.Flags().DurationVar(&postReceiveFlags.timeout, "timeout", 10*time.Second, "HTTP timeout")
}
