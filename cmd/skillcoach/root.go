package main

import (
	"encoding/json"
	"fmt"
	"os"

	"skillcoach-engine/pkg/collab"
	"skillcoach-engine/pkg/version"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "skillcoach",
		Short:         "Real-time session skill tracking and coaching engine",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("directory", "", "JSON file listing participants (id, display_name, role, department)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newAnalyzeCmd())
	return root
}

// loadDirectory reads the participant directory; an empty path yields no
// directory
func loadDirectory(path string) (collab.Directory, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read participant directory: %w", err)
	}
	var participants []collab.Participant
	if err := json.Unmarshal(data, &participants); err != nil {
		return nil, fmt.Errorf("decode participant directory %s: %w", path, err)
	}
	return collab.NewStaticDirectory(participants...), nil
}
