package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"skillcoach-engine/pkg/postsession"
	"skillcoach-engine/pkg/stt"

	"github.com/spf13/cobra"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		transcriptPath string
		callID         string
		participants   string
		speakerLabels  string
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Build a meeting script from an already recognized transcript",
		Long: `Runs the analysis stages of the post-session pipeline over a segment file
({"segments":[{"speaker_id","text","start","end","confidence"}]}, times in
seconds) and prints the resulting meeting script as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			segments, err := stt.ReadSegmentFile(transcriptPath)
			if err != nil {
				return fmt.Errorf("read transcript: %w", err)
			}

			dirPath, _ := cmd.Flags().GetString("directory")
			directory, err := loadDirectory(dirPath)
			if err != nil {
				return err
			}

			labels, err := parseLabels(speakerLabels)
			if err != nil {
				return err
			}

			builder := postsession.Builder{Directory: directory}
			script, err := builder.Build(cmd.Context(), postsession.Input{
				SessionID:     "offline",
				CallID:        callID,
				AudioRef:      transcriptPath,
				Participants:  splitList(participants),
				SpeakerLabels: labels,
			}, segments)
			if err != nil {
				return fmt.Errorf("analyze transcript: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(script)
		},
	}

	cmd.Flags().StringVar(&transcriptPath, "transcript", "", "segment JSON file to analyze")
	cmd.Flags().StringVar(&callID, "call-id", "", "call id recorded in the script")
	cmd.Flags().StringVar(&participants, "participants", "", "comma separated participant ids, including silent ones")
	cmd.Flags().StringVar(&speakerLabels, "speaker-labels", "", "comma separated label=participant pairs, e.g. speaker_1=alice")
	cmd.MarkFlagRequired("transcript")
	return cmd
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseLabels reads "label=participant" pairs
func parseLabels(s string) (map[string]string, error) {
	pairs := splitList(s)
	if len(pairs) == 0 {
		return nil, nil
	}
	labels := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		label, participant, ok := strings.Cut(pair, "=")
		label, participant = strings.TrimSpace(label), strings.TrimSpace(participant)
		if !ok || label == "" || participant == "" {
			return nil, fmt.Errorf("invalid speaker label %q, want label=participant", pair)
		}
		labels[label] = participant
	}
	return labels, nil
}
