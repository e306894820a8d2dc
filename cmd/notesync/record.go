package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"notesync/internal/app"
	"notesync/internal/notesync"
)

// record command
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Manage local records",
}

var recordAddCmd = &cobra.Command{
	Use:   "add PLATFORM VIDEO_ID",
	Short: "Create a local record from a note and a transcript file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		notePath, _ := cmd.Flags().GetString("note")
		transcriptPath, _ := cmd.Flags().GetString("transcript")
		createdAt, _ := cmd.Flags().GetInt64("created-at-ms")

		a, err := newApp(cmd, "AddRecord")
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.AddRecord(cmd.Context(), app.RecordInput{
			Title:          title,
			Platform:       args[0],
			VideoID:        args[1],
			CreatedAtMs:    createdAt,
			NotePath:       notePath,
			TranscriptPath: transcriptPath,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Added %s (%s)\n", rec.SourceKey, rec.ID)
		return nil
	},
}

var recordListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local records",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListRecords")
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.ListRecords(cmd.Context())
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No local records.")
			return nil
		}
		for _, r := range recs {
			dirty := " "
			if r.Dirty() {
				dirty = "*"
			}
			fmt.Printf("%s %-36s  %-40s  %s\n", dirty, r.ID, r.SourceKey, r.DisplayTitle())
		}
		return nil
	},
}

var recordShowCmd = &cobra.Command{
	Use:   "show ID|SOURCE_KEY",
	Short: "Show one local record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ShowRecord")
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.GetRecord(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printRecord(r)
		return nil
	},
}

func printRecord(r *notesync.LocalRecord) {
	fmt.Printf("ID:          %s\n", r.ID)
	fmt.Printf("Source Key:  %s\n", r.SourceKey)
	if id, err := r.Identity(); err == nil {
		fmt.Printf("Sync ID:     %s\n", id.SyncID)
	}
	fmt.Printf("Title:       %s\n", r.DisplayTitle())
	fmt.Printf("Created:     %s\n", time.UnixMilli(r.CreatedAtMs).UTC().Format(time.RFC3339))
	fmt.Printf("Revision:    %d (synced %d)\n", r.Revision, r.SyncedRevision)
	fmt.Printf("Note:        %t\n", r.HasNote())
	fmt.Printf("Transcript:  %t\n", r.HasTranscript())
	if r.SyncedBundleHash != "" {
		fmt.Printf("Bundle:      %s\n", r.SyncedBundleHash)
	}
}

var recordRmCmd = &cobra.Command{
	Use:   "rm ID|SOURCE_KEY",
	Short: "Delete a local record; remote copies are kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "RemoveRecord")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RemoveRecord(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", args[0])
		return nil
	},
}

var recordImportCmd = &cobra.Command{
	Use:   "import DIR",
	Short: "Import note task directories",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ImportDirectory")
		if err != nil {
			return err
		}
		defer a.Close()

		sum, err := a.ImportDirectory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Created %d, updated %d, unchanged %d\n", sum.Created, sum.Updated, sum.Unchanged)
		for _, id := range sum.Skipped {
			fmt.Printf("Skipped %s: no platform or video id\n", id)
		}
		return nil
	},
}

func init() {
	recordCmd.AddCommand(recordAddCmd)
	recordAddCmd.Flags().String("title", "", "Record title")
	recordAddCmd.Flags().String("note", "", "Markdown note file")
	recordAddCmd.Flags().String("transcript", "", "Transcript file (.json segments or plain text)")
	recordAddCmd.Flags().Int64("created-at-ms", 0, "Creation time in epoch milliseconds (default now)")
	recordCmd.AddCommand(recordListCmd)
	recordCmd.AddCommand(recordShowCmd)
	recordCmd.AddCommand(recordRmCmd)
	recordCmd.AddCommand(recordImportCmd)

	rootCmd.AddCommand(recordCmd)
}
