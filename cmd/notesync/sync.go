package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"notesync/internal/notesync"
)

func printReconciliation(recs []notesync.ReconciliationRecord) {
	if len(recs) == 0 {
		fmt.Println("Nothing to reconcile.")
		return
	}
	counts := make(map[notesync.Status]int)
	for _, r := range recs {
		counts[r.Status]++
		fmt.Printf("%-20s  %-40s  %s%s\n", r.Status, r.SourceKey, r.Title, missingSuffix(r))
	}
	var parts []string
	for _, s := range []notesync.Status{
		notesync.StatusSynced, notesync.StatusLocalOnly, notesync.StatusPartial,
		notesync.StatusConflict, notesync.StatusDifyOnly, notesync.StatusDifyOnlyNoBundle,
		notesync.StatusDifyOnlyLegacy, notesync.StatusDeleted, notesync.StatusUnknown,
	} {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", s, n))
		}
	}
	fmt.Printf("\n%d item(s): %s\n", len(recs), strings.Join(parts, " "))
}

func missingSuffix(r notesync.ReconciliationRecord) string {
	var notes []string
	if len(r.LocalMissing) > 0 {
		notes = append(notes, "local missing "+joinKinds(r.LocalMissing))
	}
	if len(r.RemoteMissing) > 0 {
		notes = append(notes, "remote missing "+joinKinds(r.RemoteMissing))
	}
	if len(r.IndexMissing) > 0 {
		notes = append(notes, "index missing "+joinKinds(r.IndexMissing))
	}
	if r.Problem != "" {
		notes = append(notes, r.Problem)
	}
	if len(notes) == 0 {
		return ""
	}
	return "  [" + strings.Join(notes, "; ") + "]"
}

func joinKinds(kinds []notesync.DocumentKind) string {
	s := make([]string, len(kinds))
	for i, k := range kinds {
		s[i] = string(k)
	}
	return strings.Join(s, ",")
}

func printWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Printf("warning: %s\n", w)
	}
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Reconcile the active profile and show every item's status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Scan")
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.Scan(cmd.Context())
		if err != nil {
			return err
		}
		printReconciliation(recs)
		return nil
	},
}

// items command
var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Show the last scan without contacting remote stores",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Items")
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.Items(cmd.Context())
		if err != nil {
			return err
		}
		printReconciliation(recs)
		return nil
	},
}

// push command
var pushCmd = &cobra.Command{
	Use:   "push ID|SOURCE_KEY",
	Short: "Upload a local record's bundle and index its documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		noNote, _ := cmd.Flags().GetBool("no-note")
		noTranscript, _ := cmd.Flags().GetBool("no-transcript")
		noIndex, _ := cmd.Flags().GetBool("no-index")
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		a, err := newApp(cmd, "Push")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Push(cmd.Context(), args[0], notesync.PushOptions{
			IncludeNote:       !noNote,
			IncludeTranscript: !noTranscript,
			UpdateRemoteIndex: !noIndex,
			Overwrite:         overwrite,
		})
		if err != nil {
			return conflictHint(err)
		}
		verb := "Unchanged"
		if res.Uploaded {
			verb = "Uploaded"
		}
		fmt.Printf("%s %s -> %s\n", verb, res.SourceKey, res.BundleKey)
		for kind, id := range res.DocumentIDs {
			fmt.Printf("  %s document %s\n", kind, id)
		}
		printWarnings(res.Warnings)
		if res.Record != nil {
			fmt.Printf("Status: %s\n", res.Record.Status)
		}
		return nil
	},
}

// conflictHint names the ways out of a CONFLICT.
func conflictHint(err error) error {
	if errors.Is(err, notesync.ErrConflictingWrite) {
		return fmt.Errorf("%w; rerun with --overwrite or keep both with `notesync fork`", err)
	}
	return err
}

// pull command
var pullCmd = &cobra.Command{
	Use:   "pull SOURCE_KEY",
	Short: "Download a bundle into the local store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		a, err := newApp(cmd, "Pull")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return err
		}
		res, err := a.Pull(cmd.Context(), args[0], notesync.PullOptions{Overwrite: overwrite})
		if err != nil {
			return conflictHint(err)
		}
		verb := "Updated"
		if res.Created {
			verb = "Created"
		}
		fmt.Printf("%s %s (%s), wrote %s\n", verb, res.SourceKey, res.LocalID, joinKinds(res.Written))
		if res.Record != nil {
			fmt.Printf("Status: %s\n", res.Record.Status)
		}
		return nil
	},
}

// delete-remote command
var deleteRemoteCmd = &cobra.Command{
	Use:   "delete-remote SOURCE_KEY",
	Short: "Tombstone an item in the active profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keepDocs, _ := cmd.Flags().GetBool("keep-docs")

		a, err := newApp(cmd, "DeleteRemote")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.DeleteRemote(cmd.Context(), args[0], notesync.DeleteOptions{DeleteRemoteIndexDocs: !keepDocs})
		if err != nil {
			return err
		}
		fmt.Printf("Tombstoned %s at %s\n", res.SourceKey, res.TombstoneKey)
		if len(res.Deleted) > 0 {
			fmt.Printf("Deleted documents: %s\n", joinKinds(res.Deleted))
		}
		printWarnings(res.Warnings)
		return nil
	},
}

// fork command
var forkCmd = &cobra.Command{
	Use:   "fork SOURCE_KEY",
	Short: "Save one side of an item as a new, independent item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		createdAt, _ := cmd.Flags().GetInt64("created-at-ms")
		push, _ := cmd.Flags().GetBool("push")

		side := notesync.Side(from)
		if side != notesync.SideLocal && side != notesync.SideRemote {
			return fmt.Errorf("--from must be %q or %q", notesync.SideLocal, notesync.SideRemote)
		}

		a, err := newApp(cmd, "Fork")
		if err != nil {
			return err
		}
		defer a.Close()

		if side == notesync.SideRemote {
			if err := unlock(a); err != nil {
				return err
			}
		}
		res, err := a.Fork(cmd.Context(), args[0], notesync.ForkOptions{
			FromSide:          side,
			NewCreatedAtMs:    createdAt,
			Push:              push,
			UpdateRemoteIndex: push,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Forked %s -> %s (%s)\n", res.SourceKey, res.NewSourceKey, res.LocalID)
		if res.Push != nil {
			printWarnings(res.Push.Warnings)
		}
		if res.Record != nil {
			fmt.Printf("Status: %s\n", res.Record.Status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(itemsCmd)

	rootCmd.AddCommand(pushCmd)
	pushCmd.Flags().Bool("no-note", false, "Leave the note out of the bundle")
	pushCmd.Flags().Bool("no-transcript", false, "Leave the transcript out of the bundle")
	pushCmd.Flags().Bool("no-index", false, "Do not update the remote index")
	pushCmd.Flags().Bool("overwrite", false, "Replace divergent remote content")

	rootCmd.AddCommand(pullCmd)
	pullCmd.Flags().Bool("overwrite", false, "Replace local parts with the bundle's")

	rootCmd.AddCommand(deleteRemoteCmd)
	deleteRemoteCmd.Flags().Bool("keep-docs", false, "Keep the remote index documents")

	rootCmd.AddCommand(forkCmd)
	forkCmd.Flags().String("from", string(notesync.SideLocal), "Side to copy: local or remote")
	forkCmd.Flags().Int64("created-at-ms", 0, "Timestamp of the new item (default now)")
	forkCmd.Flags().Bool("push", false, "Upload the new item right away")
}
