package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"notesync/internal/app"
	"notesync/internal/config"
	"notesync/internal/notesync"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file at the default path.
func loadConfig() (*config.Config, app.Paths, error) {
	defaults, err := app.DefaultPaths()
	if err != nil {
		return nil, app.Paths{}, err
	}

	cfg, err := config.ReadFromFile(defaults.ConfigFile)
	if err != nil {
		return nil, app.Paths{}, fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults, nil
}

// newApp reads the config and creates a NotesyncApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Push", "Scan").
func newApp(cmd *cobra.Command, operation string) (*app.NotesyncApp, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewNotesyncApp(cmd.Context(), cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase takes the passphrase from NOTESYNC_PASSPHRASE or prompts
// on the terminal without echo.
func readPassphrase(prompt string) (string, error) {
	if p := os.Getenv("NOTESYNC_PASSPHRASE"); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("passphrase required: set NOTESYNC_PASSPHRASE or run in a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

// unlock prompts for the passphrase when bundles may be encrypted.
func unlock(a *app.NotesyncApp) error {
	if !a.NeedsPassphrase() {
		return nil
	}
	p, err := readPassphrase("Passphrase: ")
	if err != nil {
		return err
	}
	return a.Unlock(p)
}

var rootCmd = &cobra.Command{
	Use:           "notesync",
	Short:         "Reconcile video notes across the local store, an object store and a remote index",
	SilenceUsage: true,
}

// init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the configuration and local database",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.DefaultPaths()
		if err != nil {
			return err
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults.DataDir)

		if err := config.Init(defaults.ConfigFile, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		if err := app.InitDatabase(cfg); err != nil {
			return err
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigFile)
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults.DataDir)
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigFile)
		fmt.Printf("Host ID:        %s\n", cfg.HostID)
		fmt.Printf("Base Dir:       %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:        %s\n", cfg.LogDir)
		fmt.Printf("Active Profile: %s\n", cfg.ActiveProfile)
		fmt.Printf("Database:       %s\n", cfg.Database.Type)
		fmt.Printf("Encryption:     %s\n", cfg.Encryption.Type)
		fmt.Printf("Lock:           %s\n", cfg.Lock.Type)
		return nil
	},
}

// profile command
var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage sync profiles",
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		active, err := cfg.Active()
		if err != nil {
			return err
		}
		for _, p := range cfg.Profiles {
			marker := " "
			if p.Name == active.Name {
				marker = "*"
			}
			fmt.Printf("%s %-16s  store=%-10s  index=%s\n", marker, p.Name, p.ObjectStore.Type, p.RemoteIndex.Type)
		}
		return nil
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use NAME",
	Short: "Switch the active profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := app.NewNotesyncApp(cmd.Context(), cfg, "UseProfile")
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		if err := a.UseProfile(cmd.Context(), args[0]); err != nil {
			return err
		}
		if err := config.WriteToFile(defaults.ConfigFile, cfg); err != nil {
			return err
		}
		fmt.Printf("Active profile: %s\n", args[0])
		return nil
	},
}

// key command
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage bundle encryption keys",
}

var keySetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "SetupKeys")
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		if os.Getenv("NOTESYNC_PASSPHRASE") == "" {
			confirm, err := readPassphrase("Repeat passphrase: ")
			if err != nil {
				return err
			}
			if confirm != p {
				return fmt.Errorf("passphrases do not match")
			}
		}
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("passphrase must not be empty")
		}
		if err := a.SetupKeys(p); err != nil {
			return err
		}
		fmt.Println("Encryption keys created.")
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the local database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if err := app.InitDatabase(cfg); err != nil {
			return err
		}
		fmt.Println("Database is up to date.")
		return nil
	},
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup PATH",
	Short: "Write a consistent copy of the local database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "BackupDatabase")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupDatabase(args[0]); err != nil {
			return err
		}
		fmt.Printf("Database copied to %s\n", args[0])
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View the operation journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "History")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}
		for _, op := range ops {
			printOperation(op)
		}
		return nil
	},
}

func printOperation(op *notesync.Operation) {
	duration := ""
	if op.FinishedAt != nil {
		duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
	}
	fmt.Printf("#%d  %-14s  %s  %-8s  %-10s  %s\n",
		op.ID,
		op.Operation,
		op.StartedAt.Format("2006-01-02 15:04:05"),
		op.Status,
		duration,
		op.Parameters,
	)
}

func init() {
	configCmd.AddCommand(configListCmd)

	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileUseCmd)

	keyCmd.AddCommand(keySetupCmd)

	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbBackupCmd)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
