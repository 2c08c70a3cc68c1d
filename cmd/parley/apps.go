// ABOUTME: apps and conversations commands for managing backends from the shell
// ABOUTME: Each invocation opens the runtime, performs one engine operation and exits

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/2389/parley/internal/store"
)

// withRuntime loads config and opens the runtime for a one-shot command.
// Logs go to stderr so command output stays scriptable.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging, os.Stderr)

	ctx := cmd.Context()
	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Manage configured apps",
}

var appsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List apps",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			apps, err := rt.engine.ListApps(ctx)
			if err != nil {
				return err
			}
			activeID := ""
			if a := rt.engine.ActiveApp(); a != nil {
				activeID = a.ID
			}
			printApps(cmd.OutOrStdout(), apps, activeID)
			return nil
		})
	},
}

var (
	appName         string
	appKind         string
	appID           string
	appIcon         string
	appCredential   string
	appModel        string
	appSystemPrompt string
)

var appsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an app",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			app := &store.App{
				ID:           appID,
				Name:         appName,
				Icon:         appIcon,
				Kind:         store.Kind(appKind),
				Credential:   appCredential,
				Model:        appModel,
				SystemPrompt: appSystemPrompt,
			}
			if err := rt.engine.AddApp(ctx, app); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s %s (%s)\n", app.Icon, app.Name, app.ID)
			return nil
		})
	},
}

var purgeConversations bool

var appsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an app",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			if err := rt.engine.RemoveApp(ctx, args[0], purgeConversations); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		})
	},
}

var appsUseCmd = &cobra.Command{
	Use:   "use <id>",
	Short: "Make an app active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			if err := rt.engine.SetActiveApp(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Active app: %s\n", args[0])
			return nil
		})
	},
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"convs"},
	Short:   "Manage the active app's conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			if rt.engine.ActiveApp() == nil {
				return fmt.Errorf("no active app; run parley apps use <id>")
			}
			printConversations(cmd.OutOrStdout(), rt.engine.Conversations(), rt.engine.ActiveConversationID())
			return nil
		})
	},
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			if err := rt.engine.DeleteConversation(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		})
	},
}

var conversationsRenameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Rename a conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			title := strings.Join(args[1:], " ")
			if err := rt.engine.RenameConversation(ctx, args[0], title); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", args[0], title)
			return nil
		})
	},
}

func init() {
	appsAddCmd.Flags().StringVar(&appName, "name", "", "display name (required)")
	appsAddCmd.Flags().StringVar(&appKind, "kind", string(store.KindDirectModel), "hosted or direct-model")
	appsAddCmd.Flags().StringVar(&appID, "id", "", "app ID (generated when empty)")
	appsAddCmd.Flags().StringVar(&appIcon, "icon", "", "icon shown next to the name")
	appsAddCmd.Flags().StringVar(&appCredential, "credential", "", "API key for this app")
	appsAddCmd.Flags().StringVar(&appModel, "model", "", "model name (direct-model only)")
	appsAddCmd.Flags().StringVar(&appSystemPrompt, "system-prompt", "", "system prompt (direct-model only)")
	_ = appsAddCmd.MarkFlagRequired("name")

	appsRemoveCmd.Flags().BoolVar(&purgeConversations, "purge", false, "also delete the app's local conversations")

	appsCmd.AddCommand(appsListCmd, appsAddCmd, appsRemoveCmd, appsUseCmd)
	conversationsCmd.AddCommand(conversationsListCmd, conversationsDeleteCmd, conversationsRenameCmd)
}

func printApps(out io.Writer, apps []*store.App, activeID string) {
	if len(apps) == 0 {
		fmt.Fprintln(out, "No apps configured.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tNAME\tKIND\tMODEL")
	for _, a := range apps {
		marker := ""
		if a.ID == activeID {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s %s\t%s\t%s\n", marker, a.ID, a.Icon, a.Name, a.Kind, a.Model)
	}
	_ = tw.Flush()
}

func printConversations(out io.Writer, convs []*store.Conversation, activeID string) {
	if len(convs) == 0 {
		fmt.Fprintln(out, "No conversations yet.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\t#\tID\tTITLE\tCREATED")
	for i, c := range convs {
		marker := ""
		if c.ID == activeID {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", marker, i+1, c.ID, c.Title, c.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
}
