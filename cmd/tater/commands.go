package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/TaterTotterson/Tater/internal/config"
)

// --- chat ---

type chatMessage struct {
	Platform string `json:"platform"`
	Channel  string `json:"channel"`
	User     string `json:"user"`
	Message  string `json:"message"`
}

type chatReply struct {
	Reply     string `json:"reply"`
	ToolCalls []struct {
		Name     string `json:"name"`
		Error    string `json:"error,omitempty"`
		Repeated bool   `json:"repeated,omitempty"`
	} `json:"tool_calls"`
	Iterations int  `json:"iterations"`
	Incomplete bool `json:"incomplete"`
}

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the assistant",
	Long: `Send one message to the assistant and print its reply. Without a
message argument, start an interactive session reading lines from stdin
(Ctrl-D or /exit to quit).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		channel, _ := cmd.Flags().GetString("channel")
		user, _ := cmd.Flags().GetString("user")
		verbose, _ := cmd.Flags().GetBool("verbose")
		base := chatMessage{Platform: "cli", Channel: channel, User: user}

		if len(args) > 0 {
			base.Message = strings.Join(args, " ")
			return sendChat(cmd.Context(), c, cmd.OutOrStdout(), base, verbose)
		}
		return chatLoop(cmd.Context(), c, cmd.InOrStdin(), cmd.OutOrStdout(), base, verbose)
	},
}

func sendChat(ctx context.Context, c *apiClient, w io.Writer, msg chatMessage, verbose bool) error {
	resp, err := c.post(ctx, "/chat", msg)
	if err != nil {
		return err
	}
	var reply chatReply
	if err := decodeJSON(resp, &reply); err != nil {
		return err
	}

	if verbose {
		for _, tc := range reply.ToolCalls {
			line := "tool " + tc.Name
			switch {
			case tc.Error != "":
				line += ": " + tc.Error
			case tc.Repeated:
				line += " (repeated, skipped)"
			}
			fmt.Fprintln(w, colorize(colorDim, line))
		}
	}
	fmt.Fprintln(w, reply.Reply)
	if reply.Incomplete {
		printWarning("stopped after %d steps", reply.Iterations)
	}
	return nil
}

func chatLoop(ctx context.Context, c *apiClient, in io.Reader, w io.Writer, base chatMessage, verbose bool) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(w, colorize(colorCyan, "> "))
		if !scanner.Scan() {
			fmt.Fprintln(w)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}
		msg := base
		msg.Message = line
		if err := sendChat(ctx, c, w, msg, verbose); err != nil {
			printError("%v", err)
		}
	}
}

func init() {
	user := os.Getenv("USER")
	if user == "" {
		user = "user"
	}
	chatCmd.Flags().String("channel", "default", "conversation channel; memory is kept per channel")
	chatCmd.Flags().String("user", user, "name the assistant sees")
	chatCmd.Flags().BoolP("verbose", "v", false, "show tool calls")
}

// --- feeds ---

type feedSummary struct {
	Scope     string    `json:"scope"`
	URL       string    `json:"url"`
	Category  string    `json:"category"`
	Title     string    `json:"title"`
	LastPoll  time.Time `json:"last_poll"`
	NextPoll  time.Time `json:"next_poll"`
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error"`
}

var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "Manage watched RSS/Atom feeds",
}

var feedsWatchCmd = &cobra.Command{
	Use:   "watch <url>",
	Short: "Start watching a feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		scope, _ := cmd.Flags().GetString("scope")
		category, _ := cmd.Flags().GetString("category")
		sinks, _ := cmd.Flags().GetStringSlice("sink")

		resp, err := c.post(cmd.Context(), "/feeds", map[string]any{
			"url":      args[0],
			"scope":    scope,
			"category": category,
			"sinks":    sinks,
		})
		if err != nil {
			return err
		}
		var f feedSummary
		if err := decodeJSON(resp, &f); err != nil {
			return err
		}
		printSuccess("Watching %s (%s) in %s", orFallback(f.Title, f.URL), f.URL, f.Scope)
		return nil
	},
}

var feedsUnwatchCmd = &cobra.Command{
	Use:   "unwatch <url>",
	Short: "Stop watching a feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		scope, _ := cmd.Flags().GetString("scope")
		q := url.Values{"url": {args[0]}, "scope": {scope}}
		resp, err := c.delete(cmd.Context(), "/feeds?"+q.Encode())
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Stopped watching %s in %s", args[0], scope)
		return nil
	},
}

var feedsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched feeds",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		scope, _ := cmd.Flags().GetString("scope")
		if all, _ := cmd.Flags().GetBool("all"); all {
			scope = ""
		}
		return listFeeds(cmd.Context(), c, cmd.OutOrStdout(), scope)
	},
}

func listFeeds(ctx context.Context, c *apiClient, w io.Writer, scope string) error {
	path := "/feeds"
	if scope != "" {
		path += "?" + url.Values{"scope": {scope}}.Encode()
	}
	var list []feedSummary
	if err := c.getJSON(ctx, path, &list); err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "No feeds are being watched.")
		return nil
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "SCOPE\tTITLE\tURL\tCATEGORY\tLAST POLL\tSTATE")
	for _, f := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			f.Scope, orFallback(f.Title, "-"), f.URL, orFallback(f.Category, "-"), pollLabel(f.LastPoll), feedState(f))
	}
	return tw.Flush()
}

func pollLabel(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func feedState(f feedSummary) string {
	if f.Failures == 0 {
		return "ok"
	}
	return colorize(colorYellow, fmt.Sprintf("failing x%d: %s", f.Failures, f.LastError))
}

var feedsPollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll every watched feed now",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := c.post(cmd.Context(), "/feeds/poll", nil)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Poll started")
		return nil
	},
}

func init() {
	feedsCmd.PersistentFlags().String("scope", "cli:default", "watch scope (conversation key, e.g. discord:#news)")
	feedsWatchCmd.Flags().String("category", "", "optional category label")
	feedsWatchCmd.Flags().StringSlice("sink", nil, "deliver only to these sinks (default: every sink serving the scope)")
	feedsListCmd.Flags().Bool("all", false, "list feeds of every scope")

	feedsCmd.AddCommand(feedsWatchCmd, feedsUnwatchCmd, feedsListCmd, feedsPollCmd)
}

// --- tools ---

type toolSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Platforms   []string `json:"platforms"`
	Enabled     bool     `json:"enabled"`
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List and switch assistant tools",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		platform, _ := cmd.Flags().GetString("platform")
		return listTools(cmd.Context(), c, cmd.OutOrStdout(), platform)
	},
}

func listTools(ctx context.Context, c *apiClient, w io.Writer, platform string) error {
	path := "/tools"
	if platform != "" {
		path += "?" + url.Values{"platform": {platform}}.Encode()
	}
	var tools []toolSummary
	if err := c.getJSON(ctx, path, &tools); err != nil {
		return err
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "NAME\tSTATE\tPLATFORMS\tDESCRIPTION")
	for _, t := range tools {
		state := colorize(colorGreen, "enabled")
		if !t.Enabled {
			state = colorize(colorRed, "disabled")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, state, strings.Join(t.Platforms, ","), t.Description)
	}
	return tw.Flush()
}

func setToolCmd(enabled bool) *cobra.Command {
	verb := "enable"
	if !enabled {
		verb = "disable"
	}
	return &cobra.Command{
		Use:   verb + " <name>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient()
			if err != nil {
				return err
			}
			return setTool(cmd.Context(), c, args[0], enabled)
		},
	}
}

func setTool(ctx context.Context, c *apiClient, name string, enabled bool) error {
	resp, err := c.put(ctx, "/tools/"+url.PathEscape(name)+"/enabled", map[string]bool{"enabled": enabled})
	if err != nil {
		return err
	}
	if err := decodeJSON(resp, nil); err != nil {
		return err
	}
	if enabled {
		printSuccess("Enabled %s", name)
	} else {
		printSuccess("Disabled %s", name)
	}
	return nil
}

func init() {
	toolsListCmd.Flags().String("platform", "", "only tools offered on this platform")
	toolsCmd.AddCommand(toolsListCmd, setToolCmd(true), setToolCmd(false))
}

// --- wipe ---

var wipeCmd = &cobra.Command{
	Use:   "wipe <conversation>",
	Short: "Delete a conversation's transcript and memory",
	Long: `Delete every stored turn and embedding of one conversation. The
conversation key is "<platform>:<channel>", for example "cli:default" or
"discord:#general".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This permanently deletes the memory of %s.", args[0])
			printWarning("Re-run with --confirm to proceed.")
			return fmt.Errorf("wipe requires --confirm")
		}
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		n, err := wipeConversation(cmd.Context(), c, args[0])
		if err != nil {
			return err
		}
		printSuccess("Wiped %s (%d turns)", args[0], n)
		return nil
	},
}

func wipeConversation(ctx context.Context, c *apiClient, key string) (int64, error) {
	resp, err := c.delete(ctx, "/conversations/"+url.PathEscape(key))
	if err != nil {
		return 0, err
	}
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

func init() {
	wipeCmd.Flags().Bool("confirm", false, "confirm deletion")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Printf("  %s\n", colorize(colorDim, "# "+config.FilePath()))
		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Write a configuration key to the config file. A running server picks
up log, feed and notifier settings without a restart.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func orFallback(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
