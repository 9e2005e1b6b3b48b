package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"agent-desk/internal/app"
	"agent-desk/internal/tui"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	flagVerbose bool
	flagProject string

	replayChatID string
	replaySave   bool
	replayJSON   bool

	showTUI bool
)

func newLogger() *app.Logger {
	if flagVerbose {
		return app.NewLogger(os.Stderr)
	}
	return app.NewLogger(nil)
}

func loadConfig() (app.Config, error) {
	return app.LoadConfig(app.DefaultConfigPath())
}

// replayTranscript feeds a stream-json transcript file line by line into the
// handler. Blank lines are skipped; malformed lines are the handler's problem.
func replayTranscript(path string, handler *app.MessageHandler) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		handler.HandleMessage(json.RawMessage(line))
	}
	return scanner.Err()
}

func buildChatFromTranscript(path string, cfg app.Config, log *app.Logger, history app.EntrySink, meta app.MetadataSink, chatID string) (*app.Chat, error) {
	chat := app.NewChat(chatID)
	handler := app.NewMessageHandler(chat, app.HandlerOptions{
		Logger:      log,
		Permissions: app.NewPermissionRegistry(),
		History:     history,
		Metadata:    meta,
		MaxAgents:   cfg.MaxSubagents,
	})
	defer handler.Dispose()
	if err := replayTranscript(path, handler); err != nil {
		return nil, err
	}
	return chat, nil
}

func loadStoredChat(store *app.Store, path app.ChatPath) (*app.Chat, int, error) {
	entries, skipped, err := store.Archive.LoadHistory(path)
	if err != nil {
		return nil, 0, err
	}
	chat := app.NewChat(path.ChatID)
	for _, e := range entries {
		chat.Primary.Append(e)
	}
	return chat, skipped, nil
}

func main() {
	root := &cobra.Command{
		Use:     "dsk",
		Short:   "Desk - transcript archive for coding-agent sessions",
		Long:    "Desk replays stream-json transcripts from coding-agent backends into a durable per-project archive and renders them in the terminal.",
		Version: version,
	}
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Write JSON logs to stderr")
	root.PersistentFlags().StringVarP(&flagProject, "project", "p", ".", "Project root directory")

	replayCmd := &cobra.Command{
		Use:   "replay <transcript.jsonl>",
		Short: "Replay a stream-json transcript and print the conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			chatID := replayChatID
			if chatID == "" {
				chatID = uuid.New().String()
			}

			var history app.EntrySink
			var meta app.MetadataSink
			var store *app.Store
			var metaWriter *app.MetadataWriter
			if replaySave {
				projectID, projectRoot, err := app.ProjectID(flagProject)
				if err != nil {
					return err
				}
				store = app.NewStore(cfg, log)
				history, metaWriter = store.OpenChat(app.ChatPath{ProjectID: projectID, ChatID: chatID})
				meta = metaWriter
				if err := store.Index.RegisterChat(projectRoot, projectRoot, app.ChatRef{
					Name:   args[0],
					ChatID: chatID,
				}); err != nil {
					return err
				}
			}

			chat, err := buildChatFromTranscript(args[0], cfg, log, history, meta, chatID)
			if err != nil {
				return err
			}
			if store != nil {
				store.Flush()
				if err := metaWriter.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved chat %s\n\n", chatID)
			}

			if replayJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(chat.Primary.Entries)
			}
			fmt.Fprint(cmd.OutOrStdout(), tui.FormatChat(tui.NewTheme(), chat))
			return nil
		},
	}
	replayCmd.Flags().StringVar(&replayChatID, "chat", "", "Chat id to record under (default: new id)")
	replayCmd.Flags().BoolVar(&replaySave, "save", false, "Persist the replayed conversation to the archive")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "Print entries as JSON instead of styled text")

	chatsCmd := &cobra.Command{
		Use:   "chats",
		Short: "List archived chats for the current project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			projectID, projectRoot, err := app.ProjectID(flagProject)
			if err != nil {
				return err
			}
			store := app.NewStore(cfg, log)
			summaries, err := store.Archive.ListChats(projectID)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no chats for %s\n", projectRoot)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", projectRoot, projectID)
			for _, s := range summaries {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s  %4d entries  %s\n",
					s.ChatID, s.EntryCount, s.LastActivity.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <chat-id>",
		Short: "Render an archived chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			projectID, _, err := app.ProjectID(flagProject)
			if err != nil {
				return err
			}
			store := app.NewStore(cfg, log)
			chat, skipped, err := loadStoredChat(store, app.ChatPath{ProjectID: projectID, ChatID: args[0]})
			if err != nil {
				return err
			}
			if skipped > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: skipped %d corrupt history lines\n", skipped)
			}
			if showTUI {
				return tui.Run(chat, args[0])
			}
			fmt.Fprint(cmd.OutOrStdout(), tui.FormatChat(tui.NewTheme(), chat))
			return nil
		},
	}
	showCmd.Flags().BoolVar(&showTUI, "tui", false, "Open in a scrollable viewer instead of printing")

	watchCmd := &cobra.Command{
		Use:   "watch <transcript.jsonl>",
		Short: "Replay a transcript into a scrollable viewer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			chat, err := buildChatFromTranscript(args[0], cfg, log, nil, nil, uuid.New().String())
			if err != nil {
				return err
			}
			return tui.Run(chat, args[0])
		},
	}

	root.AddCommand(replayCmd, chatsCmd, showCmd, watchCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
