package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ladlehq/ladle/pkg/api"
	"github.com/ladlehq/ladle/pkg/chat"
	"github.com/ladlehq/ladle/pkg/config"
	"github.com/ladlehq/ladle/pkg/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ladle",
	Short: "Cooking assistant in your terminal",
	Long:  `Chat with the ladle cooking assistant: recipes, pantry checks, and meal plans, streamed live.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(); err != nil {
			return err
		}
		return logger.Init()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		defer logger.Close()

		session, directory := buildSession()
		if prompt := viper.GetString("prompt"); prompt != "" {
			return runOnce(session, prompt)
		}
		return runREPL(cmd, session, directory)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", filepath.Join(config.SettingsDir, "settings.yaml"), "config file")

	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "assistant server URL")
	viper.BindPFlag("server.url", rootCmd.PersistentFlags().Lookup("server"))

	rootCmd.PersistentFlags().String("token", "", "bearer token for the assistant server")
	viper.BindPFlag("server.token", rootCmd.PersistentFlags().Lookup("token"))

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.Flags().StringP("prompt", "p", "", "send one message, print the reply, and exit")
	viper.BindPFlag("prompt", rootCmd.Flags().Lookup("prompt"))

	config.SetDefaults()
}

func initConfig() {
	viper.SetConfigFile(cfgFile)
	viper.SetEnvPrefix("LADLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// A missing settings file just means defaults.
	if err := viper.ReadInConfig(); err == nil {
		logger.Debug("using config file %s", viper.ConfigFileUsed())
	}
}

func buildSession() (*chat.Session, *chat.Directory) {
	settings := config.Get()
	token := func() string { return viper.GetString("server.token") }

	client := api.NewClientWithTimeout(settings.Server.URL, token, settings.Server.Timeout)
	directory := chat.NewDirectory(client)

	session := chat.NewSession(chat.SessionConfig{
		StreamURL:   strings.TrimRight(settings.Server.URL, "/") + "/api/chat/stream",
		Token:       token,
		IdleTimeout: settings.Stream.IdleTimeout,
	}, directory)
	session.SetOnCatalogChanged(directory.Invalidate)

	return session, directory
}

// runOnce sends a single message and prints the finished reply. Exits
// non-zero when the turn ended in an error.
func runOnce(session *chat.Session, prompt string) error {
	done := make(chan struct{}, 1)
	session.SetOnChange(func() {
		if !session.IsStreaming() {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})

	session.Send(prompt)
	messages := session.Messages()
	if len(messages) == 0 {
		return fmt.Errorf("nothing to send")
	}
	<-done

	messages = session.Messages()
	last := messages[len(messages)-1]
	fmt.Println(renderMessage(last))
	if strings.HasPrefix(last.Content, chat.ErrorContentPrefix) {
		return fmt.Errorf("turn failed")
	}
	return nil
}

func runREPL(cmd *cobra.Command, session *chat.Session, directory *chat.Directory) error {
	fmt.Println(faintStyle.Render("ladle — type a message, /help for commands"))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(promptStyle.Render("you> "))
		if !scanner.Scan() {
			session.Cancel()
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit", line == "/exit":
			session.Cancel()
			return nil
		case line == "/help":
			printHelp()
		case line == "/new":
			session.StartNew()
			fmt.Println(faintStyle.Render("started a new conversation"))
		case line == "/list":
			printConversations(cmd.Context(), directory)
		case strings.HasPrefix(line, "/open "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
			session.Load(cmd.Context(), id)
			fmt.Println(renderHistory(session.Messages()))
		case strings.HasPrefix(line, "/delete "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/delete "))
			session.Delete(cmd.Context(), id)
			fmt.Println(faintStyle.Render("deleted " + id))
		case strings.HasPrefix(line, "/"):
			fmt.Println(faintStyle.Render("unknown command; /help lists them"))
		default:
			streamTurn(session, line)
		}
	}
}

// streamTurn sends one message and echoes the reply as it accumulates,
// polling the session's snapshots. The raw text of an in-progress rich block
// shows as-is until its closing marker arrives; the finished message is
// re-rendered with blocks styled.
func streamTurn(session *chat.Session, text string) {
	session.Send(text)

	printed := 0
	announced := map[string]bool{}
	for {
		messages := session.Messages()
		if len(messages) > 0 {
			last := messages[len(messages)-1]
			if last.IsAssistant() {
				if printed < len(last.Content) {
					fmt.Print(last.Content[printed:])
					printed = len(last.Content)
				}
				for _, use := range last.ToolUses {
					key := use.ID
					if use.Done {
						key += ":done"
					}
					if announced[key] {
						continue
					}
					announced[key] = true
					fmt.Println()
					fmt.Println(toolStyle.Render(renderToolUse(use)))
				}
			}
		}
		if !session.IsStreaming() {
			break
		}
		time.Sleep(80 * time.Millisecond)
	}
	fmt.Println()

	messages := session.Messages()
	if len(messages) == 0 {
		return
	}
	last := messages[len(messages)-1]
	if last.IsAssistant() && len(last.DisplaySegments()) > 1 {
		fmt.Println(renderMessage(last))
	}
}

func printConversations(ctx context.Context, directory *chat.Directory) {
	conversations := directory.List(ctx)
	if len(conversations) == 0 {
		fmt.Println(faintStyle.Render("no conversations"))
		return
	}
	for _, conv := range conversations {
		fmt.Println(renderConversation(conv))
	}
}

func printHelp() {
	fmt.Println(faintStyle.Render(strings.Join([]string{
		"/new           start a new conversation",
		"/list          list saved conversations",
		"/open <id>     switch to a conversation",
		"/delete <id>   delete a conversation",
		"/quit          exit",
	}, "\n")))
}
