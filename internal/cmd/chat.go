package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/reeflective/readline"
	"github.com/spf13/cobra"

	"github.com/arkova/pipechat/internal/appdir"
	"github.com/arkova/pipechat/internal/chat"
	"github.com/arkova/pipechat/internal/config"
	"github.com/arkova/pipechat/internal/debug"
	"github.com/arkova/pipechat/internal/logging"
)

var (
	// Chat-specific flags
	sessionTypeFlag string
	historyLimit    int
	onceMessage     string
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat <pipeline-uuid>",
	Short: "Open an interactive debug session against a pipeline",
	Long: `Open a realtime debug chat session against a running pipeline.

Messages you type are delivered to the bot as if they came from a real
user; replies stream back as the bot produces them.

Use --once to send a single message and exit:
  pipechat chat <pipeline-uuid> --once "ping"

Commands (interactive mode only):
  /quit, /exit   - Exit the session
  /interrupt     - Interrupt the bot's current reply
  /history       - Load and show older messages
  /prompts       - List saved prompts
  /prompt <name> - Send a saved prompt
  /help          - Show available commands`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&sessionTypeFlag, "session-type", "", "Debug session kind: person or group (default from config)")
	chatCmd.Flags().IntVar(&historyLimit, "history-limit", debug.DefaultHistoryLimit, "Number of history messages fetched per page")
	chatCmd.Flags().StringVar(&onceMessage, "once", "", "Send a single message, wait for the reply, and exit")
}

// chatUI owns everything the event handlers print. Handler callbacks run on
// the client's read goroutine while readline owns the prompt, so all printing
// goes through its mutex.
type chatUI struct {
	mu       sync.Mutex
	printed  map[int64]string // message id -> content already printed
	renderer *glamour.TermRenderer
}

func newChatUI() *chatUI {
	// Renderer failure degrades to plain text output.
	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	return &chatUI{
		printed:  make(map[int64]string),
		renderer: renderer,
	}
}

// render returns content as terminal markdown, falling back to the raw text.
func (ui *chatUI) render(content string) string {
	if ui.renderer == nil {
		return content
	}
	out, err := ui.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n") + "\n"
}

// streamChunk prints the unprinted tail of a content snapshot. Snapshots
// normally grow by appending, so the previous output is a prefix; when the
// bot rewrites earlier text we start the message over on a fresh line.
func (ui *chatUI) streamChunk(msg chat.Message) {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	prev := ui.printed[msg.ID]
	if !strings.HasPrefix(msg.Content, prev) {
		prev = ""
	}
	if prev == "" {
		fmt.Print("\nbot> ")
	}
	fmt.Print(msg.Content[len(prev):])
	ui.printed[msg.ID] = msg.Content
}

func (ui *chatUI) finishReply(msg chat.Message) {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	if ui.printed[msg.ID] != msg.Content {
		// The final content differs from what streamed; show it whole.
		fmt.Print("\n" + ui.render(msg.Content))
	} else {
		fmt.Println()
	}
	delete(ui.printed, msg.ID)
}

func (ui *chatUI) printMessage(prefix string, msg chat.Message) {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	fmt.Printf("\n%s %s\n", prefix, strings.TrimSpace(msg.Content))
}

func (ui *chatUI) printf(format string, args ...any) {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	fmt.Printf(format, args...)
}

func runChat(cmd *cobra.Command, args []string) error {
	pipelineID := args[0]
	logger := logging.CLI()

	kind := debug.KindPerson
	sessionType := cfg.SessionType
	if sessionTypeFlag != "" {
		sessionType = sessionTypeFlag
	}
	switch sessionType {
	case "", "person":
	case "group":
		kind = debug.KindGroup
	default:
		return fmt.Errorf("invalid session type %q (want \"person\" or \"group\")", sessionType)
	}

	isOnceMode := onceMessage != ""

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		if !isOnceMode {
			fmt.Println("\n\n👋 Shutting down...")
		}
		cancel()
	}()

	ui := newChatUI()
	connected := make(chan struct{}, 1)
	completed := make(chan chat.Message, 1)
	failed := make(chan string, 1)

	handlers := debug.Handlers{
		OnConnected: func(connectionID string) {
			select {
			case connected <- struct{}{}:
			default:
			}
		},
		OnHistory: func(messages []chat.Message, hasMore bool) {
			if isOnceMode {
				return
			}
			for _, msg := range messages {
				ui.printHistoryMessage(msg)
			}
			if hasMore {
				ui.printf("  (older messages available, use /history)\n")
			}
		},
		OnMessageChunk: func(msg chat.Message) {
			if !isOnceMode {
				ui.streamChunk(msg)
			}
		},
		OnMessageComplete: func(msg chat.Message) {
			if isOnceMode {
				select {
				case completed <- msg:
				default:
				}
				return
			}
			ui.finishReply(msg)
		},
		OnMessageError: func(messageID int64, errMsg, code string) {
			select {
			case failed <- errMsg:
			default:
			}
			if !isOnceMode {
				ui.printf("\n❌ Bot error: %s\n", errMsg)
			}
		},
		OnInterrupted: func(messageID int64, partialContent string) {
			ui.printf("\n🛑 Reply interrupted\n")
		},
		OnPluginMessage: func(msg chat.Message, source string) {
			if !isOnceMode {
				prefix := "🔌"
				if source != "" {
					prefix = "🔌 [" + source + "]"
				}
				ui.printMessage(prefix, msg)
			}
		},
		OnError: func(errMsg, code string) {
			ui.printf("\n❌ Server error: %s\n", errMsg)
		},
		OnDisconnected: func(err error) {
			if err != nil && !isOnceMode {
				ui.printf("\n⚠️  Connection lost: %v\n", err)
			}
		},
		OnReconnecting: func(attempt int, delay time.Duration) {
			if !isOnceMode {
				ui.printf("🔁 Reconnecting in %s (attempt %d)...\n", delay, attempt)
			}
		},
	}

	client := debug.New(cfg.Server, pipelineID,
		debug.WithSessionKind(kind),
		debug.WithHandlers(handlers),
		debug.WithHistoryLimit(historyLimit),
		debug.WithTokenProvider(func(ctx context.Context) (string, error) {
			return resolveToken(ctx)
		}),
		debug.WithLogger(logger.With("pipeline_id", pipelineID)))

	if !isOnceMode {
		fmt.Printf("🚀 Connecting to pipeline %s on %s\n", pipelineID, cfg.Server)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Disconnect()

	select {
	case <-connected:
	case <-ctx.Done():
		return nil
	case <-time.After(debug.DefaultConnectTimeout):
		return fmt.Errorf("timed out waiting for session confirmation")
	}

	if isOnceMode {
		return runChatOnce(ctx, client, ui, onceMessage, completed, failed)
	}
	return runChatLoop(ctx, client, ui)
}

// printHistoryMessage shows one past message with a role marker.
func (ui *chatUI) printHistoryMessage(msg chat.Message) {
	text := msg.Content
	if text == "" && msg.Chain != nil {
		text = msg.Chain.PlainText()
	}
	switch msg.Role {
	case chat.RoleUser:
		ui.printf("you> %s\n", strings.TrimSpace(text))
	default:
		ui.printf("bot> %s\n", strings.TrimSpace(text))
	}
}

// runChatOnce sends a single message and exits after the bot finishes.
func runChatOnce(ctx context.Context, client *debug.Client, ui *chatUI, message string, completed <-chan chat.Message, failed <-chan string) error {
	if _, err := client.SendText(message); err != nil {
		return err
	}

	select {
	case msg := <-completed:
		fmt.Print(ui.render(msg.Content))
		return nil
	case errMsg := <-failed:
		return fmt.Errorf("bot error: %s", errMsg)
	case <-ctx.Done():
		return nil
	}
}

// chatSlashCommands defines the available slash commands with descriptions.
var chatSlashCommands = []struct {
	name        string
	description string
}{
	{"/help", "Show available commands"},
	{"/h", "Show available commands (alias)"},
	{"/?", "Show available commands (alias)"},
	{"/quit", "Exit the session"},
	{"/exit", "Exit the session (alias)"},
	{"/q", "Exit the session (alias)"},
	{"/interrupt", "Interrupt the bot's current reply"},
	{"/history", "Load and show older messages"},
	{"/prompts", "List saved prompts"},
	{"/prompt", "Send a saved prompt by name"},
}

func runChatLoop(ctx context.Context, client *debug.Client, ui *chatUI) error {
	logger := logging.CLI()

	prompts, err := config.LoadPrompts(cfg)
	if err != nil {
		logger.Warn("failed to load prompts", "error", err)
	}
	var promptsMu sync.Mutex

	// Reload saved prompts when the prompts file changes on disk.
	if promptsPath, err := appdir.PromptsPath(); err == nil {
		watcher, werr := config.NewPromptsWatcher(promptsPath, func() {
			reloaded, rerr := config.LoadPrompts(cfg)
			if rerr != nil {
				logger.Warn("failed to reload prompts", "error", rerr)
				return
			}
			promptsMu.Lock()
			prompts = reloaded
			promptsMu.Unlock()
			logger.Info("reloaded prompts", "count", len(reloaded))
		}, logger)
		if werr == nil {
			if serr := watcher.Start(); serr != nil {
				logger.Warn("prompts watcher failed to start", "error", serr)
			} else {
				defer watcher.Close()
			}
		}
	}

	// Create readline shell
	rl := readline.NewShell()
	rl.Prompt.Primary(func() string { return "you> " })

	// Set up history
	history := readline.NewInMemoryHistory()
	rl.History.Add("default", history)

	// Set up tab completion for slash commands and prompt names
	rl.Completer = func(line []rune, cursor int) readline.Completions {
		promptsMu.Lock()
		current := prompts
		promptsMu.Unlock()
		return completeChatInput(string(line), cursor, current)
	}

	fmt.Println("\n📝 Type your message and press Enter. Use /help for commands. Tab completes commands.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				fmt.Println("\n👋 Goodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			promptsMu.Lock()
			current := prompts
			promptsMu.Unlock()
			quit, text := handleChatCommand(client, line, current)
			if quit {
				fmt.Println("👋 Goodbye!")
				return nil
			}
			if text == "" {
				continue
			}
			line = text
		}

		if _, err := client.SendText(line); err != nil {
			ui.printf("\n❌ Error: %v\n", err)
		}
	}
}

// handleChatCommand processes a slash command. It returns quit=true to end
// the session; a non-empty text means the command expanded to a message that
// should be sent.
func handleChatCommand(client *debug.Client, line string, prompts []config.Prompt) (quit bool, text string) {
	parts := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(parts) == 0 {
		return false, ""
	}

	switch strings.ToLower(parts[0]) {
	case "quit", "exit", "q":
		return true, ""
	case "interrupt":
		interruptCurrentReply(client)
	case "history":
		if err := client.LoadOlder(); err != nil {
			fmt.Printf("❌ History error: %v\n", err)
		}
	case "prompts":
		if len(prompts) == 0 {
			fmt.Println("No saved prompts. Add them to the config or the prompts file.")
			break
		}
		for _, p := range prompts {
			fmt.Printf("  %-20s %s\n", p.Name, truncate(p.Prompt, 60))
		}
	case "prompt":
		if len(parts) < 2 {
			fmt.Println("Usage: /prompt <name>")
			break
		}
		p := config.FindPrompt(prompts, parts[1])
		if p == nil {
			fmt.Printf("❓ Unknown prompt: %s (use /prompts to list them)\n", parts[1])
			break
		}
		return false, p.Prompt
	case "help", "h", "?":
		printChatHelp()
	default:
		fmt.Printf("❓ Unknown command: %s (use /help for available commands)\n", parts[0])
	}
	return false, ""
}

// interruptCurrentReply interrupts the newest assistant message still
// streaming, if any.
func interruptCurrentReply(client *debug.Client) {
	msgs := client.Session().Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleAssistant {
			if err := client.Interrupt(msgs[i].ID); err != nil {
				fmt.Printf("❌ Interrupt error: %v\n", err)
			}
			return
		}
	}
	fmt.Println("Nothing to interrupt.")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func printChatHelp() {
	fmt.Println(`
Available commands:
  /quit, /exit, /q  - Exit the session
  /interrupt        - Interrupt the bot's current reply
  /history          - Load and show older messages
  /prompts          - List saved prompts
  /prompt <name>    - Send a saved prompt
  /help, /h, /?     - Show this help message

Tips:
  - Type your message and press Enter to send it to the bot
  - Use Ctrl+C to exit gracefully
  - Use up/down arrows for input history
  - Use Tab to autocomplete slash commands and prompt names`)
}

// completeChatInput provides tab completion for the chat input.
// It completes slash commands, and prompt names after /prompt.
func completeChatInput(line string, cursor int, prompts []config.Prompt) readline.Completions {
	if cursor > len(line) {
		cursor = len(line)
	}
	text := line[:cursor]

	if !strings.HasPrefix(text, "/") {
		return readline.Completions{}
	}

	// Complete prompt names after "/prompt ".
	if rest, ok := strings.CutPrefix(text, "/prompt "); ok {
		var pairs []string
		for _, p := range prompts {
			if strings.HasPrefix(p.Name, rest) {
				pairs = append(pairs, p.Name, truncate(p.Prompt, 60))
			}
		}
		if len(pairs) == 0 {
			return readline.Completions{}
		}
		return readline.CompleteValuesDescribed(pairs...).Tag("prompts")
	}

	var pairs []string
	for _, cmd := range chatSlashCommands {
		if strings.HasPrefix(cmd.name, text) {
			pairs = append(pairs, cmd.name, cmd.description)
		}
	}
	if len(pairs) == 0 {
		return readline.Completions{}
	}

	return readline.CompleteValuesDescribed(pairs...).
		Tag("commands").
		NoSpace('/')
}
