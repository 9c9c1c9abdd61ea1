package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsarna/sciconv/pkg/sciconv/chat"
	"github.com/tsarna/sciconv/pkg/sciconv/config"
	"github.com/tsarna/sciconv/pkg/sciconv/o11y"
	"go.uber.org/zap"
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat [websocket-url]",
	Short: "Chat with the assistant",
	Long: `Open an interactive chat with the assistant.

Every line typed is sent as a chat message; replies are printed as they
arrive. The connection is made on the first message. Lines starting with a
slash are commands:

  /reconnect   reconnect now
  /disconnect  close the connection
  /status      show the connection state
  /stats       show message and connection counters
  /quit        leave

The URL defaults to the chat endpoint of the configured environment.

Examples:
  sciconv chat
  sciconv chat --env production
  sciconv chat ws://localhost:8000/api/chat/ws --transport gorilla`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

var (
	chatTransport    string
	chatDialTimeout  time.Duration
	chatNoReconnect  bool
	chatConnectFirst bool
)

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&chatTransport, "transport", "", "WebSocket implementation: "+strings.Join(chat.TransportNames, ", "))
	chatCmd.Flags().DurationVar(&chatDialTimeout, "dial-timeout", 0, "WebSocket dial timeout (default from config)")
	chatCmd.Flags().BoolVar(&chatNoReconnect, "no-reconnect", false, "do not reconnect automatically after the server closes the connection")
	chatCmd.Flags().BoolVar(&chatConnectFirst, "connect", false, "connect before the first message is sent")
}

func runChat(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	url := cfg.Endpoint.ChatURL
	if len(args) > 0 {
		url = args[0]
	}
	if chatTransport != "" {
		cfg.Chat.Transport = chatTransport
	}
	if chatDialTimeout > 0 {
		cfg.Chat.DialTimeout = chatDialTimeout
	}
	if chatNoReconnect {
		cfg.Reconnect.Enabled = false
	}

	ctx, stop := signalContext()
	defer stop()

	session, err := newChatSession(url, cfg, logger, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer session.close()

	logger.Info("Starting chat",
		zap.String("url", url),
		zap.String("transport", cfg.Chat.Transport),
		zap.Duration("dial-timeout", cfg.Chat.DialTimeout),
		zap.Bool("reconnect", cfg.Reconnect.Enabled))

	if chatConnectFirst {
		if err := session.client.Connect(ctx); err != nil {
			session.printf("! %v\n", err)
		}
	}

	return session.run(ctx, cmd.InOrStdin())
}

// chatSession is the interactive chat: it prints replies and connection
// changes and turns input lines into messages and commands.
type chatSession struct {
	client      *chat.Client
	reconnector *chat.Reconnector
	metrics     *o11y.MemoryProvider
	logger      *zap.Logger

	outMu sync.Mutex
	out   io.Writer
}

func newChatSession(url string, cfg *config.Config, logger *zap.Logger, out io.Writer) (*chatSession, error) {
	dialer, err := chat.DialerByName(cfg.Chat.Transport)
	if err != nil {
		return nil, err
	}

	metrics, tracing := observability()
	s := &chatSession{metrics: metrics, logger: logger, out: out}

	builder := chat.NewClient().
		WithURL(url).
		WithLogger(logger).
		WithTransport(dialer).
		WithDialTimeout(cfg.Chat.DialTimeout).
		WithBackoff(cfg.Reconnect.Backoff).
		WithMetrics(metrics).
		WithTracing(tracing)
	if cfg.Chat.ClientID != "" {
		builder = builder.WithClientID(cfg.Chat.ClientID)
	}
	for key, value := range cfg.Chat.Headers {
		builder = builder.WithHeader(key, value)
	}

	s.client, err = builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create chat client: %w", err)
	}

	s.reconnector, err = chat.NewReconnector(s.client).
		WithBackoff(cfg.Reconnect.Backoff).
		WithLogger(logger).
		WithMetrics(metrics).
		WithEnabled(cfg.Reconnect.Enabled).
		WithGiveUp(func(err error) {
			s.printf("! gave up reconnecting: %v\n", err)
		}).
		Build()
	if err != nil {
		s.client.Close()
		return nil, fmt.Errorf("failed to create reconnector: %w", err)
	}

	printer := chat.NewNamedLoggingListener(s, s, logger, zap.DebugLevel, "chat")
	s.client.OnMessage(printer)
	s.client.OnConnectionChange(printer)
	s.client.OnConnectionChange(s.reconnector)

	return s, nil
}

func (s *chatSession) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

// OnMessage prints a reply.
func (s *chatSession) OnMessage(ctx context.Context, msg chat.InboundEnvelope) error {
	prefix := "assistant"
	if t, ok := msg.Raw["type"].(string); ok && t != "" {
		prefix = t
	}
	s.printf("%s> %s\n", prefix, msg.Content)
	return nil
}

// OnConnectionChange prints the connection indicator.
func (s *chatSession) OnConnectionChange(ctx context.Context, ev chat.ConnectionEvent) error {
	if ev.Connected {
		s.printf("● connected to %s\n", s.client.URL())
		return nil
	}
	if ev.Err != nil {
		s.printf("○ %s: %v\n", ev.State, ev.Err)
	} else {
		s.printf("○ %s\n", ev.State)
	}
	return nil
}

// run reads lines from in until EOF, /quit or ctx ends.
func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := s.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// handle processes one input line and reports whether the session should end.
func (s *chatSession) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "/") {
		if err := s.client.Send(ctx, line); err != nil {
			s.printf("! %v\n", err)
		}
		return false
	}

	switch strings.Fields(line)[0] {
	case "/quit", "/exit":
		return true
	case "/reconnect":
		s.client.Disconnect()
		if err := s.reconnector.Reconnect(ctx); err != nil {
			s.printf("! %v\n", err)
		}
	case "/disconnect":
		s.client.Disconnect()
	case "/status":
		rs := s.client.ReconnectState()
		s.printf("state=%s url=%s client_id=%s attempts=%d next_delay=%s reconnects=%d\n",
			s.client.State(), s.client.URL(), s.client.ClientID(), rs.Attempts, rs.Delay, s.reconnector.ReconnectCount())
	case "/stats":
		s.printStats()
	default:
		s.printf("! unknown command %s (try /reconnect, /disconnect, /status, /stats, /quit)\n", line)
	}
	return false
}

func (s *chatSession) printStats() {
	snapshot := s.metrics.Snapshot()

	names := make([]string, 0, len(snapshot.Counters)+len(snapshot.Gauges))
	values := make(map[string]string)
	for name, v := range snapshot.Counters {
		names = append(names, name)
		values[name] = fmt.Sprint(v)
	}
	for name, v := range snapshot.Gauges {
		names = append(names, name)
		values[name] = fmt.Sprint(v)
	}
	sort.Strings(names)

	if len(names) == 0 {
		s.printf("no activity yet\n")
		return
	}
	for _, name := range names {
		s.printf("%-50s %s\n", name, values[name])
	}
}

func (s *chatSession) close() {
	s.reconnector.Stop()
	if err := s.client.Close(); err != nil {
		s.logger.Warn("Error during client close", zap.Error(err))
	}
}
