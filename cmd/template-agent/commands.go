package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tuhinsharma121/template-agent/internal/agent"
	"github.com/tuhinsharma121/template-agent/internal/buildinfo"
	"github.com/tuhinsharma121/template-agent/internal/config"
	"github.com/tuhinsharma121/template-agent/internal/container"
	"github.com/tuhinsharma121/template-agent/internal/llm"
	"github.com/tuhinsharma121/template-agent/internal/react"
)

// ssoTokenEnv supplies the default for --token.
const ssoTokenEnv = "SSO_TOKEN"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	output     string // text or json
}

// turnFlags select the conversation and agent options for ask and chat.
type turnFlags struct {
	thread       string
	token        string
	noCheckpoint bool
}

func (f *turnFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.thread, "thread", "", "conversation thread ID (default: a new ID)")
	cmd.Flags().StringVar(&f.token, "token", os.Getenv(ssoTokenEnv), "SSO token forwarded to the MCP server (env "+ssoTokenEnv+")")
	cmd.Flags().BoolVar(&f.noCheckpoint, "no-checkpoint", false, "run without storing conversation state")
}

func (f *turnFlags) options() []agent.Option {
	opts := []agent.Option{agent.WithSSOToken(f.token)}
	if f.noCheckpoint {
		opts = append(opts, agent.WithoutCheckpointing())
	}
	return opts
}

// threadID returns the requested thread, or a fresh one for checkpointed
// runs. Stateless runs keep an empty ID.
func (f *turnFlags) threadID() string {
	if f.thread != "" || f.noCheckpoint {
		return f.thread
	}
	return uuid.NewString()
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "template-agent",
		Short:         "Conversational agent with MCP tools and checkpointed memory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "path to config file (default: auto-discover)")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newAskCmd(g),
		newChatCmd(g),
		newHistoryCmd(g),
		newVersionCmd(g),
	)
	return root
}

func newAskCmd(g *globalFlags) *cobra.Command {
	tf := &turnFlags{}
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := bootstrap(g, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			req := react.Request{ThreadID: tf.threadID(), Input: strings.Join(args, " ")}

			return c.Factory().With(cmd.Context(), func(ctx context.Context, s *agent.Session) error {
				res, err := s.Invoke(ctx, req)
				if err != nil {
					return fmt.Errorf("ask: %w", err)
				}
				return writeResult(cmd.OutOrStdout(), g.output, res)
			}, tf.options()...)
		},
	}
	tf.register(cmd)
	return cmd
}

func newChatCmd(g *globalFlags) *cobra.Command {
	tf := &turnFlags{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Hold a conversation, one line per turn, until EOF",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := bootstrap(g, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			thread := tf.threadID()
			out := cmd.OutOrStdout()

			return c.Factory().With(cmd.Context(), func(ctx context.Context, s *agent.Session) error {
				if thread != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "thread: %s\n", thread)
				}
				return chatLoop(ctx, cmd.InOrStdin(), out, s, thread, g.output)
			}, tf.options()...)
		},
	}
	tf.register(cmd)
	return cmd
}

// chatLoop runs one turn per non-blank input line on a single session.
// Without checkpointing every turn starts from an empty history.
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, s *agent.Session, thread, format string) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		res, err := s.Invoke(ctx, react.Request{
			ThreadID: thread,
			Input:    line,
			OnEvent: func(ev react.Event) {
				if ev.Kind == react.EventToolCall && format != "json" {
					fmt.Fprintf(out, "[tool] %s\n", ev.ToolName)
				}
			},
		})
		if err != nil {
			return fmt.Errorf("chat: %w", err)
		}
		if err := writeResult(out, format, res); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var thread string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the stored messages of a conversation thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if thread == "" {
				return errors.New("history: --thread is required")
			}
			c, err := bootstrap(g, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			msgs, err := c.Factory().History(cmd.Context(), thread)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			return writeMessages(cmd.OutOrStdout(), g.output, msgs)
		},
	}
	cmd.Flags().StringVar(&thread, "thread", "", "conversation thread ID")
	return cmd
}

func newVersionCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVersion(cmd.OutOrStdout(), g.output)
		},
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// bootstrap loads configuration and wires the service container. Logs
// are written to logw.
func bootstrap(g *globalFlags, logw io.Writer) (*container.Container, error) {
	cfg, cfgPath, err := loadConfig(g.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := cfg.Logger(logw)
	if err != nil {
		return nil, err
	}
	if cfgPath != "" {
		logger.Info("config loaded", "path", cfgPath)
	} else {
		logger.Info("no config file found, using defaults and environment")
	}
	logger.Debug("starting", "build", buildinfo.String())

	c, err := container.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize services: %w", err)
	}
	return c, nil
}

// loadConfig locates and parses the configuration file. If explicit is
// non-empty that exact path must exist. When no file is found by search
// the defaults plus environment overrides are returned with an empty path.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if errors.Is(err, config.ErrNoConfigFile) {
		cfg := config.Default()
		cfg.ApplyEnv(os.LookupEnv)
		return cfg, "", nil
	}
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

type resultJSON struct {
	ThreadID     string `json:"thread_id,omitempty"`
	Answer       string `json:"answer"`
	Iterations   int    `json:"iterations"`
	Checkpoint   string `json:"checkpoint_id,omitempty"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

func writeResult(w io.Writer, format string, res *react.Result) error {
	if format != "json" {
		_, err := fmt.Fprintln(w, res.Answer)
		return err
	}
	out := resultJSON{
		ThreadID:     res.ThreadID,
		Answer:       res.Answer,
		Iterations:   res.Iterations,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
	}
	if res.Checkpoint != nil {
		out.Checkpoint = res.Checkpoint.ID.String()
	}
	return json.NewEncoder(w).Encode(out)
}

func writeMessages(w io.Writer, format string, msgs []llm.Message) error {
	if format == "json" {
		if msgs == nil {
			msgs = []llm.Message{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(msgs)
	}
	for _, m := range msgs {
		switch {
		case m.Role == llm.RoleTool:
			fmt.Fprintf(w, "%s (%s): %s\n", m.Role, m.Name, m.Content)
		case len(m.ToolCalls) > 0:
			names := make([]string, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				names = append(names, tc.Name)
			}
			fmt.Fprintf(w, "%s: [calls %s] %s\n", m.Role, strings.Join(names, ", "), m.Content)
		default:
			fmt.Fprintf(w, "%s: %s\n", m.Role, m.Content)
		}
	}
	return nil
}
