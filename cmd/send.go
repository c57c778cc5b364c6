package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tidewaterlabs/moobot/internal/agent"
	"github.com/tidewaterlabs/moobot/internal/bus"
)

// sendCmd runs exactly one turn and prints the reply between literal
// markers on stdout. Logs go to stderr so the markers stay parseable.
func sendCmd() *cobra.Command {
	var jid string
	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Run a single message through the assistant and print the reply",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runSend(jid, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&jid, "jid", "e2e", "chat identifier for the turn")
	return cmd
}

func runSend(jid, message string) {
	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	paths, cfg, err := loadEnvironment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	rt, err := buildRuntime(paths, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	if rt.index != nil {
		if _, err := rt.index.Sync(context.Background()); err != nil {
			slog.Warn("memory sync failed", "error", err)
		}
	}

	history, err := rt.loadHistory(jid, false)
	if err != nil {
		slog.Warn("history load failed, running without", "jid", jid, "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.TurnTimeout()+10*time.Second)
	defer cancel()

	reply, err := rt.loop.Run(ctx, agent.TurnInput{
		UserText: message,
		History:  history,
		Ctx:      rt.agentContext(jid, false),
	})
	if err != nil {
		reply = fmt.Sprintf("error: %v", err)
	} else {
		rt.appendLog(bus.InboundMessage{JID: jid, SenderID: "e2e"}, message, reply)
	}

	fmt.Println("E2E_REPLY_START")
	fmt.Println(reply)
	fmt.Println("E2E_REPLY_END")
}
