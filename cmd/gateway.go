package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tidewaterlabs/moobot/internal/agent"
	"github.com/tidewaterlabs/moobot/internal/bootstrap"
	"github.com/tidewaterlabs/moobot/internal/bus"
	"github.com/tidewaterlabs/moobot/internal/channels"
	"github.com/tidewaterlabs/moobot/internal/channels/linked"
	"github.com/tidewaterlabs/moobot/internal/channels/telegram"
	"github.com/tidewaterlabs/moobot/internal/chatlog"
	"github.com/tidewaterlabs/moobot/internal/config"
	"github.com/tidewaterlabs/moobot/internal/cron"
	"github.com/tidewaterlabs/moobot/internal/memory"
	"github.com/tidewaterlabs/moobot/internal/providers"
	"github.com/tidewaterlabs/moobot/internal/skills"
	"github.com/tidewaterlabs/moobot/internal/state"
	"github.com/tidewaterlabs/moobot/internal/tide"
)

// runtime holds every long-lived component of a running assistant.
type runtime struct {
	cfg      *config.Config
	paths    *state.Paths
	loc      *time.Location
	client   *providers.Client
	log      *chatlog.Logger
	index    *memory.Index // nil when memory is disabled
	engine   *cron.Engine
	registry *skills.Registry
	loop     *agent.Loop
	bus      *bus.MessageBus
	manager  *channels.Manager
	tide     *tide.Tide
}

func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

// loadEnvironment resolves the state dir and loads config.
func loadEnvironment() (*state.Paths, *config.Config, error) {
	paths, err := state.Resolve()
	if err != nil {
		return nil, nil, err
	}
	if err := paths.EnsureDirs(); err != nil {
		return nil, nil, err
	}
	cfgPath := paths.Config
	if cfgFile != "" {
		cfgPath = cfgFile
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	return paths, cfg, nil
}

// buildRuntime wires all components together. Transports are registered but
// not started; callers decide whether to go live.
func buildRuntime(paths *state.Paths, cfg *config.Config) (*runtime, error) {
	loc := cfg.UserLocation()

	client, err := providers.NewClient(cfg.LLM, cfg.Memory.Embedding, paths.Uploads)
	if err != nil {
		return nil, fmt.Errorf("build model client: %w", err)
	}
	client.LogProviders()

	rt := &runtime{
		cfg:    cfg,
		paths:  paths,
		loc:    loc,
		client: client,
		log:    chatlog.New(paths, loc),
		bus:    bus.NewMessageBus(64),
	}

	if cfg.Memory.Enabled {
		index, err := memory.NewIndex(cfg.Memory, paths, client, loc)
		if err != nil {
			return nil, fmt.Errorf("open memory index: %w", err)
		}
		rt.index = index
	}

	cronStore, err := cron.OpenStore(paths.CronStore)
	if err != nil {
		return nil, fmt.Errorf("open cron store: %w", err)
	}
	rt.engine = cron.NewEngine(cronStore)

	registry, err := buildSkills(rt)
	if err != nil {
		return nil, fmt.Errorf("build skill registry: %w", err)
	}
	rt.registry = registry

	rt.loop = agent.NewLoop(client, registry, cfg.Agents.Defaults, loc)

	rt.manager = channels.NewManager(rt.bus)
	if cfg.Channels.Telegram.Enabled {
		tg, err := telegram.New(cfg.Channels.Telegram, rt.bus, paths.Uploads, cfg.Owner.TelegramUserID)
		if err != nil {
			return nil, fmt.Errorf("build telegram transport: %w", err)
		}
		rt.manager.Register(tg)
	}
	if cfg.Channels.Linked.Enabled {
		ln, err := linked.New(cfg.Channels.Linked, rt.bus)
		if err != nil {
			return nil, fmt.Errorf("build linked transport: %w", err)
		}
		rt.manager.Register(ln)
	}

	rt.engine.SetRunner(rt.runTurn)
	rt.engine.SetSender(rt.manager.SendText)

	rt.tide = tide.New(cfg.Tide, loc, rt.tideNudge, rt.manager.SendText)

	return rt, nil
}

// buildSkills assembles the registry from skills.enabled. Skills whose
// backing component is unavailable are skipped with a warning rather than
// failing startup.
func buildSkills(rt *runtime) (*skills.Registry, error) {
	var list []skills.Skill
	for _, id := range rt.cfg.Skills.Enabled {
		switch id {
		case "memory":
			if rt.index == nil {
				slog.Warn("memory skill enabled but memory.enabled is false, skipping")
				continue
			}
			list = append(list, skills.NewMemorySkill(rt.index))
		case "cron":
			list = append(list, skills.NewCronSkill(rt.engine, rt.loc))
		case "filesystem":
			list = append(list, skills.NewFilesystemSkill(true))
		case "shell":
			list = append(list, skills.NewShellSkill(rt.cfg.Skills.Shell))
		case "image":
			list = append(list, skills.NewImageSkill(rt.client))
		case "voice":
			list = append(list, skills.NewVoiceSkill())
		default:
			slog.Warn("unknown skill in config", "skill", id)
		}
	}
	return skills.NewRegistry(list...)
}

// agentContext builds the per-turn skill context for a chat.
func (rt *runtime) agentContext(jid string, isGroup bool) *skills.AgentContext {
	return &skills.AgentContext{
		JID:          jid,
		IsGroup:      isGroup,
		WorkspaceDir: rt.paths.Workspace,
		StorePath:    rt.paths.CronStore,
		SendImage: func(path, caption string) error {
			return rt.manager.SendMedia(jid, bus.MediaAttachment{Path: path, Caption: caption})
		},
		SendVoice: func(text string) error {
			path, err := rt.client.Synthesize(context.Background(), text)
			if err != nil {
				return fmt.Errorf("synthesize voice: %w", err)
			}
			return rt.manager.SendMedia(jid, bus.MediaAttachment{Path: path, Voice: true})
		},
	}
}

// runTurn executes one agent turn with fresh chat history. Cron delivery
// and the tide nudge both go through here.
func (rt *runtime) runTurn(ctx context.Context, jid, message string) (string, error) {
	history, err := rt.loadHistory(jid, false)
	if err != nil {
		slog.Warn("history load failed, running without", "jid", jid, "error", err)
	}
	return rt.loop.Run(ctx, agent.TurnInput{
		UserText: message,
		History:  history,
		Ctx:      rt.agentContext(jid, false),
	})
}

// tideNudge asks the model whether anything is worth saying after a quiet
// stretch. An empty return means stay silent.
func (rt *runtime) tideNudge(ctx context.Context, jid string) (string, error) {
	history, err := rt.loadHistory(jid, false)
	if err != nil {
		slog.Warn("tide: history load failed", "error", err)
	}
	text, err := rt.loop.Run(ctx, agent.TurnInput{
		UserText:     "It has been quiet for a while.",
		History:      history,
		Ctx:          rt.agentContext(jid, false),
		SystemPrompt: agent.TidePrompt,
	})
	if err != nil {
		return "", err
	}
	if agent.IsNoReply(text) {
		return "", nil
	}
	return text, nil
}

func runGateway() {
	setupLogging()

	paths, cfg, err := loadEnvironment()
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	slog.Info("state directory resolved", "root", paths.Root)

	if seeded, err := bootstrap.EnsureWorkspaceFiles(paths.Workspace); err != nil {
		slog.Warn("workspace seeding failed", "error", err)
	} else if len(seeded) > 0 {
		slog.Info("seeded workspace files", "files", seeded)
	}

	rt, err := buildRuntime(paths, cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.manager.Start(ctx); err != nil {
		slog.Error("no transport came up", "error", err)
		os.Exit(1)
	}

	if err := rt.engine.Start(ctx); err != nil {
		slog.Error("cron engine failed to start", "error", err)
		os.Exit(1)
	}

	if rt.index != nil {
		go rt.index.RunSyncLoop(ctx)
	}
	go rt.tide.Run(ctx)
	go rt.consumeInbound(ctx)

	slog.Info("moobot gateway running", "version", Version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	rt.manager.Stop(stopCtx)
	rt.engine.Wait()
}
