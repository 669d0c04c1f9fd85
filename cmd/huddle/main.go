// Command huddle is the peer process: it joins one room of a shared
// chat tree, tails it for messages from other peers, and accepts
// local input (plain chat or slash commands) on stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"github.com/huddle-chat/huddle/internal/actions"
	"github.com/huddle-chat/huddle/internal/agent"
	"github.com/huddle-chat/huddle/internal/agentprofile"
	"github.com/huddle-chat/huddle/internal/applog"
	"github.com/huddle-chat/huddle/internal/config"
	"github.com/huddle-chat/huddle/internal/controller"
	"github.com/huddle-chat/huddle/internal/eventbus"
	"github.com/huddle-chat/huddle/internal/memory"
	"github.com/huddle-chat/huddle/internal/monitor"
	"github.com/huddle-chat/huddle/internal/presence"
	"github.com/huddle-chat/huddle/internal/roomname"
	"github.com/huddle-chat/huddle/internal/storage"
	"github.com/huddle-chat/huddle/internal/tooling"
	"github.com/huddle-chat/huddle/internal/toolcontract"
)

func main() {
	var (
		baseDir = flag.String("base-dir", defaultBaseDir(), "shared filesystem root every peer reads and writes")
		room    = flag.String("room", "general", "room to join")
		user    = flag.String("user", defaultUser(), "display name for this peer")
	)
	flag.Parse()

	log := applog.New("main")
	r := roomname.Sanitize(*room)
	clientID := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

	store, err := storage.New(*baseDir)
	if err != nil {
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}
	if err := store.EnsureRoomPaths(r); err != nil {
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*baseDir)
	if err != nil {
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}

	memStore := memory.New(*baseDir)
	presTracker := presence.New(store)
	profileStore := agentprofile.New(*baseDir, store)
	if err := profileStore.EnsureDefault(); err != nil {
		log.Warn("could not materialize default agent profile: %v", err)
	}

	registry := toolcontract.NewRegistry(tooling.Contracts()...)
	actionsMgr := actions.NewManager(registry, actions.CommandRunner{}, store, filepath.Join(*baseDir, "actions_audit.jsonl"), *baseDir)
	for _, p := range cfg.Chat().ToolPaths {
		if err := actionsMgr.AddAllowedRoot(p); err != nil {
			log.Warn("could not register persisted tool path %s: %v", p, err)
		}
	}

	aiState := agent.NewState()
	aiDeps := agent.Deps{
		Store:     store,
		Memory:    memStore,
		Profiles:  profileStore,
		Config:    cfg,
		Actions:   actionsMgr,
		Provider:  newConfiguredProvider(cfg),
		ProfileID: "default",
	}

	bus := eventbus.New()
	ctl := controller.New(store, presTracker, memStore, profileStore, cfg, actionsMgr, aiState, aiDeps, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("shutting down")
		cancel()
	}()

	go heartbeatLoop(ctx, presTracker, r, *user, clientID)
	go tailLoop(ctx, store, r, *user)

	fmt.Printf("joined #%s as %s (ctrl-d to quit)\n", r, *user)
	runREPL(ctx, ctl, r, *user)
	bus.Close()
}

func defaultBaseDir() string {
	if v := os.Getenv("HUDDLE_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".huddle"
	}
	return filepath.Join(home, ".huddle")
}

func defaultUser() string {
	if v := os.Getenv("HUDDLE_USER"); v != "" {
		return v
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return "anonymous"
}

func heartbeatLoop(ctx context.Context, tracker *presence.Tracker, room, user, clientID string) {
	ticker := time.NewTicker(presence.HeartbeatInterval)
	defer ticker.Stop()
	tracker.Heartbeat(room, user, clientID, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tracker.Heartbeat(room, user, clientID, time.Now())
		}
	}
}

// tailLoop watches room for messages authored by other peers and
// prints them to stdout, on the adaptive schedule defined by
// internal/monitor.
func tailLoop(ctx context.Context, store *storage.Store, room, self string) {
	var offset int64
	monitor.Run(ctx, func() (bool, error) {
		events, next := store.TailSince(room, offset)
		found := next != offset
		offset = next
		for _, ev := range events {
			if ev.Author == self {
				continue
			}
			fmt.Printf("\n[%s] %s: %s\n", ev.TS, ev.Author, ev.Text)
		}
		return found, nil
	}, func(err error) {
		applog.New("monitor").Warn("tail error: %v", err)
	})
}

// runREPL reads lines from stdin until EOF or ctx is canceled,
// dispatching each through ctl and printing any reply.
func runREPL(ctx context.Context, ctl *controller.Controller, room, user string) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	prompt := isatty.IsTerminal(os.Stdin.Fd())

	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		if prompt {
			fmt.Print("> ")
		}
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "" {
				continue
			}
			reply := ctl.HandleMessage(ctx, room, user, line, time.Now())
			if reply != "" {
				fmt.Println(reply)
			}
		}
	}
}

func newConfiguredProvider(cfg *config.Store) agent.Provider {
	return noopProvider{}
}

// noopProvider is the Provider used when no real upstream client has
// been wired in for this peer; it reports an unreachable backend
// rather than fabricating a response.
type noopProvider struct{}

func (noopProvider) Complete(ctx context.Context, req agent.ChatRequest, onToken func(agent.StreamChunk)) (agent.ChatResponse, error) {
	return agent.ChatResponse{}, agent.TransientError{Err: fmt.Errorf("no AI provider configured for this peer")}
}
