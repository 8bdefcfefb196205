// Command prodbg drives a debugger backend without a user interface. It loads
// the configured plugins, starts a session, optionally loads a target, and
// ticks the backend while printing state changes and replies.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	prodbg "github.com/machinefabric/prodbg-go"
	"github.com/machinefabric/prodbg-go/backend"
	"github.com/machinefabric/prodbg-go/message"
)

func main() {
	configPath := flag.String("config", "", "config file (default: user config dir/prodbg/prodbg.toml)")
	backendName := flag.String("backend", "", "backend display name")
	ticks := flag.Int("ticks", 0, "stop after this many ticks (0 runs until interrupted)")
	interval := flag.Duration("interval", 16*time.Millisecond, "time between ticks")
	actions := flag.String("action", "", "comma separated actions issued one per tick, e.g. step,step,run")
	target := flag.String("target", "", "file to load as the debug target")
	list := flag.Bool("list", false, "list the available backends and exit")
	flag.Parse()

	var opts []prodbg.ConfigOption
	if *backendName != "" {
		opts = append(opts, prodbg.WithBackend(*backendName))
	}
	if *target != "" {
		opts = append(opts, prodbg.WithTarget(*target))
	}
	cfg, err := prodbg.LoadConfig(*configPath, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prodbg: %v\n", err)
		os.Exit(1)
	}

	queue, err := parseActions(*actions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prodbg: %v\n", err)
		os.Exit(2)
	}

	registry, _ := prodbg.LoadPlugins(cfg, os.Stderr)
	if *list {
		for _, name := range registry.Names() {
			fmt.Println(name)
		}
		return
	}

	if cfg.Watch {
		watcher, errs := prodbg.WatchPlugins(registry, cfg)
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "prodbg: watch: %v\n", err)
		}
		if watcher != nil {
			defer watcher.Close()
			go func() {
				for ev := range watcher.Events() {
					if ev.Err != nil {
						fmt.Fprintf(os.Stderr, "prodbg: plugin %s: %v\n", ev.Path, ev.Err)
					} else {
						fmt.Fprintf(os.Stderr, "prodbg: plugin %s loaded\n", ev.Path)
					}
				}
			}()
		}
	}

	session, err := prodbg.NewSession(registry, cfg, prodbg.WithReplyHandler(printReply))
	if err != nil {
		fmt.Fprintf(os.Stderr, "prodbg: %v\n", err)
		os.Exit(1)
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := drive(ctx, session, queue, *interval, *ticks); err != nil {
		fmt.Fprintf(os.Stderr, "prodbg: %v\n", err)
		session.Close()
		os.Exit(1)
	}
}

// drive issues the queued actions one per tick, then keeps ticking until
// maxTicks or cancellation
func drive(ctx context.Context, s *prodbg.Session, queue []backend.Action, interval time.Duration, maxTicks int) error {
	last := s.State()
	report := func() {
		if s.State() != last {
			last = s.State()
			fmt.Printf("state: %s\n", last)
		}
	}

	for _, action := range queue {
		if ctx.Err() != nil || (maxTicks > 0 && s.Ticks() >= uint64(maxTicks)) {
			return nil
		}
		s.Do(action)
		if err := s.Tick(); err != nil {
			return err
		}
		report()
	}

	remaining := 0
	if maxTicks > 0 {
		remaining = maxTicks - int(s.Ticks())
		if remaining <= 0 {
			return nil
		}
	}
	// state changes from here on are logged by the session
	return s.Run(ctx, interval, remaining)
}

func parseActions(list string) ([]backend.Action, error) {
	if list == "" {
		return nil, nil
	}
	var out []backend.Action
	for _, name := range strings.Split(list, ",") {
		a, err := backend.ParseAction(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func printReply(env message.Envelope) {
	switch r := env.Payload.(type) {
	case *message.TargetReply:
		if r.Status == message.StatusOK {
			fmt.Println("target loaded")
		} else {
			fmt.Printf("target failed: %s\n", r.ErrorMessage)
		}
	case *message.ExceptionLocationReply:
		if r.Filename != "" {
			fmt.Printf("stopped at %s:%d (0x%0*x)\n", r.Filename, r.Line, int(r.AddressSize)*2, r.Address)
		} else {
			fmt.Printf("stopped at 0x%0*x\n", int(r.AddressSize)*2, r.Address)
		}
	case *message.BreakpointReply:
		fmt.Printf("breakpoint %d: status %d %s\n", r.ID, r.Status, r.ErrorMessage)
	default:
		fmt.Printf("reply: %s\n", env.Kind())
	}
}
