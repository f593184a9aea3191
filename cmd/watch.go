package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/notifysync/internal/consumers"
	"github.com/ziadkadry99/notifysync/internal/events"
	"github.com/ziadkadry99/notifysync/internal/logging"
	"github.com/ziadkadry99/notifysync/internal/notifications"
	"github.com/ziadkadry99/notifysync/internal/push"
	"github.com/ziadkadry99/notifysync/internal/realtime"
	"github.com/ziadkadry99/notifysync/internal/reconcile"
	"github.com/ziadkadry99/notifysync/internal/store"
)

var (
	watchFilter      string
	watchOnly        []string
	watchMinPriority string
	watchBell        bool
	watchPush        bool
	watchCenterSize  int
)

var errQuit = errors.New("quit")

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the inbox in sync and show new notifications as they arrive",
	Long: `Starts a session that reconciles the inbox on start, whenever you press
Enter and every reconcile.poll_interval. With realtime.enabled new
notifications stream in over a websocket. Type "help" for the session
commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := requireUser(cfg); err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}

		bus := events.NewBus(logging.Component(logger, "events"))
		defer bus.Close()

		client := newAPIClient(cfg)
		st := newStore(cfg, client, bus, logger)
		poller := reconcile.New(st, reconcile.Options{
			Interval: cfg.Reconcile.PollInterval,
			Timeout:  cfg.RequestTimeout,
			Logger:   logging.Component(logger, "reconcile"),
		})
		channel := realtime.New(realtime.Config{
			Enabled:              cfg.Realtime.Enabled,
			URL:                  cfg.RealtimeURL(),
			ReconnectDelay:       cfg.Realtime.ReconnectDelay,
			MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
			HandshakeTimeout:     cfg.Realtime.HandshakeTimeout,
		}, st.Ingest, bus, logging.Component(logger, "realtime"))

		toaster := consumers.NewToaster(bus, os.Stdout, notifications.Priority(watchMinPriority), watchBell, logging.Component(logger, "toast"))
		if err := toaster.Only(watchOnly...); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// One reader owns stdin; permission prompts take their answer from it.
		lines := readLines(os.Stdin)

		mgr, platform := newPushManager(cfg, client, logger, lineConfirm(ctx, lines, os.Stdout))
		sess := &session{
			store:  st,
			poller: poller,
			push:   mgr,
			out:    os.Stdout,
			filter: consumers.ParseFilter(watchFilter),
			onPermission: func() {
				rememberPermission(cfg, platform.Permission())
			},
		}

		if watchPush {
			sess.handle(ctx, "push on")
		}

		if cfg.Realtime.Enabled {
			if err := channel.Connect(cfg.UserID); err != nil {
				logger.WithError(err).Warn("realtime channel unavailable; relying on polling")
			}
			defer channel.Close()
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return poller.Run(gctx) })
		g.Go(func() error { return toaster.Run(gctx) })
		g.Go(func() error { return renderLoop(gctx, st, bus, os.Stdout, watchCenterSize, logger) })
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						// Stdin closed; keep syncing until interrupted.
						<-gctx.Done()
						return nil
					}
					if err := sess.handle(gctx, line); err != nil {
						return err
					}
				}
			}
		})

		fmt.Fprintln(os.Stderr, `Watching notifications. Press Enter to refresh, "help" for commands, Ctrl-C to stop.`)
		if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
			return err
		}
		return nil
	},
}

// renderLoop redraws the bell and center whenever the store changes and
// reports realtime channel transitions.
func renderLoop(ctx context.Context, st *store.Store, bus *events.Bus, out io.Writer, centerSize int, logger *logrus.Logger) error {
	snaps, unsubscribe := st.Subscribe()
	defer unsubscribe()
	states, unsubscribeStates := bus.Subscribe(events.TopicChannelState)
	defer unsubscribeStates()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			if !snap.Loaded || snap.Version == last {
				continue
			}
			last = snap.Version
			fmt.Fprintln(out)
			consumers.RenderBell(out, consumers.NewBell(snap))
			consumers.RenderCenter(out, consumers.NewCenter(snap, centerSize))
		case msg, ok := <-states:
			if !ok {
				continue
			}
			if state, isState := msg.(realtime.State); isState {
				logger.WithField("state", state.String()).Info("realtime channel")
				if state == realtime.GivenUp {
					fmt.Fprintln(out, "Realtime updates stopped; polling continues.")
				}
			}
		}
	}
}

// readLines forwards stdin lines until EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// lineConfirm answers yes/no questions from the session's input lines so
// that no second reader competes for stdin.
func lineConfirm(ctx context.Context, lines <-chan string, out io.Writer) func(label string) (bool, error) {
	return func(label string) (bool, error) {
		fmt.Fprintf(out, "%s [y/N]: ", label)
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return false, io.ErrUnexpectedEOF
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y", "yes":
				return true, nil
			}
			return false, nil
		}
	}
}

// pushController is the part of push.Manager the session drives.
type pushController interface {
	Subscribe(ctx context.Context) (notifications.Subscription, error)
	Unsubscribe(ctx context.Context) (bool, error)
	TestNotification(ctx context.Context) error
	Sync(ctx context.Context) (push.State, error)
	Current() (notifications.Subscription, bool)
	Notice() *notifications.DegradationNotice
}

// session executes the interactive commands typed during watch.
type session struct {
	store        *store.Store
	poller       *reconcile.Poller
	push         pushController
	out          io.Writer
	filter       consumers.Filter
	onPermission func()
}

const sessionHelp = `Commands:
  <Enter>, refresh     reconcile with the server now
  read <id>            mark a notification as read
  read-all             mark every notification as read
  delete <id>          delete a notification
  more                 load the next page
  page [all|unread]    show the full list
  push on|off|test     manage the push subscription
  status               show reconciliation status
  quit                 end the session`

// handle runs one command line. Command failures are printed; only quit
// ends the session.
func (s *session) handle(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		s.focus(ctx)
		return nil
	}

	var err error
	switch cmd, args := fields[0], fields[1:]; cmd {
	case "refresh", "r":
		s.focus(ctx)
	case "read":
		err = s.eachID(args, func(id string) error { return s.store.MarkAsRead(ctx, id) })
	case "read-all":
		err = s.store.MarkAllAsRead(ctx)
	case "delete", "rm":
		err = s.eachID(args, func(id string) error { return s.store.Delete(ctx, id) })
	case "more":
		err = s.store.LoadMore(ctx)
	case "page":
		if len(args) > 0 {
			s.filter = consumers.ParseFilter(args[0])
		}
		consumers.RenderPage(s.out, consumers.NewPage(s.store.Snapshot(), s.filter))
	case "push":
		err = s.handlePush(ctx, args)
	case "status":
		st := s.poller.Status()
		fmt.Fprintf(s.out, "Reconciled %d times (last: %s at %s)\n", st.Runs, st.LastTrigger, st.LastRun.Format("15:04:05"))
		if st.LastErr != nil {
			fmt.Fprintf(s.out, "  Last error: %v\n", st.LastErr)
		}
	case "help", "?":
		fmt.Fprintln(s.out, sessionHelp)
	case "quit", "exit", "q":
		return errQuit
	default:
		err = fmt.Errorf("unknown command %q (type help)", cmd)
	}
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", explain(err))
	}
	return nil
}

// focus reconciles the store and re-checks the push subscription against
// the current permission.
func (s *session) focus(ctx context.Context) {
	s.poller.Focus()

	_, held := s.push.Current()
	if _, err := s.push.Sync(ctx); err != nil {
		var ce *notifications.CapabilityError
		if !errors.As(err, &ce) {
			fmt.Fprintf(s.out, "Error: %v\n", explain(err))
		}
		return
	}
	if _, still := s.push.Current(); held && !still {
		fmt.Fprintln(s.out, "Notification permission was revoked; push subscription removed.")
	}
}

func (s *session) eachID(ids []string, fn func(id string) error) error {
	if len(ids) == 0 {
		return errors.New("missing notification id")
	}
	for _, id := range ids {
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) handlePush(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: push on|off|test")
	}
	switch args[0] {
	case "on":
		sub, err := s.push.Subscribe(ctx)
		if s.onPermission != nil {
			s.onPermission()
		}
		if err != nil {
			return err
		}
		if sub.Mode == notifications.ModeFull {
			fmt.Fprintf(s.out, "Push enabled (full mode): %s\n", sub.Endpoint)
		} else {
			fmt.Fprintln(s.out, "Notifications enabled (basic mode)")
		}
		if notice := s.push.Notice(); notice != nil {
			fmt.Fprintf(s.out, "  Reason: %s\n", notice)
		}
	case "off":
		removed, err := s.push.Unsubscribe(ctx)
		if err != nil {
			return err
		}
		if removed {
			fmt.Fprintln(s.out, "Push subscription removed.")
		} else {
			fmt.Fprintln(s.out, "No push subscription to remove.")
		}
	case "test":
		return s.push.TestNotification(ctx)
	default:
		return fmt.Errorf("unknown push command %q", args[0])
	}
	return nil
}

func init() {
	watchCmd.Flags().StringVar(&watchFilter, "filter", string(consumers.FilterAll), "Default filter for the page command: all or unread")
	watchCmd.Flags().StringSliceVar(&watchOnly, "only", nil, `Only toast notification types matching these globs, e.g. "api_*"`)
	watchCmd.Flags().StringVar(&watchMinPriority, "min-priority", string(notifications.PriorityLow), "Lowest priority that shows a toast")
	watchCmd.Flags().BoolVar(&watchBell, "bell", false, "Ring the terminal bell for high and critical notifications")
	watchCmd.Flags().BoolVar(&watchPush, "push", false, "Subscribe this device for push when the session starts")
	watchCmd.Flags().IntVar(&watchCenterSize, "center-size", 5, "Number of notifications shown after each change")
	rootCmd.AddCommand(watchCmd)
}
