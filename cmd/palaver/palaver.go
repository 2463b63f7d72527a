// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Program palaver is a command-line utility for holding dialogs with other
// processes through a shared store.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/mds/value"
	"github.com/creachadair/palaver"
	"github.com/creachadair/palaver/poll"
	"github.com/creachadair/taskgroup"
	"go.uber.org/zap"
)

var flags flagSettings

func main() {
	root := &command.C{
		Name:  filepath.Base(os.Args[0]),
		Usage: "<command> [arguments]",
		Help: `Hold dialogs with other processes through a shared store.

Settings are read from the environment (PALAVER_NAME, PALAVER_DIR, PALAVER_POLL,
PALAVER_PID, PALAVER_VERBOSE) and may be overridden by flags.`,

		SetFlags: func(env *command.Env, fs *flag.FlagSet) { flax.MustBind(fs, &flags) },

		Commands: []*command.C{
			{
				Name: "create",
				Help: `Create a new dialog and print its ID.

The process named by --pid (or PALAVER_PID) becomes its first participant. It
is required, since this command exits at once: the participant must be a
process that will go on to receive, for example with "recv --pid".`,
				Run: runCreate,
			},
			{
				Name:  "join",
				Usage: "<dialog-id>",
				Help: `Join an existing dialog.

The process named by --pid (or PALAVER_PID) is added as a participant, and is
required for the same reason as in "create". To join and take part directly,
use "chat <dialog-id>".`,
				Run: runJoin,
			},
			{
				Name:  "send",
				Usage: "<dialog-id> <text>...",
				Help: `Send a message to the participants of a dialog.

The arguments after the dialog ID are joined with spaces to form the text.
Send the text "TERMINATE" to end the dialog for its participants.`,
				Run: runSend,
			},
			{
				Name:  "recv",
				Usage: "<dialog-id>",
				Help:  "Print the messages of a dialog not yet received by this process.",
				Run:   runRecv,
			},
			{
				Name: "list",
				Help: "List the active dialogs and their participants.",
				Run:  runList,
			},
			{
				Name:  "pending",
				Usage: "[dialog-id]",
				Help:  "Print the number of messages waiting in the queue.",
				Run:   runPending,
			},
			{
				Name:  "chat",
				Usage: "[dialog-id]",
				Help: `Chat interactively in a dialog.

With a dialog ID, join that dialog; otherwise create a new one.
Each line read from stdin is sent as a message, and messages from the other
participants are printed as they arrive. Enter "TERMINATE" to end the dialog,
or "/quit" (or end of input) to leave without ending it.`,
				Run: runChat,
			},
			{
				Name: "cleanup",
				Help: `Remove the shared store from the system.

This is for use after a process exits without closing its dialogs.
Processes still attached fail on their next operation.`,
				Run: runCleanup,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

// session is an attached store with its settings.
type session struct {
	cfg   *Config
	log   *zap.Logger
	store *palaver.Store
}

func (s *session) Close() {
	s.store.Detach()
	s.log.Sync()
}

func settings() (*Config, *zap.Logger, error) {
	env, err := LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	cfg := env.Merge(flags)
	log, err := cfg.Logger()
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log, nil
}

func attach(create bool) (*session, error) {
	cfg, log, err := settings()
	if err != nil {
		return nil, err
	}
	return attachWith(cfg, log, create)
}

// attachParticipant attaches on behalf of a command that registers a
// participant and then exits. A participant that never receives holds every
// message of its dialog in the queue, so the command must name the process
// that will receive in its place.
func attachParticipant(env *command.Env, create bool) (*session, error) {
	cfg, log, err := settings()
	if err != nil {
		return nil, err
	}
	if cfg.PID == 0 {
		return nil, env.Usagef("a participant process ID is required (set --pid or PALAVER_PID)")
	}
	return attachWith(cfg, log, create)
}

func attachWith(cfg *Config, log *zap.Logger, create bool) (*session, error) {
	st, err := palaver.Attach(create, cfg.Options(log))
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, log: log, store: st}, nil
}

func parseID(env *command.Env, s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, env.Usagef("invalid dialog ID %q", s)
	}
	return id, nil
}

func runCreate(env *command.Env) error {
	if len(env.Args) != 0 {
		return env.Usagef("extra arguments: %q", env.Args)
	}
	s, err := attachParticipant(env, true)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := s.store.CreateDialog(s.store.ProcessID())
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runJoin(env *command.Env) error {
	if len(env.Args) != 1 {
		return env.Usagef("wrong number of arguments")
	}
	id, err := parseID(env, env.Args[0])
	if err != nil {
		return err
	}
	s, err := attachParticipant(env, false)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.store.JoinDialog(id, s.store.ProcessID())
}

func runSend(env *command.Env) error {
	if len(env.Args) < 2 {
		return env.Usagef("missing dialog ID or text")
	}
	id, err := parseID(env, env.Args[0])
	if err != nil {
		return err
	}
	s, err := attach(false)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.store.Send(id, strings.Join(env.Args[1:], " "))
}

func runRecv(env *command.Env) error {
	if len(env.Args) != 1 {
		return env.Usagef("wrong number of arguments")
	}
	id, err := parseID(env, env.Args[0])
	if err != nil {
		return err
	}
	s, err := attach(false)
	if err != nil {
		return err
	}
	defer s.Close()

	rep, err := s.store.Receive(id, s.store.ProcessID())
	if err != nil {
		return err
	}
	printReport(os.Stdout, rep)
	return nil
}

func runList(env *command.Env) error {
	if len(env.Args) != 0 {
		return env.Usagef("extra arguments: %q", env.Args)
	}
	s, err := attach(false)
	if err != nil {
		return err
	}
	defer s.Close()

	dialogs, err := s.store.ListActiveDialogs()
	if err != nil {
		return err
	}
	printDialogs(os.Stdout, dialogs)
	return nil
}

func runPending(env *command.Env) error {
	var id int
	switch len(env.Args) {
	case 0:
	case 1:
		v, err := parseID(env, env.Args[0])
		if err != nil {
			return err
		}
		id = v
	default:
		return env.Usagef("extra arguments: %q", env.Args[1:])
	}
	s, err := attach(false)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := s.store.Pending(id)
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}

func runCleanup(env *command.Env) error {
	if len(env.Args) != 0 {
		return env.Usagef("extra arguments: %q", env.Args)
	}
	cfg, log, err := settings()
	if err != nil {
		return err
	}
	defer log.Sync()
	return palaver.Destroy(cfg.Options(log))
}

func runChat(env *command.Env) error {
	if len(env.Args) > 1 {
		return env.Usagef("extra arguments: %q", env.Args[1:])
	}
	var id int
	if len(env.Args) == 1 {
		v, err := parseID(env, env.Args[0])
		if err != nil {
			return err
		}
		id = v
	}

	s, err := attach(id == 0)
	if err != nil {
		return err
	}
	defer s.Close()
	pid := s.store.ProcessID()

	if id == 0 {
		id, err = s.store.CreateDialog(pid)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Created dialog %d; others may join with: %s chat %d\n", id, filepath.Base(os.Args[0]), id)
	} else if err := s.store.JoinDialog(id, pid); err != nil && !errors.Is(err, palaver.ErrAlreadyJoined) {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	return chat(ctx, s, id, os.Stdin, os.Stdout)
}

// chat sends each line of in as a message to dialog id, and prints the
// messages delivered to the session to out, until the session receives the
// terminate marker, in ends, or ctx ends.
func chat(ctx context.Context, s *session, id int, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := poll.Start(ctx, s.store, poll.Config{
		DialogID: id,
		PID:      s.store.ProcessID(),
		Every:    s.cfg.Poll,
		Deliver:  func(rep *palaver.Report) { printReport(out, rep) },
		Logger:   s.log,
	})

	// The reader cannot be interrupted, so it is not waited for. If the poller
	// exits first, the reader is abandoned to the end of the process.
	lines := make(chan string)
	taskgroup.Go(func() error {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return nil
			}
		}
		return sc.Err()
	})

	done := make(chan error, 1)
	taskgroup.Go(func() error { done <- p.Wait(); return nil })

	for {
		select {
		case err := <-done:
			return err
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				return p.Stop()
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := s.store.Send(id, line); err != nil {
				if errors.Is(err, palaver.ResourceExhausted) {
					fmt.Fprintf(out, "! %v (try again later)\n", err)
					continue
				}
				cancel()
				p.Wait()
				return err
			}
		}
	}
}

func printReport(w io.Writer, rep *palaver.Report) {
	for _, d := range rep.Delivered {
		fmt.Fprintf(w, "[%d] %s\n", d.Sender, value.Cond(d.IsTerminate(), "<terminated the dialog>", d.Text))
	}
	switch {
	case rep.Destroyed:
		fmt.Fprintln(w, "* The dialog has ended, and the shared store was removed.")
	case rep.Closed:
		fmt.Fprintln(w, "* The dialog has ended.")
	case rep.Terminated:
		fmt.Fprintln(w, "* You have left the dialog.")
	}
}

func printDialogs(w io.Writer, dialogs []palaver.DialogInfo) {
	if len(dialogs) == 0 {
		fmt.Fprintln(w, "No active dialogs.")
		return
	}
	for _, d := range dialogs {
		var ps []string
		for _, p := range d.Participants {
			ps = append(ps, fmt.Sprintf("%d%s", p.ProcessID, value.Cond(p.Active, "", " (left)")))
		}
		fmt.Fprintf(w, "Dialog %d: %d participant%s: %s\n",
			d.ID, d.Len(), value.Cond(d.Len() == 1, "", "s"), strings.Join(ps, ", "))
	}
}
