package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/chatcache/internal/inference"
	"github.com/samcharles93/chatcache/internal/logger"
	"github.com/samcharles93/chatcache/internal/reasoning"
	"github.com/samcharles93/chatcache/internal/session"
	"github.com/samcharles93/chatcache/internal/snapshot"
)

func chatCmd() *cli.Command {
	var (
		settings      modelSettings
		prompt        string
		image         string
		streamMode    string
		showReasoning bool
		showStats     bool
		rawOutput     bool
	)

	flags := settings.flags()
	flags = append(flags,
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "send one message and exit",
			Destination: &prompt,
		},
		&cli.StringFlag{
			Name:        "image",
			Usage:       "media file for the --prompt message (requires --vision)",
			Destination: &image,
		},
		&cli.StringFlag{
			Name:        "stream-mode",
			Usage:       "output mode (instant, smooth, typewriter, quiet)",
			Value:       string(StreamInstant),
			Destination: &streamMode,
		},
		&cli.BoolFlag{
			Name:        "show-reasoning",
			Usage:       "print <think> blocks (dimmed on terminals)",
			Value:       true,
			Destination: &showReasoning,
		},
		&cli.BoolFlag{
			Name:        "stats",
			Usage:       "print timings after each reply",
			Destination: &showStats,
		},
		&cli.BoolFlag{
			Name:        "raw-output",
			Usage:       "escape control characters in replies",
			Destination: &rawOutput,
		},
	)

	return &cli.Command{
		Name:  "chat",
		Usage: "Chat interactively, reusing the evaluation cache between turns",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			fileConfig.applyChat(cmd, &streamMode, &showReasoning, &showStats)

			cfg, err := settings.resolve(cmd, fileConfig)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			mode, err := ParseStreamMode(streamMode)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			res, err := inference.Load(cfg, log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load: %v", err), 1)
			}
			defer func() { _ = res.Close() }()

			r := &chatREPL{
				sess:          res.Session,
				out:           os.Stdout,
				errOut:        os.Stderr,
				mode:          mode,
				color:         stdoutIsTTY(),
				raw:           rawOutput,
				showReasoning: showReasoning,
				showStats:     showStats,
				log:           log,
			}

			if prompt != "" {
				return r.turn(ctx, prompt, expandPath(image))
			}
			return r.loop(ctx, readInteractiveLine)
		},
	}
}

type chatREPL struct {
	sess   *session.Session
	out    io.Writer
	errOut io.Writer
	log    logger.Logger

	mode          StreamMode
	color         bool
	raw           bool
	showReasoning bool
	showStats     bool

	// pendingMedia is attached to the next message.
	pendingMedia string
	last         *session.Reply
}

func (r *chatREPL) loop(ctx context.Context, readLine func(string) (string, error)) error {
	_, _ = fmt.Fprintln(r.errOut, "Interactive chat. Type /help for commands, /quit to exit.")
	for {
		line, err := readLine("> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		quit, err := r.handle(ctx, line)
		if err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// handle processes one input line. It reports whether the user asked to
// quit.
func (r *chatREPL) handle(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	name, arg, isCmd := parseSlashCommand(line)
	if !isCmd {
		media := r.pendingMedia
		r.pendingMedia = ""
		return false, r.turn(ctx, line, media)
	}

	switch name {
	case "quit", "exit", "q":
		return true, nil
	case "help":
		r.printHelp()
	case "reset":
		if err := r.sess.Reset(); err != nil {
			return false, err
		}
		r.last = nil
		_, _ = fmt.Fprintf(r.errOut, "session reset (%s history)\n", r.sess.Options().ResetPolicy)
	case "image":
		if arg == "" {
			return false, errors.New("usage: /image <path>")
		}
		if !r.sess.HasVision() {
			return false, errors.New("media needs --vision")
		}
		r.pendingMedia = expandPath(arg)
		_, _ = fmt.Fprintf(r.errOut, "attached %s to the next message\n", r.pendingMedia)
	case "save":
		if arg == "" {
			return false, errors.New("usage: /save <path>")
		}
		path := expandPath(arg)
		if err := snapshot.WriteFile(path, snapshot.Capture(r.sess)); err != nil {
			return false, err
		}
		_, _ = fmt.Fprintf(r.errOut, "saved %d messages to %s\n", len(r.sess.History()), path)
	case "load":
		if arg == "" {
			return false, errors.New("usage: /load <path>")
		}
		path := expandPath(arg)
		snap, err := snapshot.ReadFile(path)
		if err != nil {
			return false, err
		}
		if err := snapshot.Apply(r.sess, snap); err != nil {
			return false, err
		}
		r.last = nil
		_, _ = fmt.Fprintf(r.errOut, "loaded %d messages from %s\n", len(snap.History), path)
	case "stats":
		r.printStats()
	case "history":
		r.printHistory()
	default:
		return false, fmt.Errorf("unknown command /%s (try /help)", name)
	}
	return false, nil
}

func (r *chatREPL) turn(ctx context.Context, text, media string) error {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	sw := NewStreamWriter(r.out, r.mode, r.color, r.raw)
	var splitter reasoning.Splitter
	route := func(content, thought string) {
		if r.showReasoning {
			sw.WriteReasoning(thought)
		}
		if content != "" {
			sw.Write(content)
		}
	}

	reply, err := r.sess.Stream(turnCtx, text, media, func(chunk string) {
		route(splitter.Push(chunk))
	})
	route(splitter.Flush())
	sw.Close()
	_, _ = fmt.Fprintln(r.out)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		_, _ = fmt.Fprintln(r.errOut, "[interrupted]")
	}
	r.last = &reply
	r.log.Debug("turn finished",
		"stop", reply.Stop,
		"prompt_units", reply.Stats.PromptUnits,
		"reply_units", reply.Stats.ReplyUnits,
		"resynced", reply.Resynced,
		"media", reply.MediaFingerprint,
	)

	if reply.Overflow {
		_, _ = fmt.Fprintln(r.errOut, "[context full: transcript resubmitted]")
	}
	if media != "" && !reply.MediaUsed {
		_, _ = fmt.Fprintln(r.errOut, "[media could not be loaded, sent text only]")
	}
	if r.showStats {
		r.printStats()
	}
	return nil
}

func (r *chatREPL) printStats() {
	l := r.sess.Ledger()
	opts := r.sess.Options()
	_, _ = fmt.Fprintf(r.errOut, "cache %d/%d units, render offset %d bytes\n", l.CachePosition, opts.ContextSize, l.RenderOffset)
	if r.last == nil {
		return
	}
	st := r.last.Stats
	_, _ = fmt.Fprintf(r.errOut, "prompt %d units %.1f t/s | reply %d units %.1f t/s | stop %s\n",
		st.PromptUnits, st.PromptTPS(), st.ReplyUnits, st.ReplyTPS(), r.last.Stop)
}

func (r *chatREPL) printHistory() {
	hist := r.sess.History()
	if len(hist) == 0 {
		_, _ = fmt.Fprintln(r.errOut, "(empty)")
		return
	}
	width := terminalWidth() - 14
	for i, m := range hist {
		_, _ = fmt.Fprintf(r.errOut, "%3d %-9s %s\n", i+1, m.Role, clip(m.Content, width))
	}
}

func (r *chatREPL) printHelp() {
	_, _ = fmt.Fprint(r.errOut, `commands:
  /reset          clear the cache (and history, depending on --reset-policy)
  /image <path>   attach media to the next message
  /save <path>    write the conversation to a snapshot file
  /load <path>    replace the conversation with a snapshot
  /stats          show cache usage and last turn timings
  /history        list the conversation
  /quit           exit
`)
}

// parseSlashCommand splits "/name arg..." into its parts.
func parseSlashCommand(line string) (name, arg string, ok bool) {
	if !strings.HasPrefix(line, "/") || strings.HasPrefix(line, "//") {
		return "", "", false
	}
	name, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg), true
}

// clip shortens s to width runes on a single line.
func clip(s string, width int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	rs := []rune(s)
	if width < 4 || len(rs) <= width {
		return s
	}
	return string(rs[:width-3]) + "..."
}
