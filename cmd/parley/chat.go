// ABOUTME: chat command: interactive terminal client over the chat engine
// ABOUTME: Streams replies from timeline events and handles slash commands

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/parley/internal/chat"
	"github.com/2389/parley/internal/store"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat with the active app",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			r := &repl{
				engine: rt.engine,
				in:     cmd.InOrStdin(),
				out:    cmd.OutOrStdout(),
			}
			return r.run(ctx)
		})
	},
}

// errQuit ends the session without an error exit.
var errQuit = errors.New("quit")

const chatHelp = `Commands:
  /apps              list apps
  /use <id>          switch the active app
  /list              list conversations
  /open <n|id>       open a conversation
  /new               start a new conversation
  /rename <title>    rename the open conversation
  /delete [n|id]     delete a conversation (default: the open one)
  /refresh           reload the conversation list
  /history           reprint the open conversation
  /quit              exit
Anything else is sent to the active app.`

type repl struct {
	engine *chat.Engine
	in     io.Reader
	out    io.Writer
}

func (r *repl) run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r.in)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	r.printStatus()
	color.New(color.FgHiBlack).Fprintln(r.out, "Type /help for commands.")

	for {
		r.printPrompt()
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out)
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		var err error
		if name, arg, ok := parseCommand(line); ok {
			err = r.command(ctx, name, arg)
		} else {
			err = r.send(ctx, line)
		}
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			color.New(color.FgRed).Fprintf(r.out, "error: %v\n", err)
		}
	}
}

func (r *repl) printPrompt() {
	name := "no app"
	if a := r.engine.ActiveApp(); a != nil {
		name = a.Icon + " " + a.Name
	}
	color.New(color.FgCyan).Fprintf(r.out, "%s> ", name)
}

func (r *repl) printStatus() {
	a := r.engine.ActiveApp()
	if a == nil {
		color.New(color.FgYellow).Fprintln(r.out, "No active app. Add one with parley apps add, then /use <id>.")
		return
	}
	fmt.Fprintf(r.out, "App: %s %s (%s)\n", a.Icon, a.Name, a.Kind)
	if id := r.engine.ActiveConversationID(); id != "" {
		for _, c := range r.engine.Conversations() {
			if c.ID == id {
				fmt.Fprintf(r.out, "Conversation: %s\n", c.Title)
			}
		}
	}
}

// parseCommand splits "/name arg..." into its parts.
func parseCommand(line string) (name, arg string, ok bool) {
	if !strings.HasPrefix(line, "/") {
		return "", "", false
	}
	name, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg), name != ""
}

// resolveConversation accepts a 1-based list position or a conversation ID.
func resolveConversation(convs []*store.Conversation, ref string) (string, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(convs) {
			return "", fmt.Errorf("no conversation #%d", n)
		}
		return convs[n-1].ID, nil
	}
	for _, c := range convs {
		if c.ID == ref {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("no conversation %q", ref)
}

func (r *repl) command(ctx context.Context, name, arg string) error {
	switch name {
	case "help", "?":
		fmt.Fprintln(r.out, chatHelp)
	case "quit", "exit", "q":
		return errQuit
	case "apps":
		apps, err := r.engine.ListApps(ctx)
		if err != nil {
			return err
		}
		activeID := ""
		if a := r.engine.ActiveApp(); a != nil {
			activeID = a.ID
		}
		printApps(r.out, apps, activeID)
	case "use":
		if arg == "" {
			return fmt.Errorf("usage: /use <id>")
		}
		if err := r.engine.SetActiveApp(ctx, arg); err != nil {
			return err
		}
		r.printStatus()
	case "list", "ls":
		printConversations(r.out, r.engine.Conversations(), r.engine.ActiveConversationID())
	case "refresh":
		if err := r.engine.RefreshConversations(ctx); err != nil {
			return err
		}
		printConversations(r.out, r.engine.Conversations(), r.engine.ActiveConversationID())
	case "open":
		id, err := resolveConversation(r.engine.Conversations(), arg)
		if err != nil {
			return err
		}
		if err := r.engine.SelectConversation(ctx, id); err != nil {
			return err
		}
		r.printHistory()
	case "new":
		return r.engine.SelectConversation(ctx, "")
	case "rename":
		id := r.engine.ActiveConversationID()
		if id == "" {
			return fmt.Errorf("no conversation is open")
		}
		return r.engine.RenameConversation(ctx, id, arg)
	case "delete", "rm":
		id := r.engine.ActiveConversationID()
		if arg != "" {
			var err error
			if id, err = resolveConversation(r.engine.Conversations(), arg); err != nil {
				return err
			}
		}
		if id == "" {
			return fmt.Errorf("no conversation is open")
		}
		return r.engine.DeleteConversation(ctx, id)
	case "history":
		r.printHistory()
	default:
		return fmt.Errorf("unknown command /%s (try /help)", name)
	}
	return nil
}

func (r *repl) printHistory() {
	you := color.New(color.FgGreen, color.Bold)
	bot := color.New(color.FgMagenta, color.Bold)
	for _, m := range r.engine.Messages() {
		if m.Role == store.RoleUser {
			you.Fprint(r.out, "you: ")
		} else {
			bot.Fprint(r.out, "bot: ")
		}
		fmt.Fprintln(r.out, m.Content)
	}
}

// send starts a send and prints the assistant reply as it streams.
func (r *repl) send(ctx context.Context, content string) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, _ := r.engine.Events().Subscribe(subCtx)

	pending, err := r.engine.Start(ctx, content)
	if err != nil {
		return err
	}

	color.New(color.FgMagenta, color.Bold).Fprint(r.out, "bot: ")
	shown := ""
	emit := func(full string) {
		if strings.HasPrefix(full, shown) {
			fmt.Fprint(r.out, full[len(shown):])
		} else {
			fmt.Fprint(r.out, "\n"+full)
		}
		shown = full
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Type != chat.EventUpdate || ev.Message == nil || ev.Message.ID != pending.AssistantMessageID {
				continue
			}
			// The failure reply is printed once the send reports its error.
			if ev.Message.Content != chat.ErrorContent {
				emit(ev.Message.Content)
			}
		case <-pending.Done():
			result, err := pending.Wait()
			if err != nil {
				if shown != "" {
					fmt.Fprintln(r.out)
				}
				color.New(color.FgRed).Fprintln(r.out, chat.ErrorContent)
				return err
			}
			emit(result.Answer)
			fmt.Fprintln(r.out)
			return nil
		}
	}
}
