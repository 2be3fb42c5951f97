package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/matheus3301/shopchat/internal/bus"
	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/client"
	"github.com/matheus3301/shopchat/internal/config"
	"github.com/matheus3301/shopchat/internal/session"
	"github.com/matheus3301/shopchat/internal/timeline"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var errUsage = errors.New("usage")

func main() {
	_ = godotenv.Load()

	configFlag := flag.String("config", session.ConfigPath(), "path to config.toml")
	userFlag := flag.String("user", "", "user id (overrides config)")
	hubFlag := flag.String("hub", "", "hub URL (overrides config)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	err := run(*configFlag, *userFlag, *hubFlag, *jsonFlag, args)
	if errors.Is(err, errUsage) {
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatctl [--user <id>] [--hub <url>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  roster                     List counterparts with unread counts")
	fmt.Fprintln(os.Stderr, "  history <peer>             Print the conversation with peer")
	fmt.Fprintln(os.Stderr, "  send <peer> <text>         Send a message")
	fmt.Fprintln(os.Stderr, "  edit <peer> <id> <text>    Edit one of your messages")
	fmt.Fprintln(os.Stderr, "  unsend <peer> <id>         Unsend one of your messages")
	fmt.Fprintln(os.Stderr, "  read <peer>                Mark the conversation read")
	fmt.Fprintln(os.Stderr, "  watch <peer>               Stream the conversation until interrupted")
}

type cli struct {
	c    client.Client
	json bool
}

func run(configPath, userOverride, hubOverride string, jsonOut bool, args []string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	if err := config.ApplyEnv(cfg, os.Getenv); err != nil {
		return err
	}
	if hubOverride != "" {
		cfg.Hub.URL = hubOverride
	}
	user, err := session.Resolve(userOverride, cfg)
	if err != nil {
		return err
	}

	watching := args[0] == "watch"
	var c client.Client
	app := fx.New(
		client.Module(client.Params{Config: cfg, User: chat.UserID(user), Headless: !watching}),
		client.Into(&c),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if !watching {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
	}

	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	x := &cli{c: c, json: jsonOut}
	switch args[0] {
	case "roster":
		return x.roster(ctx)
	case "history":
		if len(args) != 2 {
			return errUsage
		}
		return x.history(ctx, chat.UserID(args[1]))
	case "send":
		if len(args) < 3 {
			return errUsage
		}
		return x.send(ctx, chat.UserID(args[1]), strings.Join(args[2:], " "))
	case "edit":
		if len(args) < 4 {
			return errUsage
		}
		return x.edit(ctx, chat.UserID(args[1]), args[2], strings.Join(args[3:], " "))
	case "unsend":
		if len(args) != 3 {
			return errUsage
		}
		return x.unsend(ctx, chat.UserID(args[1]), args[2])
	case "read":
		if len(args) != 2 {
			return errUsage
		}
		return x.read(ctx, chat.UserID(args[1]))
	case "watch":
		if len(args) != 2 {
			return errUsage
		}
		return x.watch(ctx, chat.UserID(args[1]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		return errUsage
	}
}

func (x *cli) roster(ctx context.Context) error {
	entries, err := x.c.Roster.Fetch(ctx)
	if err != nil {
		return err
	}
	if x.json {
		outputJSON(entries)
		return nil
	}
	if len(entries) == 0 {
		fmt.Println("No other users yet.")
		return nil
	}
	for _, e := range entries {
		dot := "○"
		if e.IsOnline {
			dot = "●"
		}
		unread := ""
		if e.UnreadCount > 0 {
			unread = fmt.Sprintf("(%d)", e.UnreadCount)
		}
		fmt.Printf("%s %-24s %-6s %s\n", dot, e.Name(), unread, e.UserID)
	}
	return nil
}

// open opens the conversation with peer. Commands that only look at or
// change self's messages leave inbound rows unread.
func (x *cli) open(ctx context.Context, peer chat.UserID, markRead bool) error {
	if err := chat.ValidateUserID(peer); err != nil {
		return err
	}
	x.c.Foreground.Set(markRead)
	return x.c.Controller.Open(ctx, peer)
}

func (x *cli) history(ctx context.Context, peer chat.UserID) error {
	if err := x.open(ctx, peer, false); err != nil && chat.KindOf(err) != chat.KindSubscription {
		return err
	}
	entries := x.c.Controller.Messages()
	if x.json {
		out := make([]messageOut, 0, len(entries))
		for _, e := range entries {
			out = append(out, newMessageOut(e))
		}
		outputJSON(out)
		return nil
	}
	for _, e := range entries {
		x.printEntry(e)
	}
	return nil
}

func (x *cli) send(ctx context.Context, peer chat.UserID, text string) error {
	if err := x.open(ctx, peer, false); err != nil && chat.KindOf(err) != chat.KindSubscription {
		return err
	}
	m, err := x.c.Controller.Send(ctx, text)
	if err != nil {
		return err
	}
	return x.result(m)
}

func (x *cli) edit(ctx context.Context, peer chat.UserID, id, text string) error {
	if err := x.open(ctx, peer, false); err != nil && chat.KindOf(err) != chat.KindSubscription {
		return err
	}
	m, err := x.c.Controller.Edit(ctx, id, text)
	if err != nil {
		return err
	}
	return x.result(m)
}

func (x *cli) unsend(ctx context.Context, peer chat.UserID, id string) error {
	if err := x.open(ctx, peer, false); err != nil && chat.KindOf(err) != chat.KindSubscription {
		return err
	}
	m, err := x.c.Controller.Unsend(ctx, id)
	if err != nil {
		return err
	}
	return x.result(m)
}

func (x *cli) read(ctx context.Context, peer chat.UserID) error {
	if err := x.open(ctx, peer, false); err != nil && chat.KindOf(err) != chat.KindSubscription {
		return err
	}
	x.c.Foreground.Set(true)
	n, err := x.c.Controller.MarkConversationRead(ctx)
	if err != nil {
		return err
	}
	if x.json {
		outputJSON(map[string]int{"marked": n})
		return nil
	}
	fmt.Printf("Marked %d message(s) read.\n", n)
	return nil
}

// watch prints the conversation, then every new or changed row until ctx ends.
func (x *cli) watch(ctx context.Context, peer chat.UserID) error {
	events, unsub := x.c.Bus.Subscribe("", 128)
	defer unsub()

	if err := x.open(ctx, peer, true); err != nil {
		if chat.KindOf(err) != chat.KindSubscription {
			return err
		}
		fmt.Fprintln(os.Stderr, "warning: live updates unavailable")
	}

	printed := make(map[string]time.Time)
	flush := func() {
		for _, e := range x.c.Controller.Messages() {
			if at, ok := printed[e.ID]; ok && !e.UpdatedAt.After(at) {
				continue
			}
			if chat.IsPending(e.Delivery) {
				continue
			}
			printed[e.ID] = e.UpdatedAt
			if x.json {
				outputJSON(newMessageOut(e))
			} else {
				x.printEntry(e)
			}
		}
	}
	flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-events:
			switch evt.Kind {
			case bus.KindConversationChanged:
				flush()
			case bus.KindNoticeError:
				if n, ok := evt.Payload.(bus.Notice); ok {
					fmt.Fprintf(os.Stderr, "! %s\n", n.Text)
					x.c.Logger.Warn("notice", zap.String("text", n.Text), zap.Error(n.Err))
				}
			}
		}
	}
}

func (x *cli) result(m chat.Message) error {
	if x.json {
		outputJSON(m)
		return nil
	}
	fmt.Println(m.ID)
	return nil
}

func (x *cli) printEntry(e timeline.Entry) {
	who := string(e.SenderID)
	if e.SenderID == x.c.Self {
		who = "you"
	}
	body := e.Body
	var tags []string
	switch {
	case e.IsDeleted:
		body = chat.Tombstone
	case e.IsEdited:
		tags = append(tags, "edited")
	}
	if e.SenderID == x.c.Self && e.ReadAt != nil {
		tags = append(tags, "read")
	}
	if _, failed := e.Delivery.(chat.Failed); failed {
		tags = append(tags, "failed")
	}
	suffix := ""
	if len(tags) > 0 {
		suffix = " [" + strings.Join(tags, ", ") + "]"
	}
	fmt.Printf("%s  %s  %-10s %s%s\n", e.CreatedAt.Local().Format("2006-01-02 15:04"), e.ID, who, body, suffix)
}

type messageOut struct {
	chat.Message
	Delivery string `json:"delivery"`
}

func newMessageOut(e timeline.Entry) messageOut {
	d := ""
	if e.Delivery != nil {
		d = fmt.Sprint(e.Delivery)
	}
	return messageOut{Message: e.Message, Delivery: d}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
