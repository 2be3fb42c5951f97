// Package tui is the interactive terminal client.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/shopchat/internal/bus"
	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/client"
	"github.com/matheus3301/shopchat/internal/presence"
	"github.com/matheus3301/shopchat/internal/subscription"
	"github.com/matheus3301/shopchat/internal/tui/keys"
	"github.com/matheus3301/shopchat/internal/tui/model"
	"github.com/matheus3301/shopchat/internal/tui/ui"
	"github.com/matheus3301/shopchat/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const (
	pageRoster = "roster"
	pageThread = "thread"
	pageHelp   = "help"
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	pages    *ui.Pages
	body     *tview.Flex
	info     *ui.Info
	menu     *ui.Menu
	crumbs   *ui.Crumbs
	prompt   *ui.Prompt
	flash    *ui.FlashModel
	roster   *views.RosterList
	thread   *views.Thread
	help     *views.HelpView
	status   *views.StatusBar
	registry *keys.Registry

	vm         *model.ViewModel
	bus        *bus.Bus
	foreground *client.Foreground
	logger     *zap.Logger
	hub        string
	prompting  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI over an assembled client.
func NewApp(c client.Client, hubURL string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:        tview.NewApplication(),
		theme:      theme,
		pages:      ui.NewPages(),
		info:       ui.NewInfo(theme),
		menu:       ui.NewMenu(theme),
		crumbs:     ui.NewCrumbs(theme),
		prompt:     ui.NewPrompt(theme),
		flash:      ui.NewFlashModel(nil),
		roster:     views.NewRosterList(theme),
		thread:     views.NewThread(theme),
		help:       views.NewHelpView(theme),
		status:     views.NewStatusBar(theme),
		registry:   keys.NewRegistry(),
		vm:         model.NewViewModel(c.Controller, c.Roster),
		bus:        c.Bus,
		foreground: c.Foreground,
		logger:     c.Logger,
		hub:        hubURL,
		ctx:        ctx,
		cancel:     cancel,
	}

	a.status.SetUser(string(c.Self))
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	a.registry.Global(keys.Rune(':', func() { a.showPrompt(ui.PromptCommand) }))
	a.registry.Global(keys.Rune('?', func() { a.pages.Push(pageHelp) }))
	a.registry.Global(keys.Key(tcell.KeyEscape, a.back))
	a.registry.Global(keys.Rune('q', a.back))

	a.registry.Page(pageRoster, keys.Rune('q', a.Stop))
	a.registry.Page(pageRoster, keys.Rune('/', func() { a.showPrompt(ui.PromptFilter) }))
	a.registry.Page(pageRoster, keys.Rune('r', a.reloadRoster))
	for i := 1; i <= 9; i++ {
		n := i
		a.registry.Page(pageRoster, keys.Rune(rune('0'+n), func() {
			if u := a.roster.UserAt(n); u != "" {
				a.openConversation(u)
			}
		}))
	}

	a.registry.Page(pageThread, keys.Rune('i', func() { a.app.SetFocus(a.thread.Composer()) }))
	a.registry.Page(pageThread, keys.Rune('R', func() { a.run(Command{Name: "read"}) }))
}

func (a *App) setupCallbacks() {
	a.roster.SetSelectedFunc(func(row, _ int) {
		if u := a.roster.UserAt(row); u != "" {
			a.openConversation(u)
		}
	})

	a.thread.SetOnSubmit(func(text string) {
		if cmd, ok := composerCommand(text); ok {
			a.run(cmd)
			return
		}
		text = strings.TrimPrefix(text, ":")
		go func() {
			if err := a.vm.Send(a.ctx, text); err != nil {
				a.logger.Debug("send failed", zap.Error(err))
			}
		}()
	})
	a.thread.SetOnChange(func(text string) {
		go a.vm.Draft(a.ctx, text)
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		switch mode {
		case ui.PromptFilter:
			a.roster.SetFilter(strings.TrimSpace(text))
		default:
			if strings.TrimSpace(text) != "" {
				a.run(ParseCommand(text))
			}
		}
	})
	a.prompt.SetOnCancel(a.hidePrompt)

	a.pages.SetOnChange(func(stack []string) {
		front := stack[len(stack)-1]
		a.foreground.Set(front == pageThread)

		labels := make([]string, 0, len(stack))
		for _, name := range stack {
			labels = append(labels, a.page(name).Crumb())
		}
		a.crumbs.Update(labels)
		a.menu.Update(a.page(front).Hints())

		switch front {
		case pageRoster:
			a.app.SetFocus(a.roster)
		case pageThread:
			a.app.SetFocus(a.thread.Messages())
		case pageHelp:
			a.app.SetFocus(a.help)
		}
	})
}

func (a *App) page(name string) ui.Page {
	switch name {
	case pageThread:
		return a.thread
	case pageHelp:
		return a.help
	default:
		return a.roster
	}
}

func (a *App) setupLayout() {
	header := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(a.info, 0, 2, false).
		AddItem(a.menu, 0, 2, false).
		AddItem(ui.NewLogo(a.theme), 14, 0, false)

	a.pages.AddPage(pageRoster, a.roster, true, false)
	a.pages.AddPage(pageThread, a.thread, true, false)
	a.pages.AddPage(pageHelp, a.help, true, false)

	a.body = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 4, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.status, 1, 0, false)

	a.app.SetRoot(a.body, true)
	a.pages.Reset(pageRoster)
	a.info.Update(ui.InfoData{User: string(a.vm.Self()), Hub: a.hub})

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		focused := a.app.GetFocus()
		if focused == a.thread.Composer() {
			if event.Key() == tcell.KeyEscape {
				a.app.SetFocus(a.thread.Messages())
				return nil
			}
			return event
		}
		// Text inputs handle their own keys.
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}
		if a.registry.HandleEvent(a.pages.Current(), event) {
			return nil
		}
		return event
	})
}

func (a *App) showPrompt(mode ui.PromptMode) {
	if a.prompting {
		return
	}
	a.prompting = true
	a.prompt.Activate(mode)
	a.body.AddItem(a.prompt, 3, 0, false)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	if !a.prompting {
		return
	}
	a.prompting = false
	a.body.RemoveItem(a.prompt)
	a.app.SetFocus(a.focusTarget())
}

func (a *App) focusTarget() tview.Primitive {
	switch a.pages.Current() {
	case pageThread:
		return a.thread.Messages()
	case pageHelp:
		return a.help
	default:
		return a.roster
	}
}

// back pops the front page. Leaving a conversation closes it; returning to
// one marks what arrived meanwhile read.
func (a *App) back() {
	if a.pages.Pop() == pageThread {
		go func() {
			a.vm.Close()
			a.reloadRoster()
		}()
		a.status.SetState(subscription.Idle)
		return
	}
	if a.pages.Current() == pageThread {
		go func() {
			if n, _ := a.vm.Resume(a.ctx); n > 0 {
				a.reloadRoster()
			}
		}()
	}
}

func (a *App) openConversation(u chat.UserID) {
	a.thread.Reset()
	a.thread.SetPeer(a.vm.Name(u))
	a.pages.Push(pageThread)

	go func() {
		if err := a.vm.Open(a.ctx, u); err != nil {
			a.logger.Warn("open conversation", zap.String("counterpart", string(u)), zap.Error(err))
		}
		a.app.QueueUpdateDraw(a.refreshThread)
		a.reloadRoster()
	}()
}

// run executes a command from the prompt or the composer. Controller
// failures already reach the status bar through the bus.
func (a *App) run(cmd Command) {
	var fn func() error
	switch cmd.Name {
	case "q", "quit":
		a.Stop()
		return
	case "h", "help":
		a.pages.Push(pageHelp)
		return
	case "refresh":
		a.reloadRoster()
		return
	case "filter":
		a.roster.SetFilter(cmd.Args)
		return
	case "open":
		if err := chat.ValidateUserID(chat.UserID(cmd.Args)); err != nil {
			a.flash.Err(err.Error())
			return
		}
		a.openConversation(chat.UserID(cmd.Args))
		return
	case "read":
		fn = func() error {
			n, err := a.vm.MarkRead(a.ctx)
			if err == nil && n > 0 {
				a.flash.Info("Marked read")
			}
			return err
		}
	case "edit":
		n, text, err := cmd.Row()
		if err != nil {
			a.flash.Err(err.Error())
			return
		}
		fn = func() error { return a.vm.Edit(a.ctx, n, text) }
	case "unsend":
		n, _, err := cmd.Row()
		if err != nil {
			a.flash.Err(err.Error())
			return
		}
		fn = func() error { return a.vm.Unsend(a.ctx, n) }
	default:
		a.flash.Warn("Unknown command :" + cmd.Name)
		return
	}

	go func() {
		err := fn()
		if err != nil && (errors.Is(err, model.ErrNoRow) || chat.KindOf(err) == chat.KindUnknown) {
			a.flash.Err(err.Error())
		}
		a.app.QueueUpdateDraw(a.refreshStatus)
	}()
}

func (a *App) reloadRoster() {
	go func() {
		if err := a.vm.LoadRoster(a.ctx); err != nil {
			a.flash.Err("Could not load the roster")
			a.logger.Warn("roster fetch", zap.Error(err))
			return
		}
		a.app.QueueUpdateDraw(func() {
			entries := a.vm.Roster()
			a.roster.Update(entries)
			data := ui.InfoData{User: string(a.vm.Self()), Hub: a.hub}
			for _, e := range entries {
				if e.IsOnline {
					data.Online++
				}
				data.Unread += e.UnreadCount
			}
			a.info.Update(data)
		})
	}()
}

func (a *App) refreshThread() {
	if a.pages.Current() != pageThread {
		return
	}
	a.thread.Update(a.vm.Rows(), a.vm.Typing())
}

func (a *App) refreshStatus() {
	a.status.SetFlash(a.flash.Current())
}

// watch turns bus events into redraws until the app stops.
func (a *App) watch() {
	events, unsub := a.bus.Subscribe("", 128)
	defer unsub()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.app.QueueUpdateDraw(a.refreshStatus)
		case evt := <-events:
			a.handle(evt)
		}
	}
}

func (a *App) handle(evt bus.Event) {
	switch evt.Kind {
	case bus.KindConversationChanged:
		if peer, _ := a.vm.Counterpart(); evt.Payload == peer {
			a.app.QueueUpdateDraw(a.refreshThread)
		}
	case bus.KindTyping:
		if tc, ok := evt.Payload.(presence.TypingChanged); ok {
			if peer, _ := a.vm.Counterpart(); tc.UserID == peer {
				a.app.QueueUpdateDraw(a.refreshThread)
			}
		}
	case bus.KindSubscriptionState:
		if sc, ok := evt.Payload.(subscription.StateChange); ok {
			a.app.QueueUpdateDraw(func() { a.status.SetState(sc.To) })
		}
	case bus.KindNoticeError:
		if n, ok := evt.Payload.(bus.Notice); ok {
			a.flash.Err(n.Text)
			a.app.QueueUpdateDraw(a.refreshStatus)
		}
	case bus.KindNoticeMessage:
		if n, ok := evt.Payload.(bus.Notice); ok {
			a.flash.Info(n.Text)
			a.app.QueueUpdateDraw(a.refreshStatus)
		}
	case bus.KindRosterChanged:
		a.reloadRoster()
	}
}

// Run starts the TUI and blocks until it exits.
func (a *App) Run() error {
	go a.watch()
	a.reloadRoster()
	return a.app.Run()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
