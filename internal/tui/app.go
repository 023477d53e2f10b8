package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/convsync/internal/tui/client"
	"github.com/matheus3301/convsync/internal/tui/keys"
	"github.com/matheus3301/convsync/internal/tui/model"
	"github.com/matheus3301/convsync/internal/tui/ui"
	"github.com/matheus3301/convsync/internal/tui/views"
	"github.com/rivo/tview"
)

const (
	pageChats = "chats"
	pageChat  = "chat"
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	vm        *model.ViewModel
	daemon    *client.Client
	registry  *keys.Registry
	theme     *ui.Theme
	statusBar *views.StatusBar
	chatList  *views.ChatList
	msgView   *views.MessageView
	composer  *views.Composer
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c *client.Client, profileName string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        model.NewViewModel(c.Chat),
		daemon:    c,
		registry:  keys.NewRegistry(),
		theme:     theme,
		statusBar: views.NewStatusBar(theme),
		chatList:  views.NewChatList(theme),
		msgView:   views.NewMessageView(theme),
		composer:  views.NewComposer(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetProfile(profileName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
	a.registry.AddGlobal("reconnect", &keys.Action{
		Rune: 'R', Key: tcell.KeyRune,
		Description: "R:reconnect", Visible: true,
		Handler: func() { a.async("Reconnect", a.vm.Reconnect) },
	})
	a.registry.AddGlobal("help", &keys.Action{
		Rune: '?', Key: tcell.KeyRune,
		Description: "?:help", Visible: true,
		Handler: func() {
			a.vm.Flash.Set("/new <user>  /retry [id]  /reconnect  //text sends /text", 8*time.Second)
			a.statusBar.SetFlash(a.vm.Flash.Get())
		},
	})
	a.registry.AddView(pageChats, "refresh", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:refresh", Visible: true,
		Handler: func() { a.async("Refresh", a.vm.LoadSummaries) },
	})
	a.registry.AddView(pageChat, "compose", &keys.Action{
		Rune: 'i', Key: tcell.KeyRune,
		Description: "i:compose", Visible: true,
		Handler: func() { a.app.SetFocus(a.composer.InputField) },
	})
}

func (a *App) setupCallbacks() {
	a.chatList.SetSelectedFunc(func(row, col int) {
		if id := a.chatList.SelectedChat(); id != "" {
			a.openChat(id)
		}
	})

	a.composer.SetOnSend(func(text string) {
		if cmd, ok := ParseCommand(text); ok {
			a.runCommand(cmd)
			return
		}
		text = MessageText(text)
		a.async("Send", func(ctx context.Context) error {
			return a.vm.SendText(ctx, text)
		})
	})
}

// runCommand executes a slash command typed in the composer.
func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "new":
		if cmd.Args == "" {
			a.flash("usage: /new <user-id>")
			return
		}
		a.async("Create", func(ctx context.Context) error {
			if err := a.vm.Create(ctx, cmd.Args); err != nil {
				return err
			}
			a.app.QueueUpdateDraw(a.showChat)
			return nil
		})
	case "retry":
		a.async("Retry", func(ctx context.Context) error {
			n, err := a.vm.RetryFailed(ctx, cmd.Args)
			a.vm.Flash.Set(fmt.Sprintf("Re-queued %d message(s)", n), 3*time.Second)
			return err
		})
	case "reconnect":
		a.async("Reconnect", a.vm.Reconnect)
	case "refresh":
		a.async("Refresh", a.vm.LoadMessages)
	default:
		a.flash("unknown command: " + CommandPrefix + cmd.Name)
	}
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage(pageChats, a.chatList, true, true)
	a.pages.AddPage(pageChat, chatFlex, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)
	a.statusBar.SetHints(a.registry.Hints(pageChats))

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape && currentPage == pageChat {
			a.showList()
			return nil
		}

		// Let text input widgets handle all keys normally.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}
		return event
	})
}

func (a *App) openChat(id string) {
	go func() {
		if err := a.vm.Open(a.ctx, id); err != nil {
			a.vm.Flash.Set("Open failed: "+err.Error(), 5*time.Second)
			a.app.QueueUpdateDraw(a.redraw)
			return
		}
		a.app.QueueUpdateDraw(a.showChat)
	}()
}

func (a *App) showChat() {
	a.msgView.SetChatName(a.vm.ActiveName())
	a.redraw()
	a.pages.SwitchToPage(pageChat)
	a.statusBar.SetHints(a.registry.Hints(pageChat))
	a.app.SetFocus(a.composer.InputField)
}

func (a *App) showList() {
	a.pages.SwitchToPage(pageChats)
	a.statusBar.SetHints(a.registry.Hints(pageChats))
	a.app.SetFocus(a.chatList)
}

// redraw copies the view model into the widgets. Must run on the UI goroutine.
func (a *App) redraw() {
	st := a.vm.Status()
	a.chatList.Update(a.vm.Summaries())
	a.msgView.Update(a.vm.Messages(), st.LocalUserID)
	a.statusBar.SetStatus(st)
	a.statusBar.SetFlash(a.vm.Flash.Get())
}

// async runs fn off the UI goroutine and flashes its error.
func (a *App) async(what string, fn func(context.Context) error) {
	go func() {
		if err := fn(a.ctx); err != nil {
			a.vm.Flash.Set(what+" failed: "+err.Error(), 5*time.Second)
		}
		_ = a.vm.LoadStatus(a.ctx)
		a.app.QueueUpdateDraw(a.redraw)
	}()
}

func (a *App) flash(msg string) {
	a.vm.Flash.Set(msg, 5*time.Second)
	a.statusBar.SetFlash(a.vm.Flash.Get())
}

// Run starts the TUI application.
func (a *App) Run() error {
	go func() {
		_ = a.vm.LoadStatus(a.ctx)
		if err := a.vm.LoadSummaries(a.ctx); err != nil {
			a.vm.Flash.Set("Daemon unreachable: "+err.Error(), 10*time.Second)
		}
		a.app.QueueUpdateDraw(a.redraw)

		go a.watchEvents()
		go a.redrawLoop()
		a.startRefreshLoop()
	}()

	return a.app.Run()
}

// watchEvents reloads the view whenever the daemon reports a change. The
// stream is re-opened after errors; the ticker covers the gaps.
func (a *App) watchEvents() {
	for a.ctx.Err() == nil {
		stream, err := a.daemon.Chat.WatchEvents(a.ctx)
		if err == nil {
			for {
				evt, err := stream.Recv()
				if err != nil {
					break
				}
				a.reload(strings.HasPrefix(evt.Kind, "view.") || evt.ConversationID == a.vm.ActiveID())
			}
		}
		select {
		case <-a.ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (a *App) reload(messages bool) {
	_ = a.vm.LoadStatus(a.ctx)
	_ = a.vm.LoadSummaries(a.ctx)
	if messages {
		_ = a.vm.LoadMessages(a.ctx)
	}
}

// redrawLoop coalesces view model refresh signals into draws.
func (a *App) redrawLoop() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.vm.RefreshCh():
			a.app.QueueUpdateDraw(a.redraw)
		}
	}
}

func (a *App) startRefreshLoop() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.reload(true)
				a.app.QueueUpdateDraw(a.redraw)
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
