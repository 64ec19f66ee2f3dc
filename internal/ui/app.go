package ui

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/segcache/internal/prefs"
	"github.com/five82/segcache/internal/store"
	"github.com/five82/segcache/internal/view"
)

// Options configures the UI.
type Options struct {
	Context   context.Context
	Store     *store.Store
	Bindings  []view.Binding
	Prefs     prefs.Prefs
	PrefsPath string
	Logger    *slog.Logger
}

// Model is the root application state for Bubble Tea.
type Model struct {
	ctx       context.Context
	store     *store.Store
	bindings  []view.Binding
	prefs     prefs.Prefs
	prefsPath string
	logger    *slog.Logger

	theme    view.Theme
	styles   view.Styles
	keys     keyMap
	spinner  spinner.Model
	viewport viewport.Model
	width    int
	height   int
	ready    bool
	showHelp bool

	changes    chan struct{}
	subs       []*store.Subscription
	lastChange time.Time
	status     string
}

// New creates a new Bubble Tea model.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	prefsPath := opts.PrefsPath
	if prefsPath == "" {
		prefsPath = prefs.DefaultPath()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	theme := view.GetTheme(opts.Prefs.Theme)

	return Model{
		ctx:       ctx,
		store:     opts.Store,
		bindings:  opts.Bindings,
		prefs:     opts.Prefs,
		prefsPath: prefsPath,
		logger:    logger,
		theme:     theme,
		styles:    theme.Styles(),
		keys:      defaultKeyMap(),
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
		changes:   make(chan struct{}, 1),
	}
}

// Messages

type subscribedMsg struct {
	subs []*store.Subscription
	err  error
}

type changeMsg struct{}

type statusMsg string

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		subscribeCmd(m.ctx, m.store, m.bindings, m.changes),
		waitForChangeCmd(m.ctx, m.changes),
	)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		bodyHeight := max(msg.Height-2, 1)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, bodyHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = bodyHeight
		}
		m.refreshContent()
		return m, nil

	case subscribedMsg:
		m.subs = append(m.subs, msg.subs...)
		if msg.err != nil {
			m.status = "watch failed: " + msg.err.Error()
		}
		m.refreshContent()
		return m, nil

	case changeMsg:
		m.lastChange = time.Now()
		m.refreshContent()
		return m, waitForChangeCmd(m.ctx, m.changes)

	case statusMsg:
		m.status = string(msg)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.anyPending() {
			m.refreshContent()
		}
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}
	return m.renderHeader() + "\n" + m.viewport.View() + "\n" + m.renderFooter()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		m.showHelp = false
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		for _, sub := range m.subs {
			sub.Close()
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		return m, refreshCmd(m.ctx, m.store)

	case key.Matches(msg, m.keys.Clear):
		return m, clearCmd(m.ctx, m.store)

	case key.Matches(msg, m.keys.CycleTheme):
		m.theme = view.GetTheme(view.NextTheme(m.theme.Name))
		m.styles = m.theme.Styles()
		m.prefs.Theme = m.theme.Name
		m.savePrefs()
		m.refreshContent()
		return m, nil

	case key.Matches(msg, m.keys.ToggleQueryIDs):
		m.prefs.ShowQueryIDs = !m.prefs.ShowQueryIDs
		m.savePrefs()
		m.refreshContent()
		return m, nil
	}

	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) savePrefs() {
	if m.prefsPath == "" {
		return
	}
	if err := prefs.Save(m.prefsPath, m.prefs); err != nil {
		m.logger.Warn("save prefs failed", slog.String("error", err.Error()))
	}
}

func (m *Model) refreshContent() {
	if !m.ready || m.store == nil {
		return
	}
	m.viewport.SetContent(view.Render(m.styles, view.Items(m.store, m.bindings), view.RenderOptions{
		Width:        max(m.width-2, 0),
		ShowQueryIDs: m.prefs.ShowQueryIDs,
		Spinner:      m.spinner.View(),
	}))
}

func (m Model) anyPending() bool {
	if m.store == nil {
		return false
	}
	for _, item := range view.Items(m.store, m.bindings) {
		if item.Piece == nil || item.Piece.Pending() {
			return true
		}
	}
	return false
}

func (m Model) renderHeader() string {
	title := fmt.Sprintf("segcache  %d panels  %s", len(m.bindings), m.store.Mode())
	if failures := m.store.Failures(); failures > 0 {
		title += "  " + m.styles.DangerText.Render(fmt.Sprintf("%d failed", failures))
	}
	if inflight := m.store.InFlight(); inflight > 0 {
		title += "  " + m.styles.WarningText.Render(fmt.Sprintf("%d fetching", inflight))
	}
	return m.styles.Header.Width(m.width).Render(title)
}

func (m Model) renderFooter() string {
	text := "r refresh  c clear  i ids  T theme  ? help  q quit"
	if m.status != "" {
		text = m.status + "  |  " + text
	}
	if !m.lastChange.IsZero() {
		text += "  |  changed " + m.lastChange.Format("15:04:05")
	}
	return m.styles.Footer.Width(m.width).Render(text)
}

// Commands

// subscribeCmd watches every binding. Change callbacks only signal; the model
// reads pieces from the store when it handles the signal.
func subscribeCmd(ctx context.Context, s *store.Store, bindings []view.Binding, changes chan<- struct{}) tea.Cmd {
	return func() tea.Msg {
		if s == nil {
			return subscribedMsg{}
		}
		notify := func(store.Change) {
			select {
			case changes <- struct{}{}:
			default:
			}
		}
		var msg subscribedMsg
		for _, b := range bindings {
			sub, err := b.Watch(ctx, s, notify)
			if err != nil {
				msg.err = err
				continue
			}
			msg.subs = append(msg.subs, sub)
		}
		return msg
	}
}

func waitForChangeCmd(ctx context.Context, changes <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-changes:
			return changeMsg{}
		case <-ctx.Done():
			return nil
		}
	}
}

func refreshCmd(ctx context.Context, s *store.Store) tea.Cmd {
	return func() tea.Msg {
		if s == nil {
			return nil
		}
		return statusMsg(fmt.Sprintf("refreshing %d queries", s.Refresh(ctx)))
	}
}

func clearCmd(ctx context.Context, s *store.Store) tea.Cmd {
	return func() tea.Msg {
		if s == nil {
			return nil
		}
		if err := s.ClearAll(ctx); err != nil {
			return statusMsg("clear failed: " + err.Error())
		}
		return statusMsg(fmt.Sprintf("cleared, reloading %d queries", s.Refresh(ctx)))
	}
}

// Run starts the Bubble Tea program.
func Run(opts Options) error {
	m := New(opts)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(m.ctx))
	_, err := p.Run()
	return err
}
