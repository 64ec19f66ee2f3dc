package view

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RenderOptions tune Render for the server printout or the client screen.
type RenderOptions struct {
	Width        int    // panel width; zero sizes panels to their content
	ShowQueryIDs bool   // print the query identity under each title
	Pending      string // text for pieces without data; defaults to "loading"
	Spinner      string // prefix for pending text, e.g. a spinner frame
}

// Render draws every item as a bordered panel, one under another.
func Render(styles Styles, items []Item, opts RenderOptions) string {
	if len(items) == 0 {
		return styles.MutedText.Render("no panels")
	}
	panels := make([]string, 0, len(items))
	for _, item := range items {
		panels = append(panels, renderPanel(styles, item, opts))
	}
	return lipgloss.JoinVertical(lipgloss.Left, panels...)
}

func renderPanel(styles Styles, item Item, opts RenderOptions) string {
	lines := []string{styles.Title.Render(item.Title)}
	if opts.ShowQueryIDs {
		lines = append(lines, styles.FaintText.Render(truncate(item.QueryID, innerWidth(opts.Width))))
	}
	lines = append(lines, renderBody(styles, item, opts)...)

	panel := styles.Panel
	if opts.Width > 0 {
		panel = panel.Width(opts.Width)
	}
	return panel.Render(strings.Join(lines, "\n"))
}

func renderBody(styles Styles, item Item, opts RenderOptions) []string {
	p := item.Piece
	switch {
	case p == nil || p.Pending():
		pending := opts.Pending
		if pending == "" {
			pending = "loading"
		}
		if opts.Spinner != "" {
			pending = opts.Spinner + " " + pending
		}
		return []string{styles.MutedText.Render(pending)}
	case p.Failed():
		return []string{styles.DangerText.Render("error: " + p.Err.Message)}
	}

	lines := formatData(styles, p.Data)
	if !p.Updated.IsZero() {
		lines = append(lines, styles.FaintText.Render("updated "+p.Updated.Local().Format("15:04:05")))
	}
	return lines
}

// formatData prints maps as sorted key: value lines and lists as bullets.
func formatData(styles Styles, data any) []string {
	switch v := data.(type) {
	case nil:
		return []string{styles.MutedText.Render("(empty)")}
	case map[string]any:
		if len(v) == 0 {
			return []string{styles.MutedText.Render("(empty)")}
		}
		lines := make([]string, 0, len(v))
		for _, k := range slices.Sorted(maps.Keys(v)) {
			lines = append(lines, styles.AccentText.Render(k+":")+" "+styles.Text.Render(scalar(v[k])))
		}
		return lines
	case []any:
		lines := make([]string, 0, len(v))
		for _, elem := range v {
			lines = append(lines, styles.Text.Render("- "+scalar(elem)))
		}
		return lines
	default:
		return []string{styles.SuccessText.Render(scalar(v))}
	}
}

func scalar(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case map[string]any, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	default:
		return fmt.Sprint(v)
	}
}

func innerWidth(width int) int {
	if width <= 4 {
		return 0
	}
	return width - 4
}

// truncate shortens a string to the given limit, adding ellipsis if needed.
func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if limit <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
