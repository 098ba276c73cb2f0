package utils

import (
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	charm "github.com/charmbracelet/log"
)

// Log is the process-wide structured logger; Init must run before any
// component uses it.
var Log *charm.Logger

func Init() {
	Log = charm.NewWithOptions(os.Stderr, charm.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	})
	styles := charm.DefaultStyles()
	styles.Levels[charm.InfoLevel] = lipgloss.NewStyle().
		SetString("INFO").
		Padding(0, 1, 0, 1).
		Background(lipgloss.Color("#1E5631")).
		Foreground(lipgloss.Color("#C8F7C5")).Bold(true)

	styles.Levels[charm.WarnLevel] = lipgloss.NewStyle().
		SetString("WARN").
		Padding(0, 1, 0, 1).
		Background(lipgloss.Color("#7A5C00")).
		Foreground(lipgloss.Color("#FFE9A0")).Bold(true)

	styles.Levels[charm.ErrorLevel] = lipgloss.NewStyle().
		SetString("ERROR").
		Padding(0, 1, 0, 1).
		Background(lipgloss.Color("#7A0000")).
		Foreground(lipgloss.Color("#FFD6D6")).Bold(true)

	styles.Levels[charm.FatalLevel] = lipgloss.NewStyle().
		SetString("FATAL").
		Padding(0, 1, 0, 1).
		Background(lipgloss.Color("#000000")).
		Foreground(lipgloss.Color("#FF8888")).Bold(true)
	Log.SetStyles(styles)
}
