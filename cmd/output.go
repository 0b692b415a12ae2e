package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/slush-dev/fcm-demo/internal/tray"
)

// yamlOut prints data as a YAML document to stdout.
func yamlOut(data any) {
	yamlTo(os.Stdout, data)
}

func yamlTo(w io.Writer, data any) {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	enc.Encode(data)
	enc.Close()
}

// printTable prints a simple formatted table header with separator.
func printTable(w io.Writer, format string, width int, columns ...any) {
	fmt.Fprintf(w, format+"\n", columns...)
	fmt.Fprintln(w, strings.Repeat("-", width))
}

// printTray lists tray entries, oldest first.
func printTray(w io.Writer, entries []tray.Entry, asYAML bool) {
	if asYAML {
		if entries == nil {
			entries = []tray.Entry{}
		}
		yamlTo(w, entries)
		return
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No notifications.")
		return
	}
	printTable(w, "%-36s  %-19s  %-24s  %s", 110, "ID", "POSTED", "TITLE", "BODY")
	for _, e := range entries {
		fmt.Fprintf(w, "%-36s  %-19s  %-24s  %s\n",
			e.ID,
			e.PostedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(orDash(e.Message.Title()), 24),
			orDash(e.Message.Body()))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
