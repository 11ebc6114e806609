package router

import (
	"sort"
	"strings"
)

// helpText lists the registered commands, one per line.
func helpText(prefix string, cmds []Command) string {
	sorted := append([]Command(nil), cmds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b strings.Builder
	b.WriteString("Available commands:")
	for _, c := range sorted {
		b.WriteString("\n")
		b.WriteString(prefix)
		if c.Usage != "" {
			b.WriteString(c.Usage)
		} else {
			b.WriteString(c.Name)
		}
		if c.Description != "" {
			b.WriteString(" - ")
			b.WriteString(c.Description)
		}
	}
	return b.String()
}
