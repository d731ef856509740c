package router

import (
	"html"
	"sort"
	"strings"
	"unicode"

	kit "nova/internal/transport"
)

// helpText renders help in HTML parse mode.
func (r *Router) helpText(args []string) string {
	r.mu.RLock()
	table := r.commands
	ordered := r.ordered
	r.mu.RUnlock()

	if len(args) > 0 {
		name := strings.ToLower(strings.TrimPrefix(args[0], "/"))
		c, ok := table[name]
		if !ok {
			return "Unknown command. Try <code>/help</code>."
		}
		lines := []string{"<b>/" + html.EscapeString(c.Name) + "</b>"}
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, html.EscapeString(d))
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "Usage: <code>"+html.EscapeString(u)+"</code>")
		}
		if len(c.Aliases) > 0 {
			lines = append(lines, "Aliases: "+html.EscapeString(strings.Join(c.Aliases, ", ")))
		}
		if c.Access == AccessOwnerOnly {
			lines = append(lines, "<i>owner only</i>")
		}
		return strings.Join(lines, "\n")
	}

	cmds := append([]Command(nil), ordered...)
	sort.SliceStable(cmds, func(i, j int) bool {
		if cmds[i].Access != cmds[j].Access {
			return cmds[i].Access < cmds[j].Access
		}
		return cmds[i].Name < cmds[j].Name
	})
	lines := []string{"<b>Commands</b>"}
	for _, c := range cmds {
		line := "/" + html.EscapeString(c.Name)
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " - " + html.EscapeString(d)
		}
		if c.Access == AccessOwnerOnly {
			line += " (owner)"
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", "Type <code>/help &lt;command&gt;</code> for details.")
	return strings.Join(lines, "\n")
}

// sanitizeTelegramCommand maps a name onto Telegram's [a-z0-9_]{1,32}.
func sanitizeTelegramCommand(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

func buildMenu(cmds []Command) []kit.BotCommand {
	seen := map[string]bool{}
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = name
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}
