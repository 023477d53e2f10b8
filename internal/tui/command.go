package tui

import "strings"

// CommandPrefix starts a composer line that is a command rather than a message.
const CommandPrefix = "/"

// Command represents a parsed composer command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a composer line. ok is false for a plain message;
// a doubled prefix ("//text") escapes it and is sent as "/text".
func ParseCommand(input string) (cmd Command, ok bool) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, CommandPrefix) || strings.HasPrefix(trimmed, CommandPrefix+CommandPrefix) {
		return Command{}, false
	}
	parts := strings.SplitN(strings.TrimPrefix(trimmed, CommandPrefix), " ", 2)
	cmd = Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd, cmd.Name != ""
}

// MessageText undoes the escape of a doubled command prefix.
func MessageText(input string) string {
	if strings.HasPrefix(strings.TrimSpace(input), CommandPrefix+CommandPrefix) {
		return strings.Replace(input, CommandPrefix, "", 1)
	}
	return input
}
