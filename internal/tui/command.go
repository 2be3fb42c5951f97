package tui

import (
	"fmt"
	"strconv"
	"strings"
)

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

// Row splits "<n> rest" into a message number and the remaining text.
func (c Command) Row() (int, string, error) {
	head, rest, _ := strings.Cut(c.Args, " ")
	if head == "" {
		return 0, "", fmt.Errorf(":%s needs a message number", c.Name)
	}
	n, err := strconv.Atoi(head)
	if err != nil || n < 1 {
		return 0, "", fmt.Errorf(":%s: %q is not a message number", c.Name, head)
	}
	return n, strings.TrimSpace(rest), nil
}

// composerCommand reports whether composer text is a command rather than a message.
// A leading "::" sends a literal colon.
func composerCommand(text string) (Command, bool) {
	if !strings.HasPrefix(text, ":") || strings.HasPrefix(text, "::") {
		return Command{}, false
	}
	return ParseCommand(text[1:]), true
}
