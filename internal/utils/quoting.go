package utils

import (
	"strings"
)

// Redacted replaces arguments that must not appear in logs.
const Redacted = "***"

// QuoteArg single-quotes an argument for display, escaping embedded single quotes
// the way POSIX shells expect.
func QuoteArg(arg string) string {
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

// FormatCommand renders a command line for logging. Arguments at index
// redactFrom and later are replaced with Redacted; a negative redactFrom keeps
// every argument.
func FormatCommand(binary string, args []string, redactFrom int) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, binary)
	for i, arg := range args {
		if redactFrom >= 0 && i >= redactFrom {
			arg = Redacted
		}
		parts = append(parts, QuoteArg(arg))
	}
	return strings.Join(parts, " ")
}
