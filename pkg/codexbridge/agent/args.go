package agent

import (
	"regexp"
	"strings"
)

var argPattern = regexp.MustCompile(`\s*(?:"([^"]*)"|'([^']*)'|((?:\\.|[^\s"'])+))`)

var argUnescape = regexp.MustCompile(`\\([\\"'\s])`)

// SplitArgs tokenizes a shell-like argument string. Double and single
// quoted segments stay intact, backslash escapes are unwrapped.
func SplitArgs(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	var args []string
	for _, m := range argPattern.FindAllStringSubmatch(input, -1) {
		token := strings.TrimLeft(m[0], " \t")
		var value string
		switch {
		case strings.HasPrefix(token, `"`):
			value = m[1]
		case strings.HasPrefix(token, `'`):
			value = m[2]
		default:
			value = m[3]
		}
		args = append(args, argUnescape.ReplaceAllString(value, "$1"))
	}
	return args
}

// PickModelFromArgs extracts the model from -m / --model / --model= style
// argument lists. Returns "" when absent.
func PickModelFromArgs(args []string) string {
	for i, item := range args {
		if item == "-m" || item == "--model" {
			if i+1 < len(args) {
				return args[i+1]
			}
			return ""
		}
		if strings.HasPrefix(item, "--model=") {
			return strings.TrimPrefix(item, "--model=")
		}
	}
	return ""
}

// filterExecArgs drops tokens that would break the exec invocation:
// empty strings, bare dashes, and --full-auto which conflicts with the
// explicit sandbox flag.
func filterExecArgs(args []string) []string {
	var out []string
	for _, arg := range args {
		if arg == "" || arg == "-" || arg == "--" || arg == "--full-auto" {
			continue
		}
		out = append(out, arg)
	}
	return out
}

var sessionIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)session id:\s*([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})`),
	regexp.MustCompile(`(?i)session_id["'\s:=]+([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})`),
	regexp.MustCompile(`(?i)"sessionId"\s*:\s*"([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})"`),
}

// ExtractSessionID recovers the session id the exec path prints in one of
// several known encodings. Returns "" when none matches.
func ExtractSessionID(text string) string {
	for _, pattern := range sessionIDPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}
