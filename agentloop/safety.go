package agentloop

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// SafetyLevel is the advisory classification of a shell command.
type SafetyLevel string

const (
	SafetySafe      SafetyLevel = "safe"
	SafetyDangerous SafetyLevel = "dangerous"
	SafetyUnknown   SafetyLevel = "unknown"
)

// Classification is the result of classifying a command.
type Classification struct {
	Level  SafetyLevel `json:"level"`
	Reason string      `json:"reason"`
}

type dangerPattern struct {
	re     *regexp2.Regexp
	reason string
}

// commandStart anchors a pattern at the start of a command segment.
const commandStart = `(?:^|[;&|(\n]|\$\()\s*(?:sudo\s+)?`

var defaultDangerPatterns = []struct {
	expr   string
	reason string
}{
	{`\brm\s+(?=(?:[^;&|\n]*\s)?-[a-zA-Z]*[rR])(?=(?:[^;&|\n]*\s)?-[a-zA-Z]*f)(?:[^;&|\n]*\s)?(?:/|~/?|\*|\$HOME/?|\$\{HOME\}/?|\.\./?)\*?(?=$|[\s;&|])`,
		"recursive forced delete of a root, home, or wildcard path"},
	{`\brm\s+(?=[^;&|\n]*--recursive)(?=[^;&|\n]*--force)[^;&|\n]*\s(?:/|~/?|\*|\$HOME/?)(?=$|[\s;&|])`,
		"recursive forced delete of a root, home, or wildcard path"},
	{`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`, "fork bomb"},
	{`\bdd\b[^;&|\n]*\bof=/dev/`, "raw write to a block device"},
	{`>\s*/dev/(?!null\b|stdout\b|stderr\b|tty\b|fd/)`, "redirect onto a device file"},
	{`>\s*/(?:proc|sys)/`, "write into /proc or /sys"},
	{`\bmkfs(?:\.\w+)?\b`, "filesystem format"},
	{commandStart + `(?:shutdown|reboot|halt|poweroff)\b`, "system shutdown or reboot"},
	{commandStart + `init\s+[06]\b`, "runlevel change"},
	{`(?:^|[;&|(\n]|\$\()\s*(?:sudo|su|doas)\b`, "privilege escalation"},
	{`\bchmod\s+(?:-[a-zA-Z]*R[a-zA-Z]*\s+|--recursive\s+)0?777\s+/(?=$|[\s;&|])`, "world-writable root filesystem"},
	{`\b(?:curl|wget)\b[^;&\n]*\|\s*(?:sudo\s+)?(?:ba|z|da|k)?sh\b`, "piping a download into a shell"},
	{`\.ssh/(?:id_[A-Za-z0-9]+(?![A-Za-z0-9]*\.pub)|authorized_keys)`, "access to SSH keys"},
	{`\.aws/credentials\b`, "access to cloud credentials"},
	{`/etc/(?:shadow|sudoers)\b`, "access to system credentials"},
	{`\b(?:curl|wget|nc|ncat)\b[^;&|\n]*\$\{?\w*(?:API_KEY|SECRET|TOKEN|PASSWORD)\b`, "sending secrets over the network"},
	{`\b(?:env|printenv)\b[^;&\n]*\|\s*(?:curl|wget|nc|ncat)\b`, "sending the environment over the network"},
}

// SafetyFilter classifies shell commands as safe, dangerous or unknown. It is
// advisory: the classification only decides whether confirmation is
// mandatory, never whether a command may run.
type SafetyFilter struct {
	dangerous []dangerPattern
	safe      map[string]func(args []string) bool
}

// NewSafetyFilter creates a filter with the built-in pattern set and
// allowlist.
func NewSafetyFilter() *SafetyFilter {
	f := &SafetyFilter{safe: defaultSafePrograms()}
	for _, p := range defaultDangerPatterns {
		f.dangerous = append(f.dangerous, compileDanger(p.expr, p.reason))
	}
	return f
}

// AddDangerousPattern registers an extra pattern. The expression uses
// .NET-style syntax and may contain lookaround.
func (f *SafetyFilter) AddDangerousPattern(expr, reason string) error {
	re, err := regexp2.Compile(expr, regexp2.None)
	if err != nil {
		return err
	}
	re.MatchTimeout = 100 * time.Millisecond
	f.dangerous = append(f.dangerous, dangerPattern{re: re, reason: reason})
	return nil
}

func compileDanger(expr, reason string) dangerPattern {
	re := regexp2.MustCompile(expr, regexp2.None)
	re.MatchTimeout = 100 * time.Millisecond
	return dangerPattern{re: re, reason: reason}
}

// Classify returns the classification of a literal command string. Compound
// commands take the most severe classification of their segments.
func (f *SafetyFilter) Classify(command string) Classification {
	command = strings.TrimSpace(command)
	if command == "" {
		return Classification{Level: SafetyUnknown, Reason: "empty command"}
	}

	for _, p := range f.dangerous {
		matched, err := p.re.MatchString(command)
		if err != nil {
			// A pattern that times out cannot vouch for the command.
			return Classification{Level: SafetyUnknown, Reason: "pattern evaluation timed out"}
		}
		if matched {
			return Classification{Level: SafetyDangerous, Reason: p.reason}
		}
	}

	if strings.Contains(command, "$(") || strings.Contains(command, "`") {
		return Classification{Level: SafetyUnknown, Reason: "command substitution"}
	}
	if writesFile(command) {
		return Classification{Level: SafetyUnknown, Reason: "output redirection"}
	}

	segments := splitSegments(command)
	if len(segments) == 0 {
		return Classification{Level: SafetyUnknown, Reason: "no command found"}
	}
	for _, seg := range segments {
		fields := strings.Fields(seg)
		for len(fields) > 0 && isEnvAssignment(fields[0]) {
			fields = fields[1:]
		}
		if len(fields) == 0 {
			return Classification{Level: SafetyUnknown, Reason: "empty segment"}
		}
		program := filepath.Base(strings.Trim(fields[0], `"'(`))
		check, ok := f.safe[program]
		if !ok || !check(fields[1:]) {
			return Classification{Level: SafetyUnknown, Reason: program + " is not on the read-only allowlist"}
		}
	}
	return Classification{Level: SafetySafe, Reason: "read-only command"}
}

func always(args []string) bool { return true }

func defaultSafePrograms() map[string]func([]string) bool {
	safe := map[string]func([]string) bool{
		"find": func(args []string) bool {
			for _, a := range args {
				switch a {
				case "-delete", "-exec", "-execdir", "-ok", "-okdir", "-fprint", "-fprintf", "-fls":
					return false
				}
			}
			return true
		},
		"git": subcommandIn("status", "log", "diff", "show", "branch"),
		"go":  subcommandIn("version", "env", "list"),
	}
	for _, name := range []string{
		"ls", "pwd", "cat", "head", "tail", "wc", "grep", "rg", "echo", "which",
		"tree", "stat", "du", "df", "date", "whoami", "uname", "file",
	} {
		safe[name] = always
	}
	return safe
}

// subcommandIn accepts commands whose first non-flag argument is one of
// names. Mutating branch flags are rejected explicitly.
func subcommandIn(names ...string) func([]string) bool {
	return func(args []string) bool {
		sub := ""
		for _, a := range args {
			if !strings.HasPrefix(a, "-") {
				sub = a
				break
			}
		}
		ok := false
		for _, n := range names {
			if sub == n {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
		if sub == "branch" {
			for _, a := range args {
				switch a {
				case "-d", "-D", "-m", "-M", "-c", "-C", "--delete", "--move", "--copy", "-f", "--force":
					return false
				}
			}
		}
		return true
	}
}

func isEnvAssignment(field string) bool {
	eq := strings.IndexByte(field, '=')
	if eq <= 0 {
		return false
	}
	for _, r := range field[:eq] {
		if !(r == '_' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// writesFile reports an output redirection other than the harmless
// descriptor and /dev/null forms.
func writesFile(command string) bool {
	cleaned := command
	for _, harmless := range []string{"2>&1", "1>&2", ">&2", "2>/dev/null", ">/dev/null", "> /dev/null", "2> /dev/null"} {
		cleaned = strings.ReplaceAll(cleaned, harmless, " ")
	}
	inSingle, inDouble := false, false
	for _, r := range cleaned {
		switch {
		case r == '\'' && !inDouble:
			inSingle = !inSingle
		case r == '"' && !inSingle:
			inDouble = !inDouble
		case r == '>' && !inSingle && !inDouble:
			return true
		}
	}
	return false
}

// splitSegments splits a command on ;, &, |, && and || and newlines, ignoring
// separators inside quotes.
func splitSegments(command string) []string {
	var segments []string
	var cur strings.Builder
	inSingle, inDouble := false, false
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			segments = append(segments, strings.Trim(s, "()"))
		}
		cur.Reset()
	}
	for _, r := range command {
		switch {
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			cur.WriteRune(r)
		case r == '"' && !inSingle:
			inDouble = !inDouble
			cur.WriteRune(r)
		case !inSingle && !inDouble && (r == ';' || r == '&' || r == '|' || r == '\n'):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return segments
}
