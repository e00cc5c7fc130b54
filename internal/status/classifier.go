package status

import (
	"context"
	"regexp"
	"strings"

	"github.com/remote-agent-terminal/dashboard/internal/model"
)

// tailLines is how many trailing pane lines are inspected. Prompts that
// matter are always at the bottom of the visible area.
const tailLines = 15

// ansiPattern matches CSI, OSC, DCS/SOS/PM/APC and charset escape sequences.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07|\x1b[PX^_][^\x1b]*\x1b\\|\x1b\(B`)

// Classifier infers a session's status from its captured pane.
type Classifier struct {
	// questionPattern matches (y/n), (yes/no) and their capitalised forms.
	questionPattern *regexp.Regexp

	// approvalMenuPattern matches agent CLI permission prompts such as
	// "Do you want to create foo.txt?" or "Allow this command?".
	approvalMenuPattern *regexp.Regexp

	// idlePattern matches a shell or REPL prompt ending the last non-empty
	// line. A digit before % is a progress figure, not a prompt.
	idlePattern *regexp.Regexp
}

// NewClassifier creates a Classifier.
func NewClassifier() *Classifier {
	return &Classifier{
		questionPattern:     regexp.MustCompile(`\(([yY])/([nN])\)|\(([yY]es)/([nN]o)\)`),
		approvalMenuPattern: regexp.MustCompile(`Do you want to (create|write|delete|modify|update|remove|edit|overwrite|make|proceed|run)[^?\n]*\?|Allow (this|the) [^?\n]*\?`),
		idlePattern:         regexp.MustCompile(`(^|[^0-9])[$#%>❯]$`),
	}
}

// Probe classifies content; the session name is not used.
func (c *Classifier) Probe(_ context.Context, _ string, content string) Result {
	return c.Classify(content)
}

// Classify returns waiting-approval when an approval prompt is visible near
// the bottom of the pane, idle when the last non-empty line is a bare prompt,
// running for any other content and unknown for an empty pane.
func (c *Classifier) Classify(content string) Result {
	clean := StripANSI(content)
	tail := lastLines(clean, tailLines)
	if strings.TrimSpace(tail) == "" {
		return Unknown
	}

	if m := c.approvalMenuPattern.FindString(tail); m != "" {
		return Result{Status: model.SessionStatusWaitingApproval, Details: strings.TrimSpace(m)}
	}
	if c.questionPattern.MatchString(tail) {
		return Result{Status: model.SessionStatusWaitingApproval, Details: lastNonEmptyLine(tail)}
	}

	last := lastNonEmptyLine(tail)
	if c.idlePattern.MatchString(last) {
		return Result{Status: model.SessionStatusIdle, Details: ""}
	}
	return Result{Status: model.SessionStatusRunning, Details: ""}
}

// StripANSI removes terminal escape sequences.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
