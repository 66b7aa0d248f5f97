package domain

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencli/daemon/internal/policy"
)

// RemindersDomain scripts the macOS Reminders app via osascript. Ported
// from original_source's reminders.py; the original targets the app
// through AppleScript and this does the same via runAppleScript rather
// than reimplementing reminder storage.
type RemindersDomain struct {
	policy policy.Checker
}

func NewRemindersDomain(p policy.Checker) *RemindersDomain {
	return &RemindersDomain{policy: p}
}

func (d *RemindersDomain) ID() string { return "reminders" }

func (d *RemindersDomain) TaskTypes() []string {
	return []string{"reminders_add", "reminders_list", "reminders_complete"}
}

func (d *RemindersDomain) DisplayConfigs() map[string]DisplayConfig {
	return map[string]DisplayConfig{
		"reminders_add":      {CardType: "reminders", Icon: "add_task", TitleTemplate: "Reminder Added", Color: "#ff9800"},
		"reminders_list":     {CardType: "reminders", Icon: "checklist", TitleTemplate: "Reminders", Color: "#ff9800"},
		"reminders_complete": {CardType: "reminders", Icon: "task_alt", TitleTemplate: "Reminder Completed", Color: "#ff9800"},
	}
}

func (d *RemindersDomain) ExecuteTask(ctx context.Context, taskType string, taskData map[string]any) TaskResult {
	if d.policy != nil && !d.policy.AllowCapability("tools.reminders") {
		return Fail("capability tools.reminders is not permitted by policy")
	}

	switch taskType {
	case "reminders_add":
		title, _ := taskData["title"].(string)
		if title == "" {
			title = "Reminder"
		}
		list, _ := taskData["list"].(string)
		if list == "" {
			list = "Reminders"
		}
		script := fmt.Sprintf(`tell application "Reminders"
  set targetList to list "%s"
  make new reminder at end of targetList with properties {name:"%s"}
end tell`, list, title)
		if _, err := runAppleScript(ctx, script, 0); err != nil {
			return Fail(err.Error())
		}
		return Ok(map[string]any{"title": title, "list": list})

	case "reminders_list":
		script := `tell application "Reminders"
  set output to ""
  set rl to reminders of list "Reminders" whose completed is false
  repeat with r in rl
    set output to output & name of r & "\n"
  end repeat
  return output
end tell`
		out, err := runAppleScript(ctx, script, 0)
		if err != nil {
			return Fail(err.Error())
		}
		items := splitNonEmptyLines(out)
		return Ok(map[string]any{"reminders": items, "count": len(items)})

	case "reminders_complete":
		title, _ := taskData["title"].(string)
		script := fmt.Sprintf(`tell application "Reminders"
  set rl to reminders of list "Reminders" whose name contains "%s"
  repeat with r in rl
    set completed of r to true
  end repeat
end tell`, title)
		if _, err := runAppleScript(ctx, script, 0); err != nil {
			return Fail(err.Error())
		}
		return Ok(map[string]any{"completed": title})

	default:
		return Fail(fmt.Sprintf("reminders domain does not handle %s", taskType))
	}
}

// splitNonEmptyLines trims and drops blank lines, the shape osascript's
// newline-joined output is reduced to across the Apple-app domains.
func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
