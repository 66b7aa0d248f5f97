package domain

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/opencli/daemon/internal/policy"
)

// EmailDomain scripts Apple Mail via osascript. Ported from
// original_source's email_domain.py.
type EmailDomain struct {
	policy policy.Checker
}

func NewEmailDomain(p policy.Checker) *EmailDomain {
	return &EmailDomain{policy: p}
}

func (d *EmailDomain) ID() string { return "email" }

func (d *EmailDomain) TaskTypes() []string { return []string{"email_compose", "email_check"} }

func (d *EmailDomain) DisplayConfigs() map[string]DisplayConfig {
	return map[string]DisplayConfig{
		"email_compose": {CardType: "email", Icon: "drafts", TitleTemplate: "Email Draft", Color: "#f44336"},
		"email_check":   {CardType: "email", Icon: "inbox", TitleTemplate: "Inbox", Color: "#f44336"},
	}
}

func (d *EmailDomain) ExecuteTask(ctx context.Context, taskType string, taskData map[string]any) TaskResult {
	if d.policy != nil && !d.policy.AllowCapability("tools.email") {
		return Fail("capability tools.email is not permitted by policy")
	}

	switch taskType {
	case "email_compose":
		to, _ := taskData["to"].(string)
		subject, _ := taskData["subject"].(string)
		body, _ := taskData["body"].(string)
		script := fmt.Sprintf(`tell application "Mail"
  set msg to make new outgoing message with properties {subject:"%s", content:"%s"}
  tell msg
    make new to recipient at end of to recipients with properties {address:"%s"}
  end tell
  activate
end tell`, subject, body, to)
		if _, err := runAppleScript(ctx, script, 0); err != nil {
			return Fail(err.Error())
		}
		return Ok(map[string]any{"to": to, "subject": subject})

	case "email_check":
		script := `tell application "Mail"
  check for new mail
  set unreadCount to unread count of inbox
  return unreadCount as text
end tell`
		out, err := runAppleScript(ctx, script, 0)
		if err != nil {
			return Fail(err.Error())
		}
		count, _ := strconv.Atoi(strings.TrimSpace(out))
		return Ok(map[string]any{"unread": count})

	default:
		return Fail(fmt.Sprintf("email domain does not handle %s", taskType))
	}
}
