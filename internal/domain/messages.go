package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opencli/daemon/internal/policy"
)

// MessagesDomain scripts the macOS Messages app via osascript, resolving
// a recipient name to a phone number through Contacts first. Ported from
// original_source's messages.py.
type MessagesDomain struct {
	policy policy.Checker
}

func NewMessagesDomain(p policy.Checker) *MessagesDomain {
	return &MessagesDomain{policy: p}
}

func (d *MessagesDomain) ID() string { return "messages" }

func (d *MessagesDomain) TaskTypes() []string { return []string{"messages_send"} }

func (d *MessagesDomain) DisplayConfigs() map[string]DisplayConfig {
	return map[string]DisplayConfig{
		"messages_send": {CardType: "messages", Icon: "send", TitleTemplate: "Message Sent", Color: "#4caf50"},
	}
}

func (d *MessagesDomain) ExecuteTask(ctx context.Context, taskType string, taskData map[string]any) TaskResult {
	if taskType != "messages_send" {
		return Fail(fmt.Sprintf("messages domain does not handle %s", taskType))
	}
	if d.policy != nil && !d.policy.AllowCapability("tools.messages") {
		return Fail("capability tools.messages is not permitted by policy")
	}

	recipient, _ := taskData["recipient"].(string)
	message, _ := taskData["message"].(string)

	if message == "" {
		if _, err := runAppleScript(ctx, `tell application "Messages" to activate`, 0); err != nil {
			return Fail(err.Error())
		}
		return Ok(map[string]any{"action": "opened"})
	}

	lookupScript := fmt.Sprintf(`tell application "Contacts"
  set matches to every person whose name contains "%s"
  if (count of matches) > 0 then
    set p to first item of matches
    if (count of phones of p) > 0 then
      return value of first phone of p
    end if
  end if
  return "%s"
end tell`, recipient, recipient)
	phoneOut, err := runAppleScript(ctx, lookupScript, 15*time.Second)
	if err != nil {
		return Fail(err.Error())
	}
	phone := strings.TrimSpace(phoneOut)
	if phone == "" {
		phone = recipient
	}

	sendScript := fmt.Sprintf(`tell application "Messages"
  set targetService to first service whose service type = iMessage
  set targetBuddy to participant "%s" of targetService
  send "%s" to targetBuddy
end tell`, phone, message)
	if _, err := runAppleScript(ctx, sendScript, 15*time.Second); err != nil {
		return Fail(err.Error())
	}
	return Ok(map[string]any{"recipient": recipient, "phone": phone})
}
