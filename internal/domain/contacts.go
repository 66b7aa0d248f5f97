package domain

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencli/daemon/internal/policy"
)

// ContactsDomain scripts the macOS Contacts app via osascript. Ported from
// original_source's contacts.py.
type ContactsDomain struct {
	policy policy.Checker
}

func NewContactsDomain(p policy.Checker) *ContactsDomain {
	return &ContactsDomain{policy: p}
}

func (d *ContactsDomain) ID() string { return "contacts" }

func (d *ContactsDomain) TaskTypes() []string {
	return []string{"contacts_find", "contacts_call"}
}

func (d *ContactsDomain) DisplayConfigs() map[string]DisplayConfig {
	return map[string]DisplayConfig{
		"contacts_find": {CardType: "contacts", Icon: "person_search", TitleTemplate: "Contacts", Color: "#4caf50"},
		"contacts_call": {CardType: "contacts", Icon: "call", TitleTemplate: "Calling", Color: "#4caf50"},
	}
}

func (d *ContactsDomain) ExecuteTask(ctx context.Context, taskType string, taskData map[string]any) TaskResult {
	if d.policy != nil && !d.policy.AllowCapability("tools.contacts") {
		return Fail("capability tools.contacts is not permitted by policy")
	}

	name, _ := taskData["name"].(string)

	switch taskType {
	case "contacts_find":
		script := fmt.Sprintf(`tell application "Contacts"
  set output to ""
  set matches to every person whose name contains "%s"
  repeat with p in matches
    set pName to name of p
    set pPhone to ""
    set pEmail to ""
    if (count of phones of p) > 0 then
      set pPhone to value of first phone of p
    end if
    if (count of emails of p) > 0 then
      set pEmail to value of first email of p
    end if
    set output to output & pName & "|||" & pPhone & "|||" & pEmail & "\n"
  end repeat
  return output
end tell`, name)
		out, err := runAppleScript(ctx, script, 0)
		if err != nil {
			return Fail(err.Error())
		}
		var contacts []map[string]any
		for _, line := range splitNonEmptyLines(out) {
			parts := strings.Split(line, "|||")
			if len(parts) >= 3 && parts[0] != "" {
				contacts = append(contacts, map[string]any{"name": parts[0], "phone": parts[1], "email": parts[2]})
			}
		}
		return Ok(map[string]any{"contacts": contacts, "count": len(contacts)})

	case "contacts_call":
		script := fmt.Sprintf(`tell application "Contacts"
  set matches to every person whose name contains "%s"
  if (count of matches) > 0 then
    set p to first item of matches
    if (count of phones of p) > 0 then
      set pPhone to value of first phone of p
      tell application "FaceTime" to open location "tel://" & pPhone
      return pPhone
    end if
  end if
  return ""
end tell`, name)
		out, err := runAppleScript(ctx, script, 0)
		if err != nil {
			return Fail(err.Error())
		}
		phone := strings.TrimSpace(out)
		if phone == "" {
			return Fail(fmt.Sprintf("No phone found for: %s", name))
		}
		return Ok(map[string]any{"name": name, "phone": phone})

	default:
		return Fail(fmt.Sprintf("contacts domain does not handle %s", taskType))
	}
}
