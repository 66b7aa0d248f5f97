package domain

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/opencli/daemon/internal/policy"
)

// CalendarDomain scripts the macOS Calendar app via osascript. Ported
// from original_source's calendar_domain.py, including its lightweight
// "tomorrow" / weekday-name datetime_raw parser.
type CalendarDomain struct {
	policy policy.Checker
}

func NewCalendarDomain(p policy.Checker) *CalendarDomain {
	return &CalendarDomain{policy: p}
}

func (d *CalendarDomain) ID() string { return "calendar" }

func (d *CalendarDomain) TaskTypes() []string {
	return []string{"calendar_add_event", "calendar_list_events", "calendar_delete_event"}
}

func (d *CalendarDomain) DisplayConfigs() map[string]DisplayConfig {
	return map[string]DisplayConfig{
		"calendar_add_event":    {CardType: "calendar", Icon: "event", TitleTemplate: "Event Created", Color: "#2196f3"},
		"calendar_list_events":  {CardType: "calendar", Icon: "calendar_today", TitleTemplate: "Events", Color: "#2196f3"},
		"calendar_delete_event": {CardType: "calendar", Icon: "event_busy", TitleTemplate: "Event Deleted", Color: "#2196f3"},
	}
}

func (d *CalendarDomain) ExecuteTask(ctx context.Context, taskType string, taskData map[string]any) TaskResult {
	if d.policy != nil && !d.policy.AllowCapability("tools.calendar") {
		return Fail("capability tools.calendar is not permitted by policy")
	}

	switch taskType {
	case "calendar_add_event":
		return d.addEvent(ctx, taskData)
	case "calendar_list_events":
		return d.listEvents(ctx, taskData)
	case "calendar_delete_event":
		return d.deleteEvent(ctx, taskData)
	default:
		return Fail(fmt.Sprintf("calendar domain does not handle %s", taskType))
	}
}

var timeOfDayPattern = regexp.MustCompile(`(?i)(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)

func (d *CalendarDomain) addEvent(ctx context.Context, data map[string]any) TaskResult {
	title, _ := data["title"].(string)
	if title == "" {
		title = "New Event"
	}
	dtRaw, _ := data["datetime_raw"].(string)
	calendarName, _ := data["calendar"].(string)
	if calendarName == "" {
		calendarName = "Home"
	}

	now := time.Now()
	hour, minute := 9, 0
	if m := timeOfDayPattern.FindStringSubmatch(dtRaw); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		switch strings.ToLower(m[3]) {
		case "pm":
			if hour < 12 {
				hour += 12
			}
		case "am":
			if hour == 12 {
				hour = 0
			}
		}
	}

	target := now
	lower := strings.ToLower(dtRaw)
	if strings.Contains(lower, "tomorrow") {
		target = now.AddDate(0, 0, 1)
	} else {
		days := []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}
		for i, dayName := range days {
			if strings.Contains(lower, dayName) {
				currentDow := int(now.Weekday()+6) % 7 // Monday=0
				delta := (i - currentDow + 7) % 7
				if delta == 0 {
					delta = 7
				}
				target = now.AddDate(0, 0, delta)
				break
			}
		}
	}

	start := time.Date(target.Year(), target.Month(), target.Day(), hour, minute, 0, 0, target.Location())
	end := start.Add(time.Hour)

	script := fmt.Sprintf(`tell application "Calendar"
  tell calendar "%s"
    make new event with properties {summary:"%s", start date:date "%s", end date:date "%s"}
  end tell
end tell`, calendarName, title, start.Format("January 2, 2006 at 3:04:05 PM"), end.Format("January 2, 2006 at 3:04:05 PM"))

	if _, err := runAppleScript(ctx, script, 0); err != nil {
		return Fail(err.Error())
	}
	return Ok(map[string]any{
		"title": title,
		"start": start.Format(time.RFC3339),
		"end":   end.Format(time.RFC3339),
	})
}

func (d *CalendarDomain) listEvents(ctx context.Context, data map[string]any) TaskResult {
	day, _ := data["day"].(string)
	target := time.Now()
	if day == "tomorrow" {
		target = target.AddDate(0, 0, 1)
	}
	dateStr := target.Format("January 2, 2006")

	script := fmt.Sprintf(`tell application "Calendar"
  set startDate to date "%s 12:00:00 AM"
  set endDate to date "%s 11:59:59 PM"
  set output to ""
  repeat with c in calendars
    set evts to (every event of c whose start date >= startDate and start date <= endDate)
    repeat with e in evts
      set output to output & (time string of start date of e) & " - " & summary of e & "\n"
    end repeat
  end repeat
  return output
end tell`, dateStr, dateStr)

	out, err := runAppleScript(ctx, script, 0)
	if err != nil {
		return Fail(err.Error())
	}
	events := splitNonEmptyLines(out)
	return Ok(map[string]any{"events": events, "count": len(events), "date": dateStr})
}

func (d *CalendarDomain) deleteEvent(ctx context.Context, data map[string]any) TaskResult {
	title, _ := data["title"].(string)
	script := fmt.Sprintf(`tell application "Calendar"
  repeat with c in calendars
    set evts to (every event of c whose summary contains "%s")
    repeat with e in evts
      delete e
    end repeat
  end repeat
end tell`, title)
	if _, err := runAppleScript(ctx, script, 0); err != nil {
		return Fail(err.Error())
	}
	return Ok(map[string]any{"deleted": title})
}
