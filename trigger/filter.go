package trigger

import (
	"fmt"
	"regexp"
	"strings"
)

// accepts applies the declarative filters in config to event and reports
// whether the event should be dispatched. Every declared filter must pass;
// an invalid or inapplicable filter rejects the event rather than erroring.
func accepts(config map[string]any, event map[string]any) bool {
	if raw, ok := config["channel"]; ok {
		if !matchesChannel(fmt.Sprint(raw), event) {
			return false
		}
	}
	if raw, ok := config["channelId"]; ok {
		if !eq(event["channelId"], fmt.Sprint(raw)) {
			return false
		}
	}
	if raw, ok := config["chatId"]; ok {
		filter := fmt.Sprint(raw)
		if !eq(event["chatId"], filter) && !eq(nestedChatID(event), filter) {
			return false
		}
	}
	if raw, ok := config["pattern"]; ok {
		if !matchesPattern(fmt.Sprint(raw), event) {
			return false
		}
	}
	if raw, ok := config["ignoreBot"]; ok && truthy(raw) {
		if isBot(event) {
			return false
		}
	}
	if raw, ok := config["user"]; ok {
		if !matchesUser(fmt.Sprint(raw), event) {
			return false
		}
	}
	return true
}

func matchesChannel(filter string, event map[string]any) bool {
	if eq(event["channel"], filter) || eq(event["channelId"], filter) {
		return true
	}
	if strings.HasPrefix(filter, "#") {
		return eq(event["channelName"], strings.TrimPrefix(filter, "#"))
	}
	return false
}

func matchesPattern(pattern string, event map[string]any) bool {
	text, ok := event["text"]
	if !ok {
		return false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(fmt.Sprint(text))
}

func matchesUser(filter string, event map[string]any) bool {
	return eq(event["user"], filter) || eq(event["userId"], filter) || eq(event["from"], filter)
}

func isBot(event map[string]any) bool {
	if b, ok := event["isBot"].(bool); ok && b {
		return true
	}
	_, hasBotID := event["botId"]
	return hasBotID
}

func nestedChatID(event map[string]any) any {
	chat, ok := event["chat"].(map[string]any)
	if !ok {
		return nil
	}
	return chat["id"]
}

func eq(v any, s string) bool {
	if v == nil {
		return false
	}
	return fmt.Sprint(v) == s
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	default:
		return v != nil
	}
}
