package suricata

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"netsentry/pkg/models"
)

// Parse converts one Suricata EVE JSON record into a normalized Alert.
// Records that are not alerts return (nil, nil); structurally broken or
// incomplete records return an error so the caller can count them.
func Parse(data []byte) (*models.Alert, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode eve record: %w", err)
	}

	eventType := getString(raw, "event_type")
	if eventType != "alert" {
		return nil, nil
	}

	alert := &models.Alert{
		EventType: eventType,
		SrcIP:     getString(raw, "src_ip"),
		SrcPort:   getInt(raw, "src_port"),
		DestIP:    getString(raw, "dest_ip"),
		DestPort:  getInt(raw, "dest_port"),
		Proto:     strings.ToUpper(getString(raw, "proto")),
		EventID:   getString(raw, "event_id", "flow_id"),
	}

	if ts := getString(raw, "timestamp"); ts != "" {
		if t, ok := parseTimestamp(ts); ok {
			alert.Timestamp = t
		}
	}

	alert.SignatureID = getInt(raw, "alert.signature_id")
	alert.Signature = getString(raw, "alert.signature")
	alert.Category = getString(raw, "alert.category")
	alert.Severity = getInt(raw, "alert.severity")

	alert.PacketCount = int64(getInt(raw, "flow.pkts_toserver")) + int64(getInt(raw, "flow.pkts_toclient"))
	alert.ByteCount = int64(getInt(raw, "flow.bytes_toserver")) + int64(getInt(raw, "flow.bytes_toclient"))
	if start := getString(raw, "flow.start"); start != "" {
		if t, ok := parseTimestamp(start); ok && !alert.Timestamp.IsZero() && alert.Timestamp.After(t) {
			alert.FlowDuration = alert.Timestamp.Sub(t)
		}
	}

	if err := validate(alert); err != nil {
		return nil, err
	}
	return alert, nil
}

func validate(a *models.Alert) error {
	if a.SrcIP == "" {
		return fmt.Errorf("alert missing src_ip")
	}
	if a.DestIP == "" {
		return fmt.Errorf("alert missing dest_ip")
	}
	if a.Signature == "" && a.SignatureID == 0 {
		return fmt.Errorf("alert missing signature")
	}
	if a.Severity < 1 || a.Severity > 4 {
		return fmt.Errorf("alert severity %d out of range", a.Severity)
	}
	if a.Timestamp.IsZero() {
		return fmt.Errorf("alert missing timestamp")
	}
	return nil
}

func parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999-0700", // suricata default, no colon in zone
		"2006-01-02 15:04:05.999999",
	} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}

	return time.Time{}, false
}

func getString(root map[string]interface{}, paths ...string) string {
	for _, path := range paths {
		if v, ok := getPath(root, path); ok {
			switch val := v.(type) {
			case string:
				return val
			case fmt.Stringer:
				return val.String()
			case int:
				return fmt.Sprintf("%d", val)
			case int64:
				return fmt.Sprintf("%d", val)
			case float64:
				if val == float64(int64(val)) {
					return fmt.Sprintf("%d", int64(val))
				}
				return fmt.Sprintf("%f", val)
			}
		}
	}
	return ""
}

func getInt(root map[string]interface{}, paths ...string) int {
	for _, path := range paths {
		if v, ok := getPath(root, path); ok {
			switch val := v.(type) {
			case int:
				return val
			case int64:
				return int(val)
			case float64:
				return int(val)
			case string:
				if val == "" {
					continue
				}
				var parsed int
				if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
					return parsed
				}
			}
		}
	}
	return 0
}

func getPath(root map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = root
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}
