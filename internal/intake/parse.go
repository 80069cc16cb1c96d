// Package intake accepts published telemetry messages from the pub/sub
// boundary, parses them into telemetry messages, and rejects malformed
// payloads before they reach validation.
package intake

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/telemetra/telemetra/internal/errors"
	"github.com/telemetra/telemetra/pkg/types"
)

// DeviceFromTopic extracts the device ID from a telemetry topic. Both the
// NATS subject form (device.{id}.data) and the MQTT topic form
// (device/{id}/data) are accepted.
func DeviceFromTopic(topic string) (string, error) {
	sep := "."
	if strings.Contains(topic, "/") {
		sep = "/"
	}
	parts := strings.Split(topic, sep)
	if len(parts) != 3 || parts[0] != "device" || parts[2] != "data" || parts[1] == "" {
		return "", errors.NewIntakeError(errors.CodeBadTopic,
			fmt.Sprintf("topic %q does not match device/{device_id}/data", topic), nil)
	}
	return parts[1], nil
}

// ParseBody parses a payload arriving without a topic, as on the HTTP
// intake path. The body's device_id is required there.
func ParseBody(payload []byte) (*types.TelemetryMessage, error) {
	var wire wireMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, errors.NewIntakeError(errors.CodeMalformedPayload, "payload is not valid JSON", err)
	}
	if wire.DeviceID == "" {
		return nil, errors.NewIntakeError(errors.CodeMissingDeviceID, "device_id is missing", nil)
	}
	return ParseMessage(fmt.Sprintf("device.%s.data", wire.DeviceID), payload)
}

// wireMessage mirrors the published JSON shape with lenient number
// handling so a non-numeric timestamp is detected rather than zeroed.
type wireMessage struct {
	DeviceID     string             `json:"device_id"`
	Timestamp    *json.Number       `json:"timestamp"`
	Sensors      map[string]float64 `json:"sensors"`
	Location     string             `json:"location"`
	BatteryLevel *float64           `json:"battery_level"`
}

// ParseMessage parses one published payload into a telemetry message.
// The topic's device segment is authoritative: when the body disagrees,
// the topic wins (the upstream broker routes by topic, so the body copy
// is only advisory).
//
// A parse failure is an intake-level rejection: the message never reached
// validated state, so it is logged and dropped with no retry.
func ParseMessage(topic string, payload []byte) (*types.TelemetryMessage, error) {
	topicDevice, err := DeviceFromTopic(topic)
	if err != nil {
		return nil, err
	}

	var wire wireMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, errors.NewIntakeError(errors.CodeMalformedPayload, "payload is not valid JSON", err)
	}

	if wire.Timestamp == nil {
		return nil, errors.NewIntakeError(errors.CodeMalformedPayload, "timestamp is missing", nil)
	}
	ts, err := wire.Timestamp.Int64()
	if err != nil {
		// Fractional seconds are tolerated; anything non-numeric is not.
		f, ferr := wire.Timestamp.Float64()
		if ferr != nil {
			return nil, errors.NewIntakeError(errors.CodeMalformedPayload,
				fmt.Sprintf("timestamp %q is not numeric", wire.Timestamp.String()), ferr)
		}
		ts = int64(f)
	}

	deviceID := topicDevice
	if deviceID == "" {
		deviceID = wire.DeviceID
	}
	if deviceID == "" {
		return nil, errors.NewIntakeError(errors.CodeMalformedPayload, "device_id is missing", nil)
	}

	return &types.TelemetryMessage{
		DeviceID:     deviceID,
		Timestamp:    ts,
		Sensors:      wire.Sensors,
		Location:     wire.Location,
		BatteryLevel: wire.BatteryLevel,
	}, nil
}
