package mqtt

import (
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/topic"
	"strings"
)

const (
	shareMarker    = "#share"
	noExportMarker = "#noexport"
	mqttShare      = "$share"
	mqttSingle     = "+"
	mqttMulti      = "#"
)

// Filter converts a subscription pattern into an MQTT topic filter. Prefix
// segments like "dog*" widen to "+"; exact matching happens client side.
func Filter(pattern string) string {
	segments := topic.Split(pattern)
	out := make([]string, 0, len(segments))

	for len(segments) > 0 {
		switch {
		case segments[0] == noExportMarker:
			segments = segments[1:]
			continue
		case segments[0] == shareMarker && len(segments) > 2:
			out = append(out, mqttShare, segments[1])
			segments = segments[2:]
			continue
		}
		break
	}

	for i, segment := range segments {
		switch {
		case segment == topic.SingleLevel:
			out = append(out, mqttSingle)
		case segment == topic.MultiLevel && i == len(segments)-1:
			out = append(out, mqttMulti)
		case strings.HasSuffix(segment, topic.SingleLevel):
			out = append(out, mqttSingle)
		default:
			out = append(out, segment)
		}
	}
	return strings.Join(out, topic.Separator)
}
