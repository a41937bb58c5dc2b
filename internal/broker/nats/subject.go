package nats

import (
	"errors"
	"fmt"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/topic"
	"strings"
)

const (
	shareMarker    = "#share"
	noExportMarker = "#noexport"
	natsSeparator  = "."
)

var ErrInvalidSubject = errors.New("'>' is only allowed as the last segment of a subject")

// Subject converts a subscription pattern into a NATS subject and queue group.
// Prefix segments like "dog*" widen to "*"; exact matching happens client side.
func Subject(pattern string) (subject string, queue string, err error) {
	segments := topic.Split(pattern)
	for len(segments) > 0 {
		if segments[0] == noExportMarker {
			segments = segments[1:]
			continue
		}
		if segments[0] == shareMarker && len(segments) > 2 {
			queue = segments[1]
			segments = segments[2:]
			continue
		}
		break
	}

	out := make([]string, len(segments))
	for i, segment := range segments {
		switch {
		case segment == topic.MultiLevel && i == len(segments)-1:
			out[i] = topic.MultiLevel
		case segment == topic.MultiLevel:
			return "", "", fmt.Errorf("%w: %q", ErrInvalidSubject, pattern)
		case strings.HasSuffix(segment, topic.SingleLevel):
			out[i] = topic.SingleLevel
		default:
			out[i] = segment
		}
	}
	return strings.Join(out, natsSeparator), queue, nil
}

// Destination maps a topic onto a NATS subject.
func Destination(t string) string {
	return strings.ReplaceAll(t, topic.Separator, natsSeparator)
}

// Topic maps a NATS subject back onto a topic.
func Topic(subject string) string {
	return strings.ReplaceAll(subject, natsSeparator, topic.Separator)
}
