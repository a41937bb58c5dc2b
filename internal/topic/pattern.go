package topic

import (
	"errors"
	lru "github.com/hashicorp/golang-lru/v2"
	"strings"
)

const (
	namedPrefix      = ":"
	DefaultCacheSize = 512
)

var ErrEmptyPattern = errors.New("subscription pattern is empty")

// Pattern is a subscription pattern with its named wildcards rewritten to "*".
type Pattern struct {
	Raw      string
	Wire     string
	Segments []string
	// Params maps a segment index (after prefix stripping) to the wildcard name.
	Params map[int]string
}

// Compile rewrites ":name" segments to "*" and keeps their positions for Extract.
func Compile(raw string) (*Pattern, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyPattern
	}

	segments := Split(raw)
	prefixLen := len(segments) - len(StripPrefixes(segments))
	params := make(map[int]string)
	wire := make([]string, len(segments))

	for i, segment := range segments {
		if i >= prefixLen && len(segment) > 1 && strings.HasPrefix(segment, namedPrefix) {
			params[i-prefixLen] = segment[1:]
			wire[i] = SingleLevel
			continue
		}
		wire[i] = segment
	}

	return &Pattern{
		Raw:      raw,
		Wire:     strings.Join(wire, Separator),
		Segments: wire,
		Params:   params,
	}, nil
}

// Cache holds compiled patterns by their raw text. Callers must not modify
// the returned Pattern.
type Cache struct {
	patterns *lru.Cache[string, *Pattern]
}

func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	patterns, _ := lru.New[string, *Pattern](size)
	return &Cache{patterns: patterns}
}

func (c *Cache) Compile(raw string) (*Pattern, error) {
	if p, ok := c.patterns.Get(raw); ok {
		return p, nil
	}
	p, err := Compile(raw)
	if err != nil {
		return nil, err
	}
	c.patterns.Add(raw, p)
	return p, nil
}

func (c *Cache) Len() int {
	return c.patterns.Len()
}

func (p *Pattern) Matches(topic string) bool {
	return Match(p.Segments, topic)
}

// Extract resolves the named wildcards of p against a concrete topic.
func (p *Pattern) Extract(topic string) map[string]string {
	result := make(map[string]string, len(p.Params))
	if len(p.Params) == 0 {
		return result
	}
	levels := Split(topic)
	for index, name := range p.Params {
		if index < len(levels) {
			result[name] = levels[index]
		}
	}
	return result
}
