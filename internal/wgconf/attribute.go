package wgconf

import (
	"regexp"
	"strings"
)

var linePattern = regexp.MustCompile(`^(\w+)\s*=\s*([^\s#][^#]*)$`)

// attribute is one "Key = Value" line. Keys are matched case-sensitively.
type attribute struct {
	key   string
	value string
}

func parseAttribute(line string) (attribute, bool) {
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return attribute{}, false
	}
	return attribute{key: m[1], value: strings.TrimSpace(m[2])}, true
}

func writeAttr(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteString(" = ")
	b.WriteString(value)
	b.WriteByte('\n')
}
