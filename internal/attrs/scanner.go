package attrs

import (
	"golang.org/x/net/html"
)

// scanner is a tolerant tokenizer for name[=("value"|'value'|value)] groups.
type scanner struct {
	src string
	pos int
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.src) && isSpace(s.src[s.pos]) {
		s.pos++
	}
}

// next returns the next attribute. ok is false for skipped tokens (tag names,
// stray characters); done is true once the input or the opening tag ends.
func (s *scanner) next() (name, value string, ok, done bool) {
	for s.pos < len(s.src) && (isSpace(s.src[s.pos]) || s.src[s.pos] == '/') {
		s.pos++
	}
	if s.pos >= len(s.src) || s.src[s.pos] == '>' {
		return "", "", false, true
	}

	if s.src[s.pos] == '<' {
		for s.pos < len(s.src) && !isSpace(s.src[s.pos]) && s.src[s.pos] != '>' {
			s.pos++
		}
		return "", "", false, false
	}

	start := s.pos
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if isSpace(c) || c == '=' || c == '>' || c == '/' {
			break
		}
		s.pos++
	}
	name = s.src[start:s.pos]

	s.skipSpace()
	if s.pos < len(s.src) && s.src[s.pos] == '=' {
		s.pos++
		s.skipSpace()
		value = s.value()
	}

	if name == "" {
		if start == s.pos {
			s.pos++
		}
		return "", "", false, false
	}

	return name, value, true, false
}

func (s *scanner) value() string {
	if s.pos >= len(s.src) {
		return ""
	}

	if q := s.src[s.pos]; q == '"' || q == '\'' {
		s.pos++
		start := s.pos
		for s.pos < len(s.src) && s.src[s.pos] != q {
			s.pos++
		}
		raw := s.src[start:s.pos]
		if s.pos < len(s.src) {
			s.pos++
		}
		return html.UnescapeString(raw)
	}

	start := s.pos
	for s.pos < len(s.src) && !isSpace(s.src[s.pos]) && s.src[s.pos] != '>' {
		s.pos++
	}
	return html.UnescapeString(s.src[start:s.pos])
}
