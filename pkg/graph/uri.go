package graph

import (
	"strconv"
	"strings"
	"unicode"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const sessionAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Minter hands out node URIs for a single session. URIs have the form
// <namespace>run/<session>/<class>-<n> with n counting per class from 1.
type Minter struct {
	base     string
	counters map[string]int
}

// NewSessionID returns a random lowercase session id.
func NewSessionID() string {
	return gonanoid.MustGenerate(sessionAlphabet, 16)
}

// NewMinter returns a minter under a fresh random session id.
func NewMinter(namespace string) *Minter {
	return NewMinterWithSession(namespace, NewSessionID())
}

// NewMinterWithSession returns a minter under a caller-chosen session id.
func NewMinterWithSession(namespace, session string) *Minter {
	if namespace != "" && !strings.HasSuffix(namespace, "/") && !strings.HasSuffix(namespace, "#") {
		namespace += "/"
	}
	return &Minter{
		base:     namespace + "run/" + session + "/",
		counters: make(map[string]int),
	}
}

// Base returns the session namespace every minted URI starts with.
func (m *Minter) Base() string { return m.base }

// Mint returns the next URI for classHint.
func (m *Minter) Mint(classHint string) string {
	slug := slugify(classHint)
	m.counters[slug]++
	return m.base + slug + "-" + strconv.Itoa(m.counters[slug])
}

func slugify(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			return unicode.ToLower(r)
		case r == '-' || r == '_' || r == ' ':
			return '_'
		default:
			return -1
		}
	}, s)
	if s == "" {
		return "node"
	}
	return s
}
