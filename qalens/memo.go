package qalens

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// memoLimit bounds how many derived results a session keeps. Keys embed every upstream
// version, so superseded entries are never read again and can be dropped wholesale.
const memoLimit = 64

type memo struct {
	m map[string]any
}

func newMemo() *memo {
	return &memo{m: make(map[string]any)}
}

func (c *memo) get(key string) (any, bool) {
	v, ok := c.m[key]
	return v, ok
}

func (c *memo) put(key string, v any) {
	if len(c.m) >= memoLimit {
		c.reset()
	}
	c.m[key] = v
}

func (c *memo) reset() {
	c.m = make(map[string]any)
}

func (c *memo) size() int {
	return len(c.m)
}

// memoKey hashes a stage name and its upstream identities into a cache key.
func memoKey(stage string, parts ...any) string {
	var b strings.Builder
	b.WriteString(stage)
	for _, p := range parts {
		fmt.Fprintf(&b, "|%v", p)
	}
	h := sha1.Sum([]byte(b.String()))
	return stage + ":" + hex.EncodeToString(h[:])
}
