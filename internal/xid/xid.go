package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// New returns a prefixed, time-ordered identifier, e.g. "rcp-1756600000-a1b2c3".
func New(prefix string) string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().Unix(), hex.EncodeToString(buf))
}

// Receipt returns a printable receipt number like "RCP-1B2C3D4E".
func Receipt() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		ts := fmt.Sprintf("%d", time.Now().UnixNano())
		return "RCP-" + ts[len(ts)-8:]
	}
	return "RCP-" + strings.ToUpper(hex.EncodeToString(buf))
}
