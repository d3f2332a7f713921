package xdma

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Naming describes how the driver names the device files of one card
type Naming struct {
	// Separator joins a card root and a device name, "_" on Linux
	// ("/dev/xdma0_user") and "\" on Windows ("<interface path>\user")
	Separator string

	// Channels is the number of DMA channels the driver exposes per direction
	Channels int
}

var (
	// LinuxNaming is the naming used by the Linux reference driver
	LinuxNaming = Naming{Separator: "_", Channels: 1}

	// WindowsNaming is the naming used by the Windows reference driver
	WindowsNaming = Naming{Separator: `\`, Channels: 4}
)

// ParseNaming converts "linux" or "windows" to a Naming
func ParseNaming(s string) (Naming, error) {
	switch strings.ToLower(s) {
	case "linux", "":
		return LinuxNaming, nil
	case "windows":
		return WindowsNaming, nil
	default:
		return Naming{}, fmt.Errorf("naming must be a member of {linux, windows}, got %q", s)
	}
}

// Path returns the path of the named device file of the card at root
func (n Naming) Path(root, name string) string {
	return root + n.Separator + name
}

// C2H returns the path of card-to-host channel ch
func (n Naming) C2H(root string, ch int) string {
	return n.Path(root, fmt.Sprintf("c2h_%d", ch))
}

// H2C returns the path of host-to-card channel ch
func (n Naming) H2C(root string, ch int) string {
	return n.Path(root, fmt.Sprintf("h2c_%d", ch))
}

// DevicePaths lists the distinct card roots in dir, e.g. /dev/xdma0 for
// /dev/xdma0_user, /dev/xdma0_c2h_0, ...  The result is sorted.
func DevicePaths(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		root := strings.SplitN(name, "_", 2)[0]
		seen[filepath.Join(dir, root)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
