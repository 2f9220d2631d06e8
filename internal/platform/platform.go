package platform

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
)

// ErrUnsupportedPlatform is returned when the host OS/arch pair has no bundled binary.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Profile identifies where the bundled dependent binary lives for one OS/arch pair.
type Profile struct {
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	Subdir   string `json:"subdir"`
	FileName string `json:"file_name"`
}

type key struct{ os, arch string }

// profiles is the set of recognized host combinations. Adding a platform
// means adding a row here.
var profiles = map[key]Profile{
	{"darwin", "amd64"}:  {OS: "darwin", Arch: "amd64", Subdir: "darwin-amd64", FileName: "rclone"},
	{"darwin", "arm64"}:  {OS: "darwin", Arch: "arm64", Subdir: "darwin-arm64", FileName: "rclone"},
	{"windows", "amd64"}: {OS: "windows", Arch: "amd64", Subdir: "windows-amd64", FileName: "rclone.exe"},
	{"linux", "amd64"}:   {OS: "linux", Arch: "amd64", Subdir: "linux-amd64", FileName: "rclone"},
}

// Lookup returns the profile for goos/goarch (runtime.GOOS/GOARCH spelling).
func Lookup(goos, goarch string) (Profile, error) {
	p, ok := profiles[key{goos, goarch}]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
	}
	return p, nil
}

// Current returns the profile of the running host.
func Current() (Profile, error) { return Lookup(runtime.GOOS, runtime.GOARCH) }

// Supported lists every recognized profile in a stable order.
func Supported() []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subdir < out[j].Subdir })
	return out
}

// BundledPath joins root/dir/<subdir>/<file name>.
func (p Profile) BundledPath(root, dir string) string {
	return filepath.Join(root, dir, p.Subdir, p.FileName)
}

// IsWindows reports whether the profile targets Windows.
func (p Profile) IsWindows() bool { return p.OS == "windows" }

func (p Profile) String() string { return p.OS + "/" + p.Arch }
