package device

import (
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sys/cpu"
)

// DetectHostArch derives an architecture identity string for the machine
// kerntune runs on, used as the fingerprint arch field and the database
// file name when no discrete device is configured. The string is stable for
// a given machine: same CPU, same identity, same database.
func DetectHostArch() string {
	switch runtime.GOARCH {
	case "amd64":
		switch {
		case cpu.X86.HasAVX512F:
			return "cpu-avx512"
		case cpu.X86.HasAVX2:
			return "cpu-avx2"
		case cpu.X86.HasAVX:
			return "cpu-avx"
		default:
			return "cpu-sse2"
		}
	case "arm64":
		if cpu.ARM64.HasSVE {
			return "cpu-sve"
		}
		return "cpu-neon"
	default:
		return "cpu-" + runtime.GOARCH
	}
}

// HostComputeUnits reports the number of parallel compute units on the
// host, used by solvers for grid sizing when tuning on the CPU executor.
func HostComputeUnits() int {
	return runtime.NumCPU()
}

// SystemDbDir is the directory holding shipped read-only databases. It is a
// variable so packaging can relocate it at build time via -ldflags.
var SystemDbDir = "/usr/local/share/kerntune/db"

// SystemDbPath returns the read-only factory database path for an
// architecture.
func SystemDbPath(arch string) string {
	return filepath.Join(SystemDbDir, arch+".kdb.txt")
}

// UserDbPath returns the writable per-install database path for an
// architecture, under the user cache directory.
func UserDbPath(arch string) (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "kerntune", arch+".ukdb.txt"), nil
}
