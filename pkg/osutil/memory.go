package osutil

import (
	"os"
	"strconv"
	"strings"

	"github.com/pbnjay/memory"
)

const (
	// This is the default value for cgroup v1's limit_in_bytes. This is not a
	// valid value and indicates that the memory is not restricted.
	// See https://unix.stackexchange.com/questions/420906/what-is-the-value-for-the-cgroups-limit-in-bytes-if-the-memory-is-not-restricted
	unrestrictedMemoryLimit = 9223372036854771712
)

var cgroupMemoryLimitLocations = []string{
	"/sys/fs/cgroup/memory.max",
	"/sys/fs/cgroup/memory/memory.limit_in_bytes",
}

// GetTotalMemory returns the total available memory size. The call is
// container-aware.
func GetTotalMemory() uint64 {
	return totalMemory(memory.TotalMemory(), cgroupMemoryLimitLocations)
}

func totalMemory(systemMemory uint64, limitLocations []string) uint64 {
	for _, location := range limitLocations {
		limit, ok := readMemoryLimit(location)
		if ok && limit < systemMemory {
			return limit
		}
	}
	return systemMemory
}

func readMemoryLimit(location string) (uint64, bool) {
	contents, err := os.ReadFile(location)
	if err != nil {
		return 0, false
	}

	// cgroup v2 reports "max" when unrestricted
	value := strings.TrimSpace(string(contents))
	if value == "max" {
		return 0, false
	}

	limit, err := strconv.ParseUint(value, 10, 64)
	if err != nil || limit == 0 || limit == unrestrictedMemoryLimit {
		return 0, false
	}
	return limit, true
}
