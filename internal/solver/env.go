package solver

import (
	"os"
	"strings"
	"sync"
)

// Environment overrides are read once per process:
//
//	KERNTUNE_DISABLE_AUTOTUNE=1          never search, always use the
//	                                     cached or default config
//	KERNTUNE_DEBUG_DISABLE_<SOLVER>=1    drop one solver from the
//	                                     candidate list, e.g.
//	                                     KERNTUNE_DEBUG_DISABLE_GEMM_GROUPED_FWD

var autotuneDisabled = sync.OnceValue(func() bool {
	return envEnabled(os.Getenv("KERNTUNE_DISABLE_AUTOTUNE"))
})

var disabledSolvers = sync.OnceValue(func() map[string]bool {
	disabled := make(map[string]bool)
	const prefix = "KERNTUNE_DEBUG_DISABLE_"
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		if envEnabled(value) {
			disabled[strings.TrimPrefix(name, prefix)] = true
		}
	}
	return disabled
})

func solverDisabled(id string) bool {
	return disabledSolvers()[envName(id)]
}

// envName converts a solver id like "GemmGroupedFwd" to the environment
// suffix "GEMM_GROUPED_FWD".
func envName(id string) string {
	var sb strings.Builder
	for i, r := range id {
		if i > 0 && r >= 'A' && r <= 'Z' {
			sb.WriteByte('_')
		}
		sb.WriteRune(r)
	}
	return strings.ToUpper(sb.String())
}

func envEnabled(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
