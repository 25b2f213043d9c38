// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - Uint/Uint64: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Uint64 gibt eine Funktion zurueck, die einen uint64 mit Default-Wert liest
func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"DFNET_DEBUG":        {"DFNET_DEBUG", LogLevel(), "Show additional debug information (e.g. DFNET_DEBUG=1)"},
		"DFNET_HOST":         {"DFNET_HOST", Host(), "IP Address for the dfnet server (default 127.0.0.1:11580)"},
		"DFNET_MODEL":        {"DFNET_MODEL", Model(), "Path of the default checkpoint (.safetensors or .pth)"},
		"DFNET_LOAD_TIMEOUT": {"DFNET_LOAD_TIMEOUT", LoadTimeout(), "How long to allow checkpoint loads to stall before giving up (default \"5m\")"},
		"DFNET_NUM_PARALLEL": {"DFNET_NUM_PARALLEL", NumParallel(), "Maximum number of parallel inference requests"},
		"DFNET_MAX_QUEUE":    {"DFNET_MAX_QUEUE", MaxQueue(), "Maximum number of queued requests"},
		"DFNET_NUM_THREADS":  {"DFNET_NUM_THREADS", NumThreads(), "Goroutines used per forward pass (default: all CPUs)"},
		"DFNET_MAX_PIXELS":   {"DFNET_MAX_PIXELS", MaxPixels(), "Largest image (width*height) accepted by the server"},
		"DFNET_NOMMAP":       {"DFNET_NOMMAP", NoMmap(), "Read checkpoints into memory instead of mapping them"},
		"DFNET_ORIGINS":      {"DFNET_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
