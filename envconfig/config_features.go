// config_features.go - Feature-Flags, Parallelitaet und Limits
//
// Dieses Modul enthaelt:
// - Feature-Flags (NoMmap)
// - Parallelitaets- und Queue-Einstellungen
// - Groessenlimits fuer den Server
package envconfig

// =============================================================================
// Feature-Flags
// =============================================================================

var (
	// NoMmap deaktiviert Memory-Mapping beim Lesen von Safetensors
	NoMmap = Bool("DFNET_NOMMAP")
)

// =============================================================================
// Parallelitaets- und Queue-Einstellungen
// =============================================================================

var (
	// NumParallel setzt die Anzahl gleichzeitig laufender Inferenzen
	// Konfigurierbar via DFNET_NUM_PARALLEL
	NumParallel = Uint("DFNET_NUM_PARALLEL", 1)

	// MaxQueue setzt die maximale Anzahl wartender Requests
	// Konfigurierbar via DFNET_MAX_QUEUE
	MaxQueue = Uint("DFNET_MAX_QUEUE", 64)

	// NumThreads begrenzt die Goroutinen pro Forward-Pass (0 = alle CPUs)
	// Konfigurierbar via DFNET_NUM_THREADS
	NumThreads = Uint("DFNET_NUM_THREADS", 0)
)

// =============================================================================
// Groessenlimits
// =============================================================================

var (
	// MaxPixels begrenzt die Bildgroesse pro Server-Request
	// Konfigurierbar via DFNET_MAX_PIXELS
	MaxPixels = Uint64("DFNET_MAX_PIXELS", 4096*4096)
)
