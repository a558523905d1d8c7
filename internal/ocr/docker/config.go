package docker

import (
	"time"
)

// Config holds the tesseract container settings.
type Config struct {
	// Image must provide the tesseract binary and the eng model.
	Image string

	// MemoryLimit in bytes. Large scans need more than a script sandbox.
	MemoryLimit int64

	// CPULimit in cores (0.5 = half a core).
	CPULimit float64

	// Timeout bounds one recognition, including the upload of the image.
	Timeout time.Duration

	// PoolSize is the number of warm containers kept ready.
	PoolSize int
}

// DefaultConfig returns a configuration suitable for local use.
func DefaultConfig() Config {
	return Config{
		Image:       "jitesoft/tesseract-ocr:latest",
		MemoryLimit: 512 * 1024 * 1024,
		CPULimit:    1.0,
		Timeout:     60 * time.Second,
		PoolSize:    1,
	}
}
