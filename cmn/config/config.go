// Package config holds the client-wide Config struct. The session, shm,
// and rpc packages do not import it; they use their own constants. Loaded
// from JSON with
// github.com/json-iterator/go, same library the rest of the pack reaches
// for (dsort.js, ais/prxtxn.go's config decode) rather than encoding/json.
package config

import (
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/watt-toolkit/pjrmi/cmn/cos"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Compression names the codec Config.Compress/Decompress apply to a bulk
// payload. It is a local setting: the handshake neither carries nor
// negotiates it.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionLZ4  Compression = "lz4"
	CompressionZstd Compression = "zstd"
)

// Config is the client-side connection configuration: everything that
// isn't negotiated over the wire but still needs to vary per deployment.
type Config struct {
	// SHMDir enables the shared-memory fast path for array transfer when
	// non-empty and the connection is to localhost (§4.9). Empty disables
	// it unconditionally.
	SHMDir string `json:"shm_dir"`

	// DropBatchSize and DropFlushInterval bound how long a dropped handle
	// can linger before the server learns about it (§4.6).
	DropBatchSize     int           `json:"drop_batch_size"`
	DropFlushInterval time.Duration `json:"drop_flush_interval"`

	// Workers sizes the correlator's worker pool for reentrant
	// connections (§4.5); zero means non-reentrant only.
	Workers int64 `json:"workers"`

	// SHMIdleEvictAge is how long an unacknowledged SHM file is kept
	// before the background cleaner unlinks it (§4.9).
	SHMIdleEvictAge time.Duration `json:"shm_idle_evict_age"`

	// Compression picks the codec Compress/Decompress use; it is never sent
	// on the wire.
	Compression Compression `json:"compression"`

	// TypeCachePath, when non-empty, persists fetched type descriptors to
	// disk (msgp-encoded) so a reconnect to the same server skips
	// refetching the whole bootstrap set.
	TypeCachePath string `json:"type_cache_path"`
}

// Default mirrors the constants session/shm/rpc hardcode. Changing a
// Config value does not change those packages' behaviour.
func Default() Config {
	return Config{
		DropBatchSize:     100,
		DropFlushInterval: time.Second,
		SHMIdleEvictAge:   5 * time.Second,
		Compression:       CompressionNone,
	}
}

// Load reads and validates a Config from path, falling back to Default's
// values for any field path's JSON omits.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, cos.NewErrResource("config: cannot read " + path + ": " + err.Error())
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, cos.NewErrResource("config: cannot parse " + path + ": " + err.Error())
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Compression {
	case CompressionNone, CompressionLZ4, CompressionZstd:
	default:
		return cos.NewErrResource("config: unknown compression codec " + string(c.Compression))
	}
	if c.DropBatchSize < 0 {
		return cos.NewErrResource("config: drop_batch_size must be >= 0")
	}
	return nil
}

// Save writes c to path as indented JSON, for a client that wants to
// persist a config it built programmatically.
func (c Config) Save(path string) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
