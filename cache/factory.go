package cache

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/Thomah6/fetchyourkeys-go/internal/keymat"
)

// Config carries the factory knobs. The zero value selects the
// development backend with the platform default directory and a private
// registry.
type Config struct {
	// Environment selects the backend: disk for development, memory for
	// production. Unrecognized values fall back to development with a
	// warning.
	Environment string

	// Dir overrides the disk cache directory. Empty means DefaultDir.
	Dir string

	// Registry owns memory-backend sharing across clients. Nil means a
	// private registry: no sharing.
	Registry *Registry

	// Material is apiKey's already-derived key material, when the caller
	// has it. Nil means the factory derives it; the key derivation is
	// deliberately slow, so callers that derived once should pass it on.
	// The store takes ownership either way.
	Material *keymat.Material

	// Logger receives diagnostics. Pass zerolog.Nop() to silence.
	Logger zerolog.Logger
}

// New validates apiKey and builds the backend for the configured
// environment, deriving the key material unless cfg supplies it. Disk
// construction failure degrades to a memory store rather than failing:
// lookup capability matters more than persistence.
func New(apiKey string, cfg Config) (Store, error) {
	if apiKey == "" {
		destroyIfSet(cfg.Material)
		return nil, ErrMissingAPIKey
	}
	if len(apiKey) < MinAPIKeyLen {
		destroyIfSet(cfg.Material)
		return nil, ErrAPIKeyTooShort
	}

	env, known := NormalizeEnvironment(cfg.Environment)
	if !known {
		cfg.Logger.Warn().
			Str("environment", cfg.Environment).
			Str("fallback", env).
			Msg("unknown environment, using development cache")
	}

	material := cfg.Material
	if material == nil {
		m, err := keymat.Derive(apiKey)
		if err != nil {
			return nil, &SecurityError{Op: "derive", Err: err}
		}
		material = m
	}

	if env == EnvProduction {
		return memoryStore(material, cfg), nil
	}

	st, err := NewDiskStore(material, cfg.Dir, cfg.Logger)
	if err != nil {
		cfg.Logger.Warn().Err(err).Msg("disk cache unavailable, falling back to memory")
		return memoryStore(material, cfg), nil
	}
	return st, nil
}

func destroyIfSet(m *keymat.Material) {
	if m != nil {
		m.Destroy()
	}
}

func memoryStore(material *keymat.Material, cfg Config) *MemoryStore {
	reg := cfg.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	st, created := reg.GetOrCreate(material, cfg.Logger)
	if !created {
		cfg.Logger.Debug().Str("cache_id", st.CacheID()).Msg("reusing warm memory cache")
	}
	return st
}

// NormalizeEnvironment maps a free-form environment tag to one of the
// canonical values. known is false when the tag was unrecognized and the
// development default was assumed.
func NormalizeEnvironment(env string) (normalized string, known bool) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "dev", "development":
		return EnvDevelopment, true
	case "prod", "production":
		return EnvProduction, true
	default:
		return EnvDevelopment, false
	}
}
