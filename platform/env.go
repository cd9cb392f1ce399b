package platform

import "os"

// EnvOptions mirrors the environment-sourced half of Options (spec.md
// §6 "External Interfaces" environment variables), kept separate from
// Options so callers that already parsed their own environment (e.g.
// an embedding EGL implementation with its own config layer) can build
// Options directly without going through os.Getenv.
type EnvOptions struct {
	AllowOffload    bool
	RequestedDevice string
	ForceNVGLX      bool
}

// ParseEnv reads the environment variables spec.md §6 lists, following
// the teacher's convention of plain os.Getenv lookups rather than a
// struct-tag config library.
func ParseEnv() EnvOptions {
	var e EnvOptions
	if v := os.Getenv("__NV_PRIME_RENDER_OFFLOAD"); v == "1" {
		e.AllowOffload = true
	}
	e.RequestedDevice = os.Getenv("__NV_PRIME_RENDER_OFFLOAD_PROVIDER")
	if v := os.Getenv("__NV_FORCE_NVGLX_COMPAT"); v == "1" {
		e.ForceNVGLX = true
	}
	return e
}

// ApplyEnv folds parsed environment options into an Options value,
// without overriding fields the caller already set explicitly.
func (e EnvOptions) ApplyEnv(opts Options) Options {
	if e.AllowOffload {
		opts.AllowOffload = true
	}
	if opts.RequestedDevice == "" {
		opts.RequestedDevice = e.RequestedDevice
	}
	if e.ForceNVGLX {
		opts.ForceNVGLX = true
	}
	return opts
}
