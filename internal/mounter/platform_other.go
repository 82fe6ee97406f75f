//go:build !linux && !darwin

package mounter

func newPlatformMounter(cfg *Config) Mounter {
	return Unsupported{}
}
