//go:build linux

package mounter

func newPlatformMounter(cfg *Config) Mounter {
	return NewLoop(cfg)
}
