//go:build darwin

package mounter

func newPlatformMounter(cfg *Config) Mounter {
	return NewHdiutil(cfg)
}
