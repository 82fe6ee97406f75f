// Package mock provides a mock implementation of the mounter.Mounter interface for testing.
package mock

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/ajaxzhan/boxdrive/internal/mounter"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// MockMounter records mount calls and maps images to preconfigured volume locations.
type MockMounter struct {
	mu      sync.Mutex
	volumes map[string]string // image -> volume it mounts at
	mounted map[string]string // image -> currently mounted volume

	mountCalls   int
	unmountCalls int

	// Hooks for customizing behavior in tests
	OnMount   func(image string) (string, error)
	OnUnmount func(volume string) error

	// Supported overrides the accepted image types.
	Supported []types.FileType
}

var _ mounter.Mounter = (*MockMounter)(nil)

// New creates a new MockMounter.
func New() *MockMounter {
	return &MockMounter{
		volumes: make(map[string]string),
		mounted: make(map[string]string),
	}
}

// SetVolume makes Mount(image) report volume as the mount location.
func (m *MockMounter) SetVolume(image, volume string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volumes[filepath.Clean(image)] = filepath.Clean(volume)
}

// MarkMounted simulates an image mounted by someone else.
func (m *MockMounter) MarkMounted(image, volume string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mounted[filepath.Clean(image)] = filepath.Clean(volume)
}

// ForgetVolume simulates the volume being ejected behind the mounter's back.
func (m *MockMounter) ForgetVolume(volume string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for image, v := range m.mounted {
		if v == filepath.Clean(volume) {
			delete(m.mounted, image)
		}
	}
}

// Name returns the name of this mounter implementation.
func (m *MockMounter) Name() string {
	return "mock"
}

// Mount returns the configured volume for image.
func (m *MockMounter) Mount(image string) (string, error) {
	m.mu.Lock()
	m.mountCalls++
	m.mu.Unlock()

	if m.OnMount != nil {
		return m.OnMount(image)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	image = filepath.Clean(image)
	volume, ok := m.volumes[image]
	if !ok {
		volume = "/Volumes/" + strings.TrimSuffix(filepath.Base(image), filepath.Ext(image))
	}
	m.mounted[image] = volume
	return volume, nil
}

// Unmount forgets the volume.
func (m *MockMounter) Unmount(volume string) error {
	m.mu.Lock()
	m.unmountCalls++
	m.mu.Unlock()

	if m.OnUnmount != nil {
		return m.OnUnmount(volume)
	}
	m.ForgetVolume(volume)
	return nil
}

// MountedVolume reports volumes mounted through this mock or marked as mounted.
func (m *MockMounter) MountedVolume(image string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.mounted[filepath.Clean(image)]
	return v, ok, nil
}

// SupportedImageTypes returns Supported, or every disk image type when unset.
func (m *MockMounter) SupportedImageTypes() []types.FileType {
	if m.Supported != nil {
		return m.Supported
	}
	return []types.FileType{types.FileTypeDiskImage}
}

// MountCalls returns how many times Mount was invoked.
func (m *MockMounter) MountCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mountCalls
}

// UnmountCalls returns how many times Unmount was invoked.
func (m *MockMounter) UnmountCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unmountCalls
}
