package gamebox

import (
	"errors"
	iofs "io/fs"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/ajaxzhan/boxdrive/internal/logging"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// IdentifierType records how a game identifier was produced.
type IdentifierType int

const (
	IdentifierUserSpecified IdentifierType = iota
	IdentifierUUID
	IdentifierEXEDigest
	IdentifierReverseDNS
)

func (t IdentifierType) String() string {
	switch t {
	case IdentifierUserSpecified:
		return "user"
	case IdentifierUUID:
		return "uuid"
	case IdentifierEXEDigest:
		return "exe-digest"
	case IdentifierReverseDNS:
		return "reverse-dns"
	default:
		return "unknown"
	}
}

// Launcher is a program shortcut stored in the game info.
type Launcher struct {
	Title        string `yaml:"title"`
	RelativePath string `yaml:"path"`
	Arguments    string `yaml:"arguments,omitempty"`
	Default      bool   `yaml:"default,omitempty"`
}

// GameInfo is the gamebox metadata persisted alongside the game.
type GameInfo struct {
	Identifier     string         `yaml:"identifier,omitempty"`
	IdentifierType IdentifierType `yaml:"identifier_type"`
	TargetProgram  string         `yaml:"target_program,omitempty"`
	CloseOnExit    bool           `yaml:"close_on_exit,omitempty"`
	Launchers      []Launcher     `yaml:"launchers,omitempty"`
}

// GameInfoURL is the location of the game info file.
func (g *Gamebox) GameInfoURL() string {
	return filepath.Join(g.path, GameInfoFileName)
}

// GameInfo returns the gamebox metadata, reading it on first use.
// A gamebox without a game info file has empty metadata.
func (g *Gamebox) GameInfo() (*GameInfo, error) {
	if g.info != nil {
		return g.info, nil
	}

	data, err := afero.ReadFile(g.fs, g.GameInfoURL())
	if errors.Is(err, iofs.ErrNotExist) {
		g.info = &GameInfo{}
		return g.info, nil
	}
	if err != nil {
		return nil, &types.IOError{Op: "read game info", Path: g.GameInfoURL(), Err: err}
	}

	info := &GameInfo{}
	if err := yaml.Unmarshal(data, info); err != nil {
		return nil, &types.IOError{Op: "parse game info", Path: g.GameInfoURL(), Err: err}
	}
	g.info = info
	return info, nil
}

// SaveGameInfo writes the current metadata back to the gamebox.
func (g *Gamebox) SaveGameInfo() error {
	info, err := g.GameInfo()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(info)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(g.fs, g.GameInfoURL(), data, 0644); err != nil {
		g.writable.Invalidate(g.path)
		return &types.IOError{Op: "write game info", Path: g.GameInfoURL(), Err: err}
	}
	return nil
}

// GameIdentifier returns the game's identifier. A gamebox without one is
// given a random UUID, which is saved when the gamebox is writable.
func (g *Gamebox) GameIdentifier() (string, error) {
	info, err := g.GameInfo()
	if err != nil {
		return "", err
	}
	if info.Identifier != "" {
		return info.Identifier, nil
	}

	info.Identifier = uuid.NewString()
	info.IdentifierType = IdentifierUUID
	logging.Debug("Generated game identifier",
		logging.String("gamebox", g.path),
		logging.String("identifier", info.Identifier))

	if g.IsWritable() {
		if err := g.SaveGameInfo(); err != nil {
			logging.Warn("Could not persist game identifier", logging.String("gamebox", g.path), logging.Err(err))
		}
	}
	return info.Identifier, nil
}

// SetGameIdentifier replaces the game's identifier and saves it.
func (g *Gamebox) SetGameIdentifier(id string, t IdentifierType) error {
	info, err := g.GameInfo()
	if err != nil {
		return err
	}
	info.Identifier = id
	info.IdentifierType = t
	return g.SaveGameInfo()
}
