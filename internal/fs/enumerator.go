package fs

import (
	"os"
	"path"

	"github.com/ajaxzhan/boxdrive/internal/pathutil"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// EnumerationOptions control which entries a walk visits and yields.
// Type and predicate filters decide what is yielded, never what is descended into.
type EnumerationOptions struct {
	SkipHidden          bool
	SkipSubdirectories  bool
	SkipPackageContents bool // packages are yielded, their contents are not
	FileTypes           []types.FileType
	Predicate           func(path string, info os.FileInfo) bool
}

// dirReader lists a directory by logical path, sorted by name.
type dirReader func(path string) ([]os.FileInfo, error)

type enumFrame struct {
	path    string
	level   int
	entries []os.FileInfo
	next    int
}

// Enumerator walks a subtree lazily, one entry per call to Next.
// Entries within a directory are visited in lexical order, parents before children.
type Enumerator struct {
	opts    EnumerationOptions
	handler ErrorHandler
	read    dirReader
	toURL   func(string) (string, error)

	stack []*enumFrame

	current      string
	currentPath  string
	currentInfo  os.FileInfo
	currentLevel int
	pending      *enumFrame

	err  error
	done bool
}

func newEnumerator(root string, opts EnumerationOptions, handler ErrorHandler, read dirReader, toURL func(string) (string, error)) (*Enumerator, error) {
	root = pathutil.NormalizeLogical(root)
	entries, err := read(root)
	if err != nil {
		return nil, &types.IOError{Op: "enumerate", Path: root, Err: err}
	}
	return &Enumerator{
		opts:    opts,
		handler: handler,
		read:    read,
		toURL:   toURL,
		stack:   []*enumFrame{{path: root, entries: entries}},
	}, nil
}

// Next advances to the next matching entry. It returns false when the walk is
// finished or was aborted; check Err to tell the two apart.
func (e *Enumerator) Next() bool {
	if e.done {
		return false
	}
	if e.pending != nil {
		frame := e.pending
		e.pending = nil
		if !e.descend(frame.path, frame.level) {
			return false
		}
	}

	for len(e.stack) > 0 {
		top := e.stack[len(e.stack)-1]
		if top.next >= len(top.entries) {
			e.stack = e.stack[:len(e.stack)-1]
			continue
		}
		info := top.entries[top.next]
		top.next++

		name := info.Name()
		if e.opts.SkipHidden && pathutil.IsHidden(name) {
			continue
		}

		p := path.Join(top.path, name)
		level := top.level + 1
		ft := types.FileTypeForName(name, info.IsDir())
		descend := info.IsDir() &&
			!e.opts.SkipSubdirectories &&
			!(e.opts.SkipPackageContents && ft.IsPackage())

		if !e.matches(p, info, ft) {
			if descend && !e.descend(p, level) {
				return false
			}
			continue
		}

		out := p
		if e.toURL != nil {
			u, err := e.toURL(p)
			if err != nil {
				if !e.handle(p, err) {
					return false
				}
				continue
			}
			out = u
		}

		e.current, e.currentPath, e.currentInfo, e.currentLevel = out, p, info, level
		if descend {
			e.pending = &enumFrame{path: p, level: level}
		}
		return true
	}

	e.done = true
	e.current, e.currentPath, e.currentInfo = "", "", nil
	return false
}

// Path returns the current entry: a logical path, or a host location for
// enumerators created through FileURLEnumerator.
func (e *Enumerator) Path() string {
	return e.current
}

// LogicalPath returns the logical path of the current entry.
func (e *Enumerator) LogicalPath() string {
	return e.currentPath
}

// Info returns the attributes of the current entry.
func (e *Enumerator) Info() os.FileInfo {
	return e.currentInfo
}

// Level is the depth of the current entry below the enumeration root, starting at 1.
func (e *Enumerator) Level() int {
	return e.currentLevel
}

// SkipDescendants stops the walk from entering the current directory.
func (e *Enumerator) SkipDescendants() {
	e.pending = nil
}

// Err returns the error that aborted the walk, if any.
func (e *Enumerator) Err() error {
	return e.err
}

// All drains the enumerator and returns every remaining entry.
func (e *Enumerator) All() ([]string, error) {
	var out []string
	for e.Next() {
		out = append(out, e.Path())
	}
	return out, e.Err()
}

func (e *Enumerator) matches(p string, info os.FileInfo, ft types.FileType) bool {
	if len(e.opts.FileTypes) > 0 && !ft.ConformsToAny(e.opts.FileTypes) {
		return false
	}
	if e.opts.Predicate != nil && !e.opts.Predicate(p, info) {
		return false
	}
	return true
}

func (e *Enumerator) descend(p string, level int) bool {
	entries, err := e.read(p)
	if err != nil {
		return e.handle(p, err)
	}
	e.stack = append(e.stack, &enumFrame{path: p, level: level, entries: entries})
	return true
}

// handle consults the error handler. A nil handler aborts.
func (e *Enumerator) handle(p string, err error) bool {
	if e.handler != nil && e.handler(p, err) {
		return true
	}
	e.err = &types.EnumerationError{Path: p, Err: err}
	e.done = true
	e.current, e.currentPath, e.currentInfo = "", "", nil
	return false
}
