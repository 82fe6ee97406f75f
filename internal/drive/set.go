package drive

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ajaxzhan/boxdrive/internal/logging"
	"github.com/ajaxzhan/boxdrive/internal/pathutil"
	"github.com/ajaxzhan/boxdrive/internal/volume"
	"github.com/ajaxzhan/boxdrive/pkg/types"
)

// EventType is the kind of change a drive set reports to subscribers.
type EventType int

const (
	DriveQueued EventType = iota
	DriveDequeued
	DriveMounted
	DriveUnmounted
)

func (t EventType) String() string {
	switch t {
	case DriveQueued:
		return "queued"
	case DriveDequeued:
		return "dequeued"
	case DriveMounted:
		return "mounted"
	case DriveUnmounted:
		return "unmounted"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is delivered to subscribers after the change has been applied.
type Event struct {
	Type  EventType
	Drive *Drive
}

// Letter ranges for automatic assignment. Z is the emulator's internal drive.
const (
	floppyLetters  = "AB"
	hardDiskLetter = "CDEFGHIJKLMNOPQRSTUVWXY"
	upperLetters   = "DEFGHIJKLMNOPQRSTUVWXY"
	virtualLetters = "Z"
)

func candidateLetters(t types.DriveType, avoidDriveC bool) string {
	switch t {
	case types.DriveFloppy:
		return floppyLetters + upperLetters
	case types.DriveCDROM:
		return upperLetters
	case types.DriveVirtual:
		return virtualLetters
	default:
		if avoidDriveC {
			return upperLetters
		}
		return hardDiskLetter
	}
}

// Set holds the drives of one emulation session: every queued drive, and at
// most one mounted drive per letter.
type Set struct {
	mu      sync.Mutex
	queue   []*Drive
	mounted map[string]*Drive
	order   map[*Drive]uint64
	seq     uint64

	subscribers map[int]func(Event)
	nextSub     int
}

// NewSet creates an empty drive set.
func NewSet() *Set {
	return &Set{
		mounted:     make(map[string]*Drive),
		order:       make(map[*Drive]uint64),
		subscribers: make(map[int]func(Event)),
	}
}

// Subscribe registers fn for drive events and returns a function that removes it.
// fn is called synchronously, without the set's lock held.
func (s *Set) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *Set) notify(events ...Event) {
	s.mu.Lock()
	subs := make([]func(Event), 0, len(s.subscribers))
	ids := make([]int, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		subs = append(subs, s.subscribers[id])
	}
	s.mu.Unlock()

	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// =============================================================================
// Queue
// =============================================================================

// Enqueue adds d to the set without mounting it. A drive without a letter is
// given the first letter for its type that no queued drive uses.
func (s *Set) Enqueue(d *Drive) error {
	s.mu.Lock()
	if s.isQueuedLocked(d) {
		s.mu.Unlock()
		return nil
	}
	if d.letter == "" {
		letter, err := s.freeLetterLocked(d.driveType, false, true)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		d.letter = letter
		d.hasAutodetectedLetter = false
		d.queuedLetter = true
	}
	s.enqueueLocked(d)
	s.mu.Unlock()

	logging.Debug("Queued drive", logging.String("drive", d.String()))
	s.notify(Event{Type: DriveQueued, Drive: d})
	return nil
}

func (s *Set) enqueueLocked(d *Drive) {
	s.queue = append(s.queue, d)
	s.seq++
	s.order[d] = s.seq
}

func (s *Set) isQueuedLocked(d *Drive) bool {
	_, ok := s.order[d]
	return ok
}

// Dequeue removes d from the set. Mounted drives must be unmounted first.
func (s *Set) Dequeue(d *Drive) error {
	s.mu.Lock()
	if d.mounted.Load() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrDriveMounted, d)
	}
	if !s.dequeueLocked(d) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.notify(Event{Type: DriveDequeued, Drive: d})
	return nil
}

func (s *Set) dequeueLocked(d *Drive) bool {
	for i, q := range s.queue {
		if q == d {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			delete(s.order, d)
			return true
		}
	}
	return false
}

// =============================================================================
// Mounting
// =============================================================================

// Mount makes d visible to DOS. d is queued if it was not already.
// It fails with ErrLetterInUse when another drive holds the letter and
// opts.Replace is not set, and with ErrDriveLocked when that drive is locked.
func (s *Set) Mount(d *Drive, opts types.MountOptions) (*Drive, error) {
	s.mu.Lock()
	if d.mounted.Load() {
		s.mu.Unlock()
		return d, nil
	}

	letter := d.letter
	replace := opts.Replace
	if (letter == "" || d.queuedLetter) && opts.KeepWithSameType && (d.driveType == types.DriveCDROM || d.driveType == types.DriveFloppy) {
		if same := s.firstMountedOfTypeLocked(d.driveType); same != nil {
			letter = same.letter
			replace = true
		}
	}
	if letter == "" {
		var err error
		if letter, err = s.freeLetterLocked(d.driveType, opts.AvoidDriveC, false); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}

	var events []Event
	if existing := s.mounted[letter]; existing != nil {
		if !replace {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s:", types.ErrLetterInUse, letter)
		}
		if existing.locked {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", types.ErrDriveLocked, existing)
		}
		if err := s.unmountLocked(existing); err != nil {
			logging.Warn("Failed to release replaced drive",
				logging.String("drive", existing.String()), logging.Err(err))
		}
		events = append(events, Event{Type: DriveUnmounted, Drive: existing})
	}

	if err := d.SetShadowingEnabled(opts.UseShadowing); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to set up shadowing: %w", err)
	}
	d.letter = letter
	d.hasAutodetectedLetter = false
	d.queuedLetter = false
	d.mounted.Store(true)
	s.mounted[letter] = d
	if !s.isQueuedLocked(d) {
		s.enqueueLocked(d)
	}
	s.mu.Unlock()

	logging.Info("Mounted drive",
		logging.String("letter", letter),
		logging.String("type", d.driveType.String()),
		logging.String("source", d.sourceURL),
		logging.Bool("shadowed", d.IsShadowed()))
	s.notify(append(events, Event{Type: DriveMounted, Drive: d})...)
	return d, nil
}

// Unmount removes d from DOS. It stays queued. Locked drives cannot be unmounted.
func (s *Set) Unmount(d *Drive) error {
	s.mu.Lock()
	if !d.mounted.Load() || s.mounted[d.letter] != d {
		s.mu.Unlock()
		return nil
	}
	if d.locked {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrDriveLocked, d)
	}
	err := s.unmountLocked(d)
	s.mu.Unlock()

	logging.Info("Unmounted drive", logging.String("letter", d.letter))
	s.notify(Event{Type: DriveUnmounted, Drive: d})
	return err
}

func (s *Set) unmountLocked(d *Drive) error {
	delete(s.mounted, d.letter)
	d.mounted.Store(false)
	if err := d.Close(); err != nil {
		return fmt.Errorf("failed to release drive %s: %w", d.letter, err)
	}
	return nil
}

func (s *Set) firstMountedOfTypeLocked(t types.DriveType) *Drive {
	var found *Drive
	for _, d := range s.mounted {
		if d.driveType == t && (found == nil || d.letter < found.letter) {
			found = d
		}
	}
	return found
}

// freeLetterLocked picks the first letter for t that is not mounted, or with
// includeQueued, not used by any queued drive either.
func (s *Set) freeLetterLocked(t types.DriveType, avoidDriveC, includeQueued bool) (string, error) {
	taken := make(map[string]bool, len(s.mounted))
	for letter := range s.mounted {
		taken[letter] = true
	}
	if includeQueued {
		for _, d := range s.queue {
			taken[d.letter] = true
		}
	}
	for _, r := range candidateLetters(t, avoidDriveC) {
		if letter := string(r); !taken[letter] {
			return letter, nil
		}
	}
	return "", fmt.Errorf("%w for %s drive", types.ErrNoFreeLetter, t.Description())
}

// =============================================================================
// Queries
// =============================================================================

// DriveAtLetter returns the drive mounted at letter.
func (s *Set) DriveAtLetter(letter string) (*Drive, bool) {
	letter, _ = SplitDOSPath(letter + ":")
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.mounted[letter]
	return d, ok
}

// MountedDrives returns the mounted drives in letter order.
func (s *Set) MountedDrives() []*Drive {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mountedLocked()
}

func (s *Set) mountedLocked() []*Drive {
	drives := make([]*Drive, 0, len(s.mounted))
	for _, d := range s.mounted {
		drives = append(drives, d)
	}
	sort.Slice(drives, func(i, j int) bool {
		return drives[i].letter < drives[j].letter
	})
	return drives
}

// AllDrives returns every queued drive, by letter and then queue order.
func (s *Set) AllDrives() []*Drive {
	s.mu.Lock()
	defer s.mu.Unlock()
	drives := append([]*Drive(nil), s.queue...)
	sort.SliceStable(drives, func(i, j int) bool {
		return drives[i].LetterCompare(drives[j]) < 0
	})
	return drives
}

// QueuedDrivesAtLetter returns the drives queued for letter in queue order.
func (s *Set) QueuedDrivesAtLetter(letter string) []*Drive {
	letter, _ = SplitDOSPath(letter + ":")
	s.mu.Lock()
	defer s.mu.Unlock()
	var drives []*Drive
	for _, d := range s.queue {
		if d.letter == letter {
			drives = append(drives, d)
		}
	}
	return drives
}

// QueuedDriveRepresentingURL returns the queued drive that is url itself.
func (s *Set) QueuedDriveRepresentingURL(url string) (*Drive, bool) {
	for _, d := range s.AllDrives() {
		if d.RepresentsLogicalURL(url) {
			return d, true
		}
	}
	return nil, false
}

// =============================================================================
// Lifecycle
// =============================================================================

// HandleVolumeEvent reacts to host volume changes. Drives whose source lived
// on an unmounted volume are unmounted and dequeued, locked or not; image
// drives are told so they drop a stale mount location.
func (s *Set) HandleVolumeEvent(ev volume.Event) {
	s.mu.Lock()
	var gone []*Drive
	var events []Event
	if ev.Type == volume.Unmounted {
		for _, d := range append([]*Drive(nil), s.queue...) {
			if d.IsVirtual() || !pathutil.IsBasedIn(d.sourceURL, ev.Path) {
				continue
			}
			if d.mounted.Load() {
				if err := s.unmountLocked(d); err != nil {
					logging.Debug("Release after eject failed", logging.String("drive", d.String()), logging.Err(err))
				}
				events = append(events, Event{Type: DriveUnmounted, Drive: d})
			}
			s.dequeueLocked(d)
			events = append(events, Event{Type: DriveDequeued, Drive: d})
			gone = append(gone, d)
		}
	}
	remaining := append([]*Drive(nil), s.queue...)
	s.mu.Unlock()

	for _, d := range remaining {
		d.HandleVolumeEvent(ev)
	}
	if len(gone) > 0 {
		logging.Info("Removed drives on ejected volume",
			logging.String("volume", ev.Path), logging.Int("count", len(gone)))
	}
	s.notify(events...)
}

// Close unmounts every drive, including locked ones, and empties the set.
func (s *Set) Close() error {
	s.mu.Lock()
	var firstErr error
	var events []Event
	for _, d := range s.mountedLocked() {
		if err := s.unmountLocked(d); err != nil && firstErr == nil {
			firstErr = err
		}
		events = append(events, Event{Type: DriveUnmounted, Drive: d})
	}
	s.queue = nil
	s.order = make(map[*Drive]uint64)
	s.mu.Unlock()

	s.notify(events...)
	return firstErr
}
