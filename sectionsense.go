package sectionsense

import (
	"context"
	"sort"
	"time"
)

// Domain types are defined in this file

// Instructor recorded when the portal does not list one for a section
const UnknownInstructor = "unknown"

// One offered section of one course, as listed by the registration portal
type Section struct {
	CourseID      string `json:"course_id" firestore:"course_id"`
	CourseCode    string `json:"course_code" firestore:"course_code"`
	CourseName    string `json:"course_name" firestore:"course_name"`
	SectionNumber string `json:"section_number" firestore:"section_number"`
	SectionID     string `json:"section_id" firestore:"section_id"`
	Instructor    string `json:"instructor" firestore:"instructor"`
}

// Key identifies a section across snapshots
func (s Section) Key() string {
	return s.CourseID + "_" + s.SectionID
}

func (s Section) String() string {
	return s.CourseCode + "*" + s.SectionNumber + "*" + s.Key()
}

// Snapshot is the full set of sections observed for one account at one point in time, keyed by Section.Key.
// A snapshot is never modified after it is produced; a newer one replaces it.
type Snapshot map[string]Section

// Sections returns the snapshot's sections ordered by course code, section number, then section id.
func (s Snapshot) Sections() []Section {
	sections := make([]Section, 0, len(s))
	for _, section := range s {
		sections = append(sections, section)
	}
	SortSections(sections)
	return sections
}

func (s Snapshot) Clone() Snapshot {
	clone := make(Snapshot, len(s))
	for k, v := range s {
		clone[k] = v
	}
	return clone
}

// SortSections orders sections by course code, section number, then section id
func SortSections(sections []Section) {
	sort.SliceStable(sections, func(i, j int) bool {
		a, b := sections[i], sections[j]
		if a.CourseCode != b.CourseCode {
			return a.CourseCode < b.CourseCode
		}
		if a.SectionNumber != b.SectionNumber {
			return a.SectionNumber < b.SectionNumber
		}
		return a.Key() < b.Key()
	})
}

// Secret holds a portal password. It formats as [redacted] so it never ends up in logs or replies.
type Secret string

func (s Secret) String() string {
	return "[redacted]"
}

func (s Secret) GoString() string {
	return "[redacted]"
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[redacted]"`), nil
}

// Reveal returns the plain password, only the navigator and stores should need this
func (s Secret) Reveal() string {
	return string(s)
}

// A monitored portal identity
type Account struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Password        Secret    `json:"password"`
	Sections        Snapshot  `json:"sections"`
	IntervalSeconds int       `json:"interval_seconds"`
	TotalChecks     int       `json:"total_checks"`
	TotalGained     int       `json:"total_gained"`
	TotalLost       int       `json:"total_lost"`
	LastCheck       time.Time `json:"last_check"`
	RegisteredAt    time.Time `json:"registered_at"`
}

// Longest accepted check interval, 30 days
const MaxIntervalSeconds = 30 * 24 * 60 * 60

// Interval is the configured check interval, capped at MaxIntervalSeconds
func (a Account) Interval() time.Duration {
	if a.IntervalSeconds > MaxIntervalSeconds {
		return MaxIntervalSeconds * time.Second
	}
	return time.Duration(a.IntervalSeconds) * time.Second
}

// Clone returns a copy that shares no mutable state with a
func (a Account) Clone() Account {
	clone := a
	clone.Sections = a.Sections.Clone()
	return clone
}

// Sections gained and lost between two snapshots
type Diff struct {
	Added   []Section `json:"added"`
	Removed []Section `json:"removed"`
}

func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Logs into the portal and returns the markup of the available sections page
type Navigator interface {
	Navigate(ctx context.Context, username string, password Secret) (string, error)
}

// Turns the available sections page into a snapshot.
// Returns ErrMalformedDocument when the page cannot be parsed at all.
type Extractor interface {
	Extract(markup string) (Snapshot, error)
}

// Persists accounts. Get returns ErrAccountNotFound for unknown ids.
// Put always replaces the whole record.
type AccountStore interface {
	Get(ctx context.Context, id string) (Account, error)
	Put(ctx context.Context, account Account) error
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]Account, error)
}

// Delivers text to an account's owner
type Messenger interface {
	Send(ctx context.Context, id string, text string) error
}

type EventKind int

const (
	EventCheckFailed EventKind = iota
	EventSectionsAdded
	EventSectionsRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventCheckFailed:
		return "check_failed"
	case EventSectionsAdded:
		return "sections_added"
	case EventSectionsRemoved:
		return "sections_removed"
	default:
		return "unknown"
	}
}

// Emitted by the checker after every check
type Event struct {
	Kind      EventKind
	AccountID string
	Sections  []Section
	Err       error
}

// Receives checker events, usually to notify the account owner
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

// Runs one check for one account
type CheckerService interface {
	Check(ctx context.Context, id string) (Diff, error)
}

// Operations exposed to front ends
type MonitorService interface {
	Onboard(ctx context.Context, id, username string, password Secret) (Snapshot, error)
	CheckNow(ctx context.Context, id string) (Diff, error)
	SetInterval(ctx context.Context, id string, seconds int) error
	Unregister(ctx context.Context, id string) (bool, error)
	Account(ctx context.Context, id string) (Account, error)
	Sections(ctx context.Context, id string) (Snapshot, error)
	List(ctx context.Context) ([]Account, error)
}
