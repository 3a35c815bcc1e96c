package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/refindex/pkg/types"
)

// EventKind identifies a build event
type EventKind int

const (
	EventAdded EventKind = iota + 1
	EventChanged
	EventDeleted
	EventRenamed
	EventRebuildRequested
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventChanged:
		return "changed"
	case EventDeleted:
		return "deleted"
	case EventRenamed:
		return "renamed"
	case EventRebuildRequested:
		return "rebuild_requested"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one file-level change reported by the build system. Added,
// Changed and Renamed carry either the compiled file data or the content
// to extract it from; Data wins when both are set.
type Event struct {
	Kind    EventKind
	Path    string
	OldPath string // Renamed only
	Content []byte
	Data    *types.CompiledFileData
}

// Added reports a new file
func Added(path string, content []byte) Event {
	return Event{Kind: EventAdded, Path: path, Content: content}
}

// Changed reports a recompiled file
func Changed(path string, content []byte) Event {
	return Event{Kind: EventChanged, Path: path, Content: content}
}

// Deleted reports a removed file
func Deleted(path string) Event {
	return Event{Kind: EventDeleted, Path: path}
}

// Renamed reports a file moved from oldPath to newPath
func Renamed(oldPath, newPath string, content []byte) Event {
	return Event{Kind: EventRenamed, OldPath: oldPath, Path: newPath, Content: content}
}

// RebuildRequested reports that the build system wants a full rebuild
func RebuildRequested() Event {
	return Event{Kind: EventRebuildRequested}
}

func (e Event) needsData() bool {
	switch e.Kind {
	case EventAdded, EventChanged, EventRenamed:
		return true
	default:
		return false
	}
}

// Extractor turns one compiled file into its table contributions. It must
// be a pure function of content: the same content always yields the same
// data. It may return types.ErrNeedsFullRebuild when it knows an
// incremental update would be unsound.
type Extractor interface {
	Extract(ctx context.Context, path string, content []byte, names types.NameInterner) (*types.CompiledFileData, error)
}

// ExtractorFunc adapts a function to Extractor
type ExtractorFunc func(ctx context.Context, path string, content []byte, names types.NameInterner) (*types.CompiledFileData, error)

// Extract calls f
func (f ExtractorFunc) Extract(ctx context.Context, path string, content []byte, names types.NameInterner) (*types.CompiledFileData, error) {
	return f(ctx, path, content, names)
}

// Statistics contains statistics about applied events
type Statistics struct {
	FilesAdded      int
	FilesChanged    int
	FilesDeleted    int
	FilesRenamed    int
	FilesSkipped    int // unchanged extraction digest
	FilesFailed     int // extraction failed; the file contributes nothing
	FilesRetracted  int
	PostingsWritten int
	Duration        time.Duration
	ErrorMessages   []string
}

func (s *Statistics) add(o *Statistics) {
	s.FilesAdded += o.FilesAdded
	s.FilesChanged += o.FilesChanged
	s.FilesDeleted += o.FilesDeleted
	s.FilesRenamed += o.FilesRenamed
	s.FilesSkipped += o.FilesSkipped
	s.FilesFailed += o.FilesFailed
	s.FilesRetracted += o.FilesRetracted
	s.PostingsWritten += o.PostingsWritten
	s.ErrorMessages = append(s.ErrorMessages, o.ErrorMessages...)
}
