package playout

import (
	"time"

	"github.com/danmuck/tvremote/internal/remote"
)

// Wire type tags.
const (
	TagEngine        = "playout.engine"
	TagFileManager   = "playout.file_manager"
	TagFileOperation = "playout.file_operation"
	TagDirectory     = "playout.media_directory"
	TagMedia         = "playout.media"
	TagCGController  = "playout.cg_controller"
)

// OperationStatus is the lifecycle of a FileOperation.
type OperationStatus string

const (
	StatusWaiting    OperationStatus = "waiting"
	StatusInProgress OperationStatus = "in_progress"
	StatusFinished   OperationStatus = "finished"
	StatusFailed     OperationStatus = "failed"
	StatusAborted    OperationStatus = "aborted"
)

// Done reports whether the status is terminal.
func (s OperationStatus) Done() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusAborted
}

// OperationKind selects what a FileOperation does.
type OperationKind string

const (
	KindCopy   OperationKind = "copy"
	KindMove   OperationKind = "move"
	KindDelete OperationKind = "delete"
)

func (k OperationKind) Valid() bool {
	switch k {
	case KindCopy, KindMove, KindDelete:
		return true
	default:
		return false
	}
}

type MediaStatus string

const (
	MediaUnknown   MediaStatus = "unknown"
	MediaAvailable MediaStatus = "available"
	MediaCopying   MediaStatus = "copying"
	MediaDeleted   MediaStatus = "deleted"
)

// CGElement is one selectable crawl, logo or parental rating graphic.
type CGElement struct {
	ID   uint8  `cbor:"id" json:"id"`
	Name string `cbor:"name" json:"name"`
}

// CGState is a whole-controller update applied by SetState.
type CGState struct {
	IsCGEnabled bool  `cbor:"is_cg_enabled"`
	Crawl       uint8 `cbor:"crawl"`
	Logo        uint8 `cbor:"logo"`
	Parental    uint8 `cbor:"parental"`
}

// DefaultTryCount is the number of attempts a file operation gets.
const DefaultTryCount = 15

var (
	EngineType = remote.NewType(TagEngine,
		remote.ValueProp[string]("Name"),
		remote.ValueProp[time.Time]("StartedAt"),
		remote.RefProp("FileManager"),
		remote.RefProp("CGElementsController"),
		remote.RefListProp("MediaDirectories"),
	)

	FileManagerType = remote.NewType(TagFileManager,
		remote.RefListProp("Operations"),
	).Event("OperationAdded", "OperationCompleted")

	FileOperationType = remote.NewType(TagFileOperation,
		remote.ValueProp[OperationKind]("Kind"),
		remote.RefProp("Source"),
		remote.RefProp("Destination"),
		remote.ValueProp[int]("TryCount"),
		remote.ValueProp[int]("Progress"),
		remote.ValueProp[bool]("IsIndeterminate"),
		remote.ValueProp[bool]("IsAborted"),
		remote.ValueProp[OperationStatus]("OperationStatus"),
		remote.ValueProp[time.Time]("ScheduledTime"),
		remote.ValueProp[time.Time]("StartTime"),
		remote.ValueProp[time.Time]("FinishedTime"),
		remote.ValueProp[[]string]("OperationOutput"),
		remote.ValueProp[[]string]("OperationWarning"),
	).Event("Success", "Failure", "Finished")

	DirectoryType = remote.NewType(TagDirectory,
		remote.ValueProp[string]("DirectoryName").Writable(),
		remote.ValueProp[string]("Folder"),
		remote.ValueProp[bool]("IsPrimary"),
		remote.RefListProp("Files"),
	)

	MediaType = remote.NewType(TagMedia,
		remote.ValueProp[string]("MediaName").Writable(),
		remote.ValueProp[string]("FileName"),
		remote.ValueProp[int64]("FileSize"),
		remote.ValueProp[time.Duration]("Duration"),
		remote.ValueProp[time.Time]("LastUpdated"),
		remote.ValueProp[MediaStatus]("MediaStatus"),
		remote.RefProp("Directory"),
	)

	CGControllerType = remote.NewType(TagCGController,
		remote.ValueProp[bool]("IsConnected"),
		remote.ValueProp[bool]("IsMaster"),
		remote.ValueProp[bool]("IsCGEnabled").Writable(),
		remote.ValueProp[bool]("IsWideScreen").Writable(),
		remote.ValueProp[uint8]("Crawl").Writable(),
		remote.ValueProp[uint8]("Logo").Writable(),
		remote.ValueProp[uint8]("Parental").Writable(),
		remote.ValueProp[uint8]("DefaultCrawl"),
		remote.ValueProp[uint8]("DefaultLogo"),
		remote.ValueProp[[]CGElement]("Crawls"),
		remote.ValueProp[[]CGElement]("Logos"),
		remote.ValueProp[[]CGElement]("Parentals"),
	).Event("Started")
)

// Methods are attached in init; declaring them inline would be an
// initialization cycle through the constructors they call.
func init() {
	FileManagerType.
		Method("Queue", queueMethod).
		Method("ClearFinished", clearFinishedMethod).
		Query("Pending", pendingQuery)
	FileOperationType.Method("Abort", abortMethod)
	DirectoryType.Query("GetFiles", getFilesQuery)
	CGControllerType.
		Method("Clear", cgClearMethod).
		Method("SetState", cgSetStateMethod)
}
