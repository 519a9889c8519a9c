package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Camera describes one discovered capture device.
type Camera struct {
	ID      int     `json:"id"`
	Name    string  `json:"name"`
	Backend string  `json:"backend"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	FPS     float64 `json:"fps"`
	Path    string  `json:"path,omitempty"`
	Active  bool    `json:"active"`
}

// CameraStatus summarises the camera manager.
type CameraStatus struct {
	State          string   `json:"state"`
	ActiveID       int      `json:"activeId"`
	Backend        string   `json:"backend,omitempty"`
	FramesRead     uint64   `json:"framesRead"`
	ReadFailures   uint64   `json:"readFailures"`
	ReinitFailures int      `json:"reinitFailures"`
	LastScan       string   `json:"lastScan,omitempty"`
	Cameras        []Camera `json:"cameras"`
}

// CameraList wraps the discovered devices.
type CameraList struct {
	ActiveID int      `json:"activeId"`
	Cameras  []Camera `json:"cameras"`
}

// Match is one accepted face match.
type Match struct {
	IdentityID *int64  `json:"identityId"`
	Label      string  `json:"label"`
	Score      float64 `json:"score"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// LoopStatus mirrors the capture loop counters and health.
type LoopStatus struct {
	Running           bool    `json:"running"`
	StartedAt         string  `json:"startedAt,omitempty"`
	Health            string  `json:"health"`
	ActiveCamera      int     `json:"activeCamera"`
	FramesRead        uint64  `json:"framesRead"`
	FramesSampled     uint64  `json:"framesSampled"`
	FramesMatched     uint64  `json:"framesMatched"`
	RecorderCalls     uint64  `json:"recorderCalls"`
	ReadFailures      uint64  `json:"readFailures"`
	LastSampleAt      string  `json:"lastSampleAt,omitempty"`
	LastOutcome       string  `json:"lastOutcome,omitempty"`
	LastError         string  `json:"lastError,omitempty"`
	LastResults       []Match `json:"lastResults"`
	PausedUntil       string  `json:"pausedUntil,omitempty"`
	UnavailablePauses int     `json:"unavailablePauses"`
}

// TemplateStatus summarises the loaded roster.
type TemplateStatus struct {
	Count     int             `json:"count"`
	Version   uint64          `json:"version"`
	Model     string          `json:"model,omitempty"`
	LoadedAt  string          `json:"loadedAt,omitempty"`
	CacheHits int             `json:"cacheHits"`
	Skipped   []SkippedPhoto  `json:"skipped,omitempty"`
	Templates []TemplateEntry `json:"templates,omitempty"`
}

// SkippedPhoto is a roster photo left out of the last load.
type SkippedPhoto struct {
	Name   string `json:"name"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// TemplateEntry is one loaded template.
type TemplateEntry struct {
	IdentityID *int64 `json:"identityId"`
	Label      string `json:"label"`
	Order      int    `json:"order"`
	Dim        int    `json:"dim"`
}

// AttendanceStatus reports recorder mode and counters.
type AttendanceStatus struct {
	Enabled       bool   `json:"enabled"`
	Mode          string `json:"mode,omitempty"`
	Store         string `json:"store,omitempty"`
	Marked        int    `json:"marked"`
	AlreadyMarked int    `json:"alreadyMarked"`
	NoSession     int    `json:"noSession"`
	StoreErrors   int    `json:"storeErrors"`
	Pending       int    `json:"pending"`
	Dropped       int    `json:"dropped"`
	LastError     string `json:"lastError,omitempty"`
	LastErrorKind string `json:"lastErrorKind,omitempty"`
	LastErrorAt   string `json:"lastErrorAt,omitempty"`
}

// CheckResult is one preflight check outcome.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool             `json:"running"`
	PID          int              `json:"pid"`
	RunID        string           `json:"runId"`
	StartedAt    string           `json:"startedAt,omitempty"`
	LogPath      string           `json:"logPath,omitempty"`
	LockFilePath string           `json:"lockFilePath"`
	Loop         LoopStatus       `json:"loop"`
	Camera       CameraStatus     `json:"camera"`
	Templates    TemplateStatus   `json:"templates"`
	Attendance   AttendanceStatus `json:"attendance"`
	Preflight    []CheckResult    `json:"preflight,omitempty"`
}

// SwitchRequest selects a camera. A nil ID switches round-robin.
type SwitchRequest struct {
	ID *int `json:"id,omitempty"`
}

// CommandResponse is the reply to an operator command.
type CommandResponse struct {
	OK          bool          `json:"ok"`
	Message     string        `json:"message,omitempty"`
	Error       string        `json:"error,omitempty"`
	Matches     []Match       `json:"matches,omitempty"`
	CapturePath string        `json:"capturePath,omitempty"`
	Camera      *CameraStatus `json:"camera,omitempty"`
	Loop        *LoopStatus   `json:"loop,omitempty"`
}

// AttendanceEntry is one stored mark.
type AttendanceEntry struct {
	EventID    string  `json:"eventId,omitempty"`
	IdentityID int64   `json:"identityId"`
	SessionID  int64   `json:"sessionId,omitempty"`
	DateKey    string  `json:"dateKey,omitempty"`
	Status     string  `json:"status"`
	MarkedAt   string  `json:"markedAt"`
	Score      float64 `json:"score"`
	Source     string  `json:"source,omitempty"`
}

// AttendanceList wraps recent marks.
type AttendanceList struct {
	Entries []AttendanceEntry `json:"entries"`
}

// LogEvent is one structured log record.
type LogEvent struct {
	Sequence   uint64            `json:"seq"`
	Timestamp  string            `json:"ts"`
	Level      string            `json:"level"`
	Message    string            `json:"msg"`
	Component  string            `json:"component,omitempty"`
	CameraID   string            `json:"cameraId,omitempty"`
	IdentityID string            `json:"identityId,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// LogStreamResponse wraps streamed log events and the cursor for the next fetch.
type LogStreamResponse struct {
	Events []LogEvent `json:"events"`
	Next   uint64     `json:"next"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
