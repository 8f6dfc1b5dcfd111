package logging

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/theweak1/backupsvc/internal/types"
)

// LogManager fans a single per-file LogRecord out to the local (JSON/XML)
// and/or remote (HTTP POST) sinks configured for a run.
//
// Local sink writes are serialized by one mutex, the same per-bucket
// locking discipline the ambient process Logger uses for its own lines.
// Rotation and retention of the local sink's daily file is delegated to
// lumberjack, which does the job with size caps a hand-rolled walk would
// otherwise have to reimplement.
type LogManager struct {
	mu sync.Mutex

	target    types.LogTarget
	format    types.LogFormat
	directory string
	serverURL string

	// fallback narrates transport/persistence failures to stderr; they
	// are swallowed and must never crash the core.
	fallback *logrus.Logger

	httpClient *http.Client

	// dayWriters caches one lumberjack.Logger per calendar day so the
	// local sink keeps a stable per-day filename while gaining
	// lumberjack's rotation/retention.
	dayWriters map[string]*lumberjack.Logger
}

// NewLogManager constructs a LogManager. directory is created lazily on
// first local write so a Server-only LogManager never touches disk.
func NewLogManager(target types.LogTarget, format types.LogFormat, directory, serverURL string) *LogManager {
	fb := logrus.New()
	fb.SetOutput(os.Stderr)
	fb.SetFormatter(&logrus.TextFormatter{DisableTimestamp: false})

	return &LogManager{
		target:     target,
		format:     format,
		directory:  directory,
		serverURL:  serverURL,
		fallback:   fb,
		httpClient: &http.Client{Timeout: 2 * time.Second},
		dayWriters: make(map[string]*lumberjack.Logger),
	}
}

// SetTarget atomically swaps the sink target.
func (m *LogManager) SetTarget(t types.LogTarget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.target = t
}

// SetFormat atomically swaps the local sink's serialization format.
func (m *LogManager) SetFormat(f types.LogFormat) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.format = f
}

// SetDirectory atomically swaps the local sink directory. In-flight
// per-day writers keep writing to their original location; new days pick
// up the new directory.
func (m *LogManager) SetDirectory(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.directory = dir
}

// SetServerURL atomically swaps the remote sink's POST target.
func (m *LogManager) SetServerURL(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serverURL = url
}

// Write serializes and dispatches record to whichever sinks are
// configured. Local writes happen synchronously under the sink mutex;
// remote writes are fire-and-forget.
func (m *LogManager) Write(record types.LogRecord) {
	m.mu.Lock()
	target := m.target
	format := m.format
	m.mu.Unlock()

	if target == types.LogTargetLocal || target == types.LogTargetBoth {
		if err := m.writeLocal(record, format); err != nil {
			m.fallback.WithError(err).WithField("job", record.Name).
				Error("persisting log record to local sink failed")
		}
	}

	if target == types.LogTargetServer || target == types.LogTargetBoth {
		go m.postRemote(record)
	}
}

func (m *LogManager) writeLocal(record types.LogRecord, format types.LogFormat) error {
	var payload []byte
	var err error
	switch format {
	case types.LogFormatXML:
		payload, err = xml.Marshal(wireRecord(record))
	default:
		payload, err = json.Marshal(wireRecord(record))
	}
	if err != nil {
		return fmt.Errorf("serialize log record: %w", err)
	}
	payload = append(payload, '\n')

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.directory == "" {
		return fmt.Errorf("local log directory is not configured")
	}
	if err := os.MkdirAll(m.directory, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	day := record.Timestamp.Format("2006-01-02")
	w, ok := m.dayWriters[day]
	if !ok {
		ext := "json"
		if format == types.LogFormatXML {
			ext = "xml"
		}
		w = &lumberjack.Logger{
			Filename: filepath.Join(m.directory, fmt.Sprintf("backup_%s.%s", day, ext)),
			MaxSize:  64, // MB, before lumberjack rotates this day's file
			MaxAge:   30, // days of retention
			Compress: true,
		}
		m.dayWriters[day] = w
	}

	_, err = w.Write(payload)
	return err
}

func (m *LogManager) postRemote(record types.LogRecord) {
	m.mu.Lock()
	url := m.serverURL
	m.mu.Unlock()
	if url == "" {
		return
	}

	body, err := json.Marshal(wireRecord(record))
	if err != nil {
		return
	}

	resp, err := m.httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		// Transport errors are swallowed; narrate to stderr for operators
		// without failing the run.
		m.fallback.WithError(err).WithField("job", record.Name).
			Warn("remote log POST failed")
		return
	}
	_ = resp.Body.Close()
}

// Close flushes and releases all per-day local writers.
func (m *LogManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, w := range m.dayWriters {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// wireLogRecord is the persisted log record wire shape.
type wireLogRecord struct {
	XMLName        struct{}  `json:"-" xml:"LogRecord"`
	Name           string    `json:"Name" xml:"Name"`
	Source         string    `json:"Source" xml:"Source"`
	Target         string    `json:"Target" xml:"Target"`
	Size           int64     `json:"Size" xml:"Size"`
	Time           float64   `json:"Time" xml:"Time"`
	EncryptionTime int64     `json:"EncryptionTime" xml:"EncryptionTime"`
	Timestamp      time.Time `json:"Timestamp" xml:"Timestamp"`
	MachineName    string    `json:"MachineName,omitempty" xml:"MachineName,omitempty"`
	UserName       string    `json:"UserName,omitempty" xml:"UserName,omitempty"`
	RunID          string    `json:"RunID,omitempty" xml:"RunID,omitempty"`
}

func wireRecord(r types.LogRecord) wireLogRecord {
	return wireLogRecord{
		Name:           r.Name,
		Source:         r.Source,
		Target:         r.Target,
		Size:           r.Size,
		Time:           r.Time,
		EncryptionTime: r.EncryptionTime,
		Timestamp:      r.Timestamp,
		MachineName:    r.MachineName,
		UserName:       r.UserName,
		RunID:          r.RunID.String(),
	}
}
