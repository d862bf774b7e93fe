// Package audit copies audit entries to destinations outside the database.
//
// The audit_logs table stays the system of record. A Fanout writes there first
// and then ships the same entry to an append-only JSON lines file and/or an HTTP
// webhook, so the trail can be kept by a log aggregator independently of the
// database retention window.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/FilipRus/boxItFindIt/internal/config"
	"github.com/FilipRus/boxItFindIt/internal/db/models"
)

// Record is the wire form of an audit entry.
type Record struct {
	Timestamp    time.Time              `json:"timestamp"`
	Action       string                 `json:"action"`
	UserID       string                 `json:"user_id,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// NewRecord converts a stored audit log to its wire form.
func NewRecord(l *models.AuditLog) *Record {
	ts := l.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &Record{
		Timestamp:    ts,
		Action:       l.Action,
		UserID:       deref(l.UserID),
		ResourceType: deref(l.ResourceType),
		ResourceID:   deref(l.ResourceID),
		IPAddress:    deref(l.IPAddress),
		Metadata:     l.Metadata,
	}
}

// Shipper delivers records to one destination.
type Shipper interface {
	Ship(ctx context.Context, rec *Record) error
	Close() error
}

// Writer is the primary audit store.
type Writer interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Fanout writes to the primary store and then to every shipper. A shipper failure
// is logged and never fails the write.
type Fanout struct {
	primary  Writer
	shippers []Shipper
}

// NewFanout builds the shippers enabled in cfg around primary.
func NewFanout(primary Writer, cfg config.AuditShippingConfig) (*Fanout, error) {
	f := &Fanout{primary: primary}
	if cfg.File.Path != "" {
		fs, err := NewFileShipper(cfg.File)
		if err != nil {
			return nil, err
		}
		f.shippers = append(f.shippers, fs)
	}
	if cfg.Webhook.URL != "" {
		f.shippers = append(f.shippers, NewWebhookShipper(cfg.Webhook))
	}
	return f, nil
}

// Shippers reports how many external destinations are configured.
func (f *Fanout) Shippers() int { return len(f.shippers) }

// CreateAuditLog implements middleware.AuditWriter.
func (f *Fanout) CreateAuditLog(ctx context.Context, l *models.AuditLog) error {
	if f.primary != nil {
		if err := f.primary.CreateAuditLog(ctx, l); err != nil {
			return err
		}
	}
	if len(f.shippers) == 0 {
		return nil
	}
	rec := NewRecord(l)
	for _, s := range f.shippers {
		if err := s.Ship(ctx, rec); err != nil {
			slog.Warn("audit shipper failed", "action", rec.Action, "error", err)
		}
	}
	return nil
}

// Close closes every shipper.
func (f *Fanout) Close() error {
	var lastErr error
	for _, s := range f.shippers {
		if err := s.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// WebhookShipper POSTs each record as JSON.
type WebhookShipper struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookShipper creates a WebhookShipper. A zero timeout means 10s.
func NewWebhookShipper(cfg config.AuditWebhookConfig) *WebhookShipper {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookShipper{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}
}

// Ship sends one record.
func (ws *WebhookShipper) Ship(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send audit webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("audit webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op.
func (ws *WebhookShipper) Close() error { return nil }

// FileShipper appends records as JSON lines and rotates by size.
type FileShipper struct {
	path       string
	maxBytes   int64
	maxBackups int

	mu   sync.Mutex
	file *os.File
}

// NewFileShipper opens (or creates) the audit file.
func NewFileShipper(cfg config.AuditFileConfig) (*FileShipper, error) {
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &FileShipper{
		path:       cfg.Path,
		maxBytes:   int64(cfg.MaxSizeMB) << 20,
		maxBackups: cfg.MaxBackups,
		file:       file,
	}, nil
}

// Ship appends one line.
func (fs *FileShipper) Ship(_ context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.maxBytes > 0 {
		if info, err := fs.file.Stat(); err == nil && info.Size()+int64(len(data)) >= fs.maxBytes {
			if err := fs.rotate(); err != nil {
				return fmt.Errorf("failed to rotate audit log: %w", err)
			}
		}
	}

	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// rotate shifts path.N to path.N+1, path to path.1, dropping backups beyond maxBackups.
func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}

	if fs.maxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", fs.path, fs.maxBackups))
		for i := fs.maxBackups - 1; i >= 1; i-- {
			_ = os.Rename(fmt.Sprintf("%s.%d", fs.path, i), fmt.Sprintf("%s.%d", fs.path, i+1))
		}
		_ = os.Rename(fs.path, fs.path+".1")
	} else {
		_ = os.Remove(fs.path)
	}

	file, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	fs.file = file
	return nil
}

// Close closes the file.
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
