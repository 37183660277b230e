package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Journal appends records as JSON lines to a rotating file under a
// per-day directory. Writes are queued and never block the caller.
type Journal struct {
	baseDir   string
	name      string
	maxSizeMB int

	writeCh chan any
	done    chan struct{}
	wg      sync.WaitGroup

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
	closed      bool
}

// NewJournal starts a journal writing <baseDir>/<date>/<name>.jsonl.
func NewJournal(baseDir, name string, bufferSize, maxSizeMB int) *Journal {
	j := &Journal{
		baseDir:   baseDir,
		name:      name,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
	}
	j.wg.Add(1)
	go j.writeLoop()
	return j
}

// Append queues a record. A full buffer drops the record.
func (j *Journal) Append(record any) error {
	select {
	case <-j.done:
		return fmt.Errorf("journal %s is closed", j.name)
	default:
	}
	select {
	case j.writeCh <- record:
		return nil
	default:
		slog.Warn("journal buffer full, dropping record", "journal", j.name)
		return fmt.Errorf("journal %s buffer full", j.name)
	}
}

// Close flushes queued records and closes the file.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	close(j.done)
	j.wg.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.logger != nil {
		return j.logger.Close()
	}
	return nil
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()
	for {
		select {
		case record := <-j.writeCh:
			j.write(record)
		case <-j.done:
			for {
				select {
				case record := <-j.writeCh:
					j.write(record)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) write(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("journal record marshal failed", "journal", j.name, "error", err)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	date := time.Now().UTC().Format("2006-01-02")
	if j.logger == nil || date != j.currentDate {
		if err := j.openForDate(date); err != nil {
			slog.Error("journal open failed", "journal", j.name, "error", err)
			return
		}
	}
	if _, err := j.logger.Write(append(data, '\n')); err != nil {
		slog.Error("journal write failed", "journal", j.name, "error", err)
	}
}

func (j *Journal) openForDate(date string) error {
	if j.logger != nil {
		_ = j.logger.Close()
		j.logger = nil
	}
	dir := filepath.Join(j.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	filename := filepath.Join(dir, j.name+".jsonl")
	j.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    j.maxSizeMB,
		MaxBackups: 30,
		MaxAge:     30,
		Compress:   true,
	}
	j.currentDate = date
	slog.Info("journal file opened", "file", filename)
	return nil
}
