// Package convlog writes human-readable conversation transcripts, one
// rotating log file per character.
package convlog

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/arceus/mrp/internal/character"
	"github.com/arceus/mrp/internal/conversation"
)

const timestampLayout = "2006-01-02 15:04:05"

// entry is one queued transcript line.
type entry struct {
	characterID   uuid.UUID
	characterName string
	userID        uuid.UUID
	userName      string
	role          conversation.Role
	content       string
	when          time.Time
}

// Logger appends transcript lines to per-character files named
// {slug}_{uuid}.log. Writes happen on a single background goroutine so
// the conversation path never blocks on disk.
type Logger struct {
	dir    string
	logger *slog.Logger

	queue chan entry
	done  chan struct{}

	mu      sync.Mutex
	writers map[uuid.UUID]*lumberjack.Logger
	closed  bool
}

// New creates a transcript logger writing under dir and starts its
// writer goroutine.
func New(dir string, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{
		dir:     dir,
		logger:  logger.With("component", "transcripts"),
		queue:   make(chan entry, 256),
		done:    make(chan struct{}),
		writers: map[uuid.UUID]*lumberjack.Logger{},
	}
	go l.run()
	return l
}

// Log queues one transcript line. Empty content is ignored. When the
// queue is full the line is dropped with a warning rather than blocking
// the caller.
func (l *Logger) Log(characterID uuid.UUID, characterName string, userID uuid.UUID, userName string, role conversation.Role, content string) {
	if content == "" {
		return
	}
	e := entry{
		characterID:   characterID,
		characterName: characterName,
		userID:        userID,
		userName:      userName,
		role:          role,
		content:       content,
		when:          time.Now(),
	}

	// The send stays under the mutex so it can never race the close of
	// the queue. It is non-blocking, so holding the lock is cheap.
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- e:
	default:
		l.logger.Warn("transcript queue full, dropping line", "character", characterID)
	}
}

func (l *Logger) run() {
	for e := range l.queue {
		l.write(e)
	}
	close(l.done)
}

func (l *Logger) write(e entry) {
	w := l.writer(e.characterID, e.characterName)

	line := fmt.Sprintf("[%s] [%s] user=%s (%s) message=%s\n",
		e.when.Format(timestampLayout),
		e.role,
		e.userName,
		e.userID,
		strings.ReplaceAll(e.content, "\n", " "),
	)
	if _, err := w.Write([]byte(line)); err != nil {
		l.logger.Warn("write transcript failed", "character", e.characterID, "error", err)
	}
}

func (l *Logger) writer(characterID uuid.UUID, characterName string) *lumberjack.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.writers[characterID]; ok {
		return w
	}
	name := fmt.Sprintf("%s_%s.log", character.Slugify(characterName), characterID)
	w := &lumberjack.Logger{
		Filename:   filepath.Join(l.dir, name),
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		Compress:   true,
	}
	l.writers[characterID] = w
	return w
}

// Close drains the queue, flushes every open file, and stops the writer
// goroutine.
func (l *Logger) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.writers {
		if err := w.Close(); err != nil {
			l.logger.Warn("close transcript file failed", "error", err)
		}
	}
}
