package worker

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// BuildLog пишет лог сборки одного запроса в файл {dir}/{id}.log.
// Эти файлы отдаёт API через GET /builds/{id}/logs и удаляет janitor
// по истечении срока хранения.
type BuildLog struct {
	// Logger — логгер, пишущий в файл лога.
	Logger *slog.Logger

	file *os.File
}

// OpenBuildLog открывает (дозаписью) файл лога запроса id в dir.
func OpenBuildLog(dir string, id uuid.UUID) (*BuildLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}

	path := filepath.Join(dir, id.String()+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open build log: %w", err)
	}

	handler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &BuildLog{
		Logger: slog.New(handler),
		file:   file,
	}, nil
}

// Close закрывает файл лога.
func (b *BuildLog) Close() error {
	if b.file == nil {
		return nil
	}
	return b.file.Close()
}

// discardBuildLog возвращает BuildLog, не пишущий никуда.
func discardBuildLog() *BuildLog {
	return &BuildLog{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}
