package filesystem

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"deadswitch/backend/internal/domain"
	"deadswitch/backend/internal/storage"
	"deadswitch/backend/internal/storage/memory"
)

const (
	messagesDir = "messages"
	usersDir    = "users"
)

// Store 文件系统存储实现。
//
// 数据常驻内存，每次写入先落盘（临时文件 + rename）再提交到内存，
// 启动时从目录重新载入。目录结构:
//
//	{base}/messages/{messageID}.json
//	{base}/users/{hex(userID)}.json
type Store struct {
	*memory.Store
	journal *journal
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建文件系统存储实例并载入已有数据
func NewStore(basePath string) (*Store, error) {
	if err := validateBasePath(basePath); err != nil {
		return nil, fmt.Errorf("invalid base path: %w", err)
	}
	normalizedPath := normalizePath(basePath)

	for _, dir := range []string{messagesDir, usersDir} {
		if err := os.MkdirAll(filepath.Join(normalizedPath, dir), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	j := &journal{basePath: normalizedPath}
	messages, users, err := j.load()
	if err != nil {
		return nil, err
	}

	mem := memory.NewStore(memory.WithJournal(j))
	mem.Restore(messages, users)

	return &Store{Store: mem, journal: j}, nil
}

// Health 检查存储目录是否可访问
func (s *Store) Health(context.Context) error {
	info, err := os.Stat(s.journal.basePath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.journal.basePath)
	}
	return nil
}

// BasePath 返回存储根目录
func (s *Store) BasePath() string {
	return s.journal.basePath
}

// journal 实现 memory.Journal，把每条记录写成一个 JSON 文件
type journal struct {
	basePath string
}

func (j *journal) SaveMessage(msg *domain.Message) error {
	path, err := j.messagePath(msg.ID)
	if err != nil {
		return err
	}
	return writeJSON(path, msg)
}

func (j *journal) RemoveMessage(id string) error {
	path, err := j.messagePath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove message file: %w", err)
	}
	return nil
}

func (j *journal) SaveUser(user *domain.User) error {
	return writeJSON(j.userPath(user.ID), user)
}

func (j *journal) messagePath(id string) (string, error) {
	// 消息 ID 直接作为文件名，必须是安全文件名
	if !validRecordName(id) {
		return "", fmt.Errorf("%w: unsafe message id %q", domain.ErrInvalidParameters, id)
	}
	return filepath.Join(j.basePath, messagesDir, id+".json"), nil
}

func (j *journal) userPath(id string) string {
	return filepath.Join(j.basePath, usersDir, hex.EncodeToString([]byte(id))+".json")
}

func (j *journal) load() ([]*domain.Message, []*domain.User, error) {
	var messages []*domain.Message
	err := readDir(filepath.Join(j.basePath, messagesDir), func(data []byte) error {
		var m domain.Message
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		messages = append(messages, &m)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load messages: %w", err)
	}

	var users []*domain.User
	err = readDir(filepath.Join(j.basePath, usersDir), func(data []byte) error {
		var u domain.User
		if err := json.Unmarshal(data, &u); err != nil {
			return err
		}
		users = append(users, &u)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load users: %w", err)
	}

	return messages, users, nil
}

func readDir(dir string, fn func(data []byte) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		if err := fn(data); err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
	}
	return nil
}

// writeJSON 原子写入：先写临时文件再 rename
func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
