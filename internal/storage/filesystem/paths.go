package filesystem

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	maxPathLen = 2000
	maxNameLen = 200
)

// validateBasePath 拒绝过长或包含路径遍历的存储目录
func validateBasePath(path string) error {
	if len(path) > maxPathLen {
		return fmt.Errorf("path too long: %d characters", len(path))
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("path traversal detected: %s", path)
	}
	return nil
}

// normalizePath 转换为清理后的绝对路径，失败时原样返回
func normalizePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return filepath.Clean(abs)
}

// validRecordName 判断 id 能否直接用作记录文件名
func validRecordName(id string) bool {
	if id == "" || len(id) > maxNameLen || strings.HasPrefix(id, ".") {
		return false
	}
	for _, r := range id {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return false
		}
	}
	return true
}
