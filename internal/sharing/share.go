package sharing

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Version 原生分片文本格式版本，另见 VersionSecretsJS
const Version = '1'

// 原生文本格式: 版本(1) | 阈值(2 hex) | 批次ID(8 hex) | x(2 hex) | y(hex)
const headerLen = 1 + 2 + 8 + 2

// Share 单个分片
type Share struct {
	// Version 为 Version 或 VersionSecretsJS，零值按 Version 处理
	Version byte
	// secrets.js 分片不带阈值和批次ID，两者均为零值
	Threshold int
	SetID     uint32
	X         byte
	Y         []byte
}

// Encode 编码为小写十六进制文本
func (s Share) Encode() string {
	if s.version() == VersionSecretsJS {
		return encodeSecretsJS(s)
	}
	var b strings.Builder
	b.Grow(headerLen + hex.EncodedLen(len(s.Y)))
	b.WriteByte(Version)
	fmt.Fprintf(&b, "%02x%08x%02x", s.Threshold, s.SetID, s.X)
	b.WriteString(hex.EncodeToString(s.Y))
	return b.String()
}

func (s Share) version() byte {
	if s.Version == VersionSecretsJS {
		return VersionSecretsJS
	}
	return Version
}

// Decode 解析 Encode 或 secrets.js 生成的文本，按首字符区分格式，大小写不敏感
func Decode(text string) (Share, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return Share{}, fmt.Errorf("share too short")
	}
	switch text[0] {
	case Version:
	case VersionSecretsJS:
		return decodeSecretsJS(text)
	default:
		return Share{}, fmt.Errorf("unsupported share version %q", text[0])
	}
	if len(text) < headerLen+2 {
		return Share{}, fmt.Errorf("share too short")
	}

	threshold, err := strconv.ParseUint(text[1:3], 16, 8)
	if err != nil {
		return Share{}, fmt.Errorf("invalid threshold: %w", err)
	}
	if threshold < MinThreshold {
		return Share{}, fmt.Errorf("invalid threshold %d", threshold)
	}
	setID, err := strconv.ParseUint(text[3:11], 16, 32)
	if err != nil {
		return Share{}, fmt.Errorf("invalid set id: %w", err)
	}
	x, err := strconv.ParseUint(text[11:13], 16, 8)
	if err != nil {
		return Share{}, fmt.Errorf("invalid x coordinate: %w", err)
	}
	if x == 0 {
		return Share{}, fmt.Errorf("x coordinate must be non-zero")
	}
	y, err := hex.DecodeString(text[headerLen:])
	if err != nil {
		return Share{}, fmt.Errorf("invalid share body: %w", err)
	}

	return Share{
		Version:   Version,
		Threshold: int(threshold),
		SetID:     uint32(setID),
		X:         byte(x),
		Y:         y,
	}, nil
}

// Valid 判断文本是否为格式正确的分片
func Valid(text string) bool {
	_, err := Decode(text)
	return err == nil
}
