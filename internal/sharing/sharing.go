// Package sharing 在 GF(256) 上实现 Shamir 秘密分享。
//
// 支持两种分片格式。原生格式 ('1') 基于 hashicorp/vault/shamir（域多项式 0x11b），
// 秘密在分片前会附加 4 字节 BLAKE2b 校验和，Combine 因此能够识别
// 分片数量不足、分片来自不同批次或分片被篡改等情况。
// secrets.js 格式 ('8') 与浏览器端 secrets.js 互通（域多项式 0x11d），见 secretsjs.go。
package sharing

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/vault/shamir"
	"golang.org/x/crypto/blake2b"

	"deadswitch/backend/internal/domain"
)

const (
	// MaxShares 单个秘密可拆分的最大分片数（x 坐标为 1..255）
	MaxShares = 255
	// MinThreshold 最小还原阈值
	MinThreshold = 2

	checksumSize = 4
)

var (
	// ErrInvalidParameters 拆分参数不合法
	ErrInvalidParameters = domain.ErrInvalidParameters
	// ErrCombination 分片无法还原为一致的秘密
	ErrCombination = domain.ErrCombination
)

// Split 将 secret 拆成 n 个分片，任意 k 个即可还原。
//
// 参数:
//   - secret: 非空秘密
//   - n: 分片总数，k <= n <= 255
//   - k: 还原阈值，k >= 2
//
// 返回值:
//   - []string: n 个编码后的分片，x 坐标各不相同
//   - error: 参数不合法时返回 ErrInvalidParameters
func Split(secret []byte, n, k int) ([]string, error) {
	shares, err := SplitShares(secret, n, k)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(shares))
	for i, s := range shares {
		out[i] = s.Encode()
	}
	return out, nil
}

// SplitShares 与 Split 相同，但返回未编码的分片
func SplitShares(secret []byte, n, k int) ([]Share, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidParameters)
	}
	if k < MinThreshold || k > n || n > MaxShares {
		return nil, fmt.Errorf("%w: need %d <= k <= n <= %d, got k=%d n=%d",
			ErrInvalidParameters, MinThreshold, MaxShares, k, n)
	}

	payload := make([]byte, 0, len(secret)+checksumSize)
	payload = append(payload, secret...)
	payload = append(payload, checksum(secret)...)

	parts, err := shamir.Split(payload, n, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}

	setID, err := randomSetID()
	if err != nil {
		return nil, err
	}

	shares := make([]Share, len(parts))
	for i, p := range parts {
		// vault 把 x 坐标放在分片最后一个字节
		shares[i] = Share{
			Version:   Version,
			Threshold: k,
			SetID:     setID,
			X:         p[len(p)-1],
			Y:         append([]byte(nil), p[:len(p)-1]...),
		}
	}
	return shares, nil
}

// Combine 用编码后的分片还原秘密。
// 分片不足、格式错误、批次不一致或校验失败时返回 ErrCombination。
func Combine(encoded []string) ([]byte, error) {
	if len(encoded) == 0 {
		return nil, fmt.Errorf("%w: no shares", ErrCombination)
	}
	shares := make([]Share, 0, len(encoded))
	for _, e := range encoded {
		s, err := Decode(e)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCombination, err)
		}
		shares = append(shares, s)
	}
	return CombineShares(shares)
}

// CombineShares 用已解码的分片还原秘密
func CombineShares(shares []Share) ([]byte, error) {
	if len(shares) == 0 {
		return nil, fmt.Errorf("%w: no shares", ErrCombination)
	}

	first := shares[0]
	if first.version() == VersionSecretsJS {
		return combineSecretsJS(shares)
	}
	byX := make(map[byte]Share, len(shares))
	for _, s := range shares {
		if s.version() != Version {
			return nil, fmt.Errorf("%w: mixed share formats", ErrCombination)
		}
		if s.SetID != first.SetID || s.Threshold != first.Threshold || len(s.Y) != len(first.Y) {
			return nil, fmt.Errorf("%w: shares belong to different splits", ErrCombination)
		}
		if prev, ok := byX[s.X]; ok {
			if !bytes.Equal(prev.Y, s.Y) {
				return nil, fmt.Errorf("%w: conflicting shares for x=%d", ErrCombination, s.X)
			}
			continue
		}
		byX[s.X] = s
	}

	if len(byX) < first.Threshold {
		return nil, fmt.Errorf("%w: need %d shares, got %d", ErrCombination, first.Threshold, len(byX))
	}

	parts := make([][]byte, 0, len(byX))
	for _, s := range byX {
		part := make([]byte, 0, len(s.Y)+1)
		part = append(part, s.Y...)
		part = append(part, s.X)
		parts = append(parts, part)
	}

	payload, err := shamir.Combine(parts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCombination, err)
	}
	if len(payload) <= checksumSize {
		return nil, fmt.Errorf("%w: payload too short", ErrCombination)
	}

	secret := payload[:len(payload)-checksumSize]
	if !bytes.Equal(payload[len(payload)-checksumSize:], checksum(secret)) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCombination)
	}
	return secret, nil
}

func checksum(b []byte) []byte {
	sum := blake2b.Sum256(b)
	return sum[:checksumSize]
}

func randomSetID() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("failed to generate set id: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
