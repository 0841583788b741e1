package sharing

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/bits"
	"strconv"
	"strings"
	"unicode/utf16"
)

// secrets.js (bits=8) 分片格式:
//
//	"8" | id(2 hex) | data(hex)
//
// 秘密的十六进制串在最高位前补一个标记位 1，再从低位起切成 8 位分块，
// 每个分块是一个独立多项式的常数项。data 的第 i 个字节是第 i 个分块
// （高位分块在前）在 x=id 处的取值。运算域为 GF(2^8)，
// 本原多项式 x^8+x^4+x^3+x^2+1 (0x11d)，生成元为 2。
//
// 该格式不带阈值和校验和，分片不足时无法识别，只能得到错误的结果。

// VersionSecretsJS secrets.js 兼容格式的版本字符（即 bits=8 的 36 进制表示）
const VersionSecretsJS = '8'

const (
	secretsJSHeaderLen = 1 + 2
	// 与 secrets.js 默认 padLength 一致，位串左侧补零到 128 的整数倍
	secretsJSPadBits = 128
	gfPrimitive      = 0x11d
)

var (
	gfExp [255]byte
	gfLog [256]int
)

func init() {
	x := 1
	for i := 0; i < 255; i++ {
		gfExp[i] = byte(x)
		gfLog[x] = i
		x <<= 1
		if x >= 256 {
			x ^= gfPrimitive
		}
	}
}

func gfMul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return gfExp[(gfLog[a]+gfLog[b])%255]
}

func gfDiv(a, b byte) byte {
	if a == 0 {
		return 0
	}
	return gfExp[(gfLog[a]-gfLog[b]+255)%255]
}

// SplitSecretsJS 按 secrets.js 的算法拆分秘密，生成版本为 '8' 的分片。
//
// 参数:
//   - secret: 非空秘密
//   - n: 分片总数，k <= n <= 255
//   - k: 还原阈值，k >= 2
//
// 返回值:
//   - []string: n 个编码后的分片，id 依次为 1..n
//   - error: 参数不合法时返回 ErrInvalidParameters
func SplitSecretsJS(secret []byte, n, k int) ([]string, error) {
	shares, err := splitSecretsJS(secret, n, k, rand.Reader)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(shares))
	for i, s := range shares {
		out[i] = s.Encode()
	}
	return out, nil
}

func splitSecretsJS(secret []byte, n, k int, random io.Reader) ([]Share, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidParameters)
	}
	if k < MinThreshold || k > n || n > MaxShares {
		return nil, fmt.Errorf("%w: need %d <= k <= n <= %d, got k=%d n=%d",
			ErrInvalidParameters, MinThreshold, MaxShares, k, n)
	}

	// 标记位 + 秘密位，补齐到 secretsJSPadBits 的整数倍
	totalBits := 1 + 8*len(secret)
	padded := (totalBits + secretsJSPadBits - 1) / secretsJSPadBits * secretsJSPadBits
	chunks := make([]byte, padded/8)
	copy(chunks[len(chunks)-len(secret):], secret)
	chunks[len(chunks)-len(secret)-1] = 1

	shares := make([]Share, n)
	for i := range shares {
		shares[i] = Share{Version: VersionSecretsJS, X: byte(i + 1), Y: make([]byte, len(chunks))}
	}

	coeffs := make([]byte, k)
	for pos, c := range chunks {
		coeffs[0] = c
		if _, err := io.ReadFull(random, coeffs[1:]); err != nil {
			return nil, fmt.Errorf("failed to generate coefficients: %w", err)
		}
		for i := range shares {
			shares[i].Y[pos] = horner(coeffs, shares[i].X)
		}
	}
	return shares, nil
}

func horner(coeffs []byte, x byte) byte {
	y := coeffs[len(coeffs)-1]
	for i := len(coeffs) - 2; i >= 0; i-- {
		y = gfMul(y, x) ^ coeffs[i]
	}
	return y
}

func combineSecretsJS(shares []Share) ([]byte, error) {
	first := shares[0]
	byX := make(map[byte][]byte, len(shares))
	xs := make([]byte, 0, len(shares))
	for _, s := range shares {
		if s.version() != VersionSecretsJS {
			return nil, fmt.Errorf("%w: mixed share formats", ErrCombination)
		}
		if len(s.Y) != len(first.Y) {
			return nil, fmt.Errorf("%w: shares belong to different splits", ErrCombination)
		}
		if prev, ok := byX[s.X]; ok {
			if string(prev) != string(s.Y) {
				return nil, fmt.Errorf("%w: conflicting shares for id=%d", ErrCombination, s.X)
			}
			continue
		}
		byX[s.X] = s.Y
		xs = append(xs, s.X)
	}
	if len(xs) < MinThreshold {
		return nil, fmt.Errorf("%w: need at least %d shares, got %d", ErrCombination, MinThreshold, len(xs))
	}

	// 拉格朗日插值求 f(0)，GF(2^8) 中减法即异或
	weights := make([]byte, len(xs))
	for i, xi := range xs {
		w := byte(1)
		for j, xj := range xs {
			if i != j {
				w = gfMul(w, gfDiv(xj, xi^xj))
			}
		}
		weights[i] = w
	}
	chunks := make([]byte, len(first.Y))
	for pos := range chunks {
		var v byte
		for i, xi := range xs {
			v ^= gfMul(byX[xi][pos], weights[i])
		}
		chunks[pos] = v
	}

	// 去掉左侧补零和标记位
	start := 0
	for start < len(chunks) && chunks[start] == 0 {
		start++
	}
	if start == len(chunks) {
		return nil, fmt.Errorf("%w: marker bit not found", ErrCombination)
	}
	lead := chunks[start]
	lead &^= 1 << (bits.Len8(lead) - 1)
	secret := chunks[start+1:]
	if bits.Len8(chunks[start]) > 1 {
		secret = append([]byte{lead}, secret...)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrCombination)
	}
	return secret, nil
}

func decodeSecretsJS(text string) (Share, error) {
	if len(text) < secretsJSHeaderLen+2 {
		return Share{}, fmt.Errorf("share too short")
	}
	id, err := strconv.ParseUint(text[1:3], 16, 8)
	if err != nil {
		return Share{}, fmt.Errorf("invalid share id: %w", err)
	}
	if id == 0 {
		return Share{}, fmt.Errorf("share id must be non-zero")
	}
	y, err := hex.DecodeString(text[secretsJSHeaderLen:])
	if err != nil {
		return Share{}, fmt.Errorf("invalid share body: %w", err)
	}
	return Share{Version: VersionSecretsJS, X: byte(id), Y: y}, nil
}

func encodeSecretsJS(s Share) string {
	var b strings.Builder
	b.Grow(secretsJSHeaderLen + hex.EncodedLen(len(s.Y)))
	b.WriteByte(VersionSecretsJS)
	fmt.Fprintf(&b, "%02x", s.X)
	b.WriteString(hex.EncodeToString(s.Y))
	return b.String()
}

// EncodeUTF16 按 secrets.str2hex 的默认方式（每个 UTF-16 码元 2 字节，大端）编码文本
func EncodeUTF16(text string) []byte {
	units := utf16.Encode([]rune(text))
	out := make([]byte, 0, 2*len(units))
	for _, u := range units {
		out = append(out, byte(u>>8), byte(u))
	}
	return out
}

// DecodeUTF16 是 EncodeUTF16 的逆运算，对应 secrets.hex2str
func DecodeUTF16(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", fmt.Errorf("%w: odd utf-16 length %d", ErrCombination, len(b))
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return string(utf16.Decode(units)), nil
}

// CombineText 还原分片并返回文本。
// secrets.js 分片中的秘密是客户端 str2hex 的结果，按 UTF-16 解码；
// 原生分片按 UTF-8 原样返回。
func CombineText(encoded []string) (string, error) {
	secret, err := Combine(encoded)
	if err != nil {
		return "", err
	}
	if s, derr := Decode(encoded[0]); derr == nil && s.version() == VersionSecretsJS {
		return DecodeUTF16(secret)
	}
	return string(secret), nil
}
