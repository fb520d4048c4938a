package capabilities

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"hash"

	"github.com/google/uuid"
)

const hashInputSchema = `{
  "type": "object",
  "properties": {
    "data": {"type": "string"},
    "algorithm": {"enum": ["sha256", "sha384", "sha512", "sha1", "md5"]}
  },
  "required": ["data"]
}`

const hmacInputSchema = `{
  "type": "object",
  "properties": {
    "data": {"type": "string"},
    "key": {"type": "string", "minLength": 1},
    "algorithm": {"enum": ["sha256", "sha384", "sha512", "sha1", "md5"]}
  },
  "required": ["data", "key"]
}`

// CryptoCapabilities returns crypto.hash, crypto.hmac and crypto.uuid.
func CryptoCapabilities() []Capability {
	return []Capability{
		&Func{
			ToolName: "crypto.hash",
			Contract: Schema{
				Description: "Hex digest of data (sha256 unless algorithm is set).",
				InputSchema: json.RawMessage(hashInputSchema),
			},
			Fn: cryptoHash,
		},
		&Func{
			ToolName: "crypto.hmac",
			Contract: Schema{
				Description: "Hex HMAC of data under key (sha256 unless algorithm is set).",
				InputSchema: json.RawMessage(hmacInputSchema),
			},
			Fn: cryptoHMAC,
		},
		&Func{
			ToolName: "crypto.uuid",
			Contract: Schema{Description: "Generate a random UUID."},
			Fn: func(context.Context, map[string]any) (any, error) {
				return map[string]any{"status": "success", "uuid": uuid.NewString()}, nil
			},
		},
	}
}

func hashFunc(algorithm string) (func() hash.Hash, bool) {
	switch algorithm {
	case "", "sha256":
		return sha256.New, true
	case "sha384":
		return sha512.New384, true
	case "sha512":
		return sha512.New, true
	case "sha1":
		return sha1.New, true
	case "md5":
		return md5.New, true
	}
	return nil, false
}

func cryptoHash(_ context.Context, args map[string]any) (any, error) {
	algorithm := stringParam(args, "algorithm", "sha256")
	newHash, ok := hashFunc(algorithm)
	if !ok {
		return nil, NewToolError("crypto.hash", "unsupported algorithm %q", algorithm)
	}
	h := newHash()
	h.Write([]byte(stringParam(args, "data", "")))
	return map[string]any{
		"status":    "success",
		"hash":      hex.EncodeToString(h.Sum(nil)),
		"algorithm": algorithm,
	}, nil
}

func cryptoHMAC(_ context.Context, args map[string]any) (any, error) {
	algorithm := stringParam(args, "algorithm", "sha256")
	newHash, ok := hashFunc(algorithm)
	if !ok {
		return nil, NewToolError("crypto.hmac", "unsupported algorithm %q", algorithm)
	}
	key := stringParam(args, "key", "")
	if key == "" {
		return nil, NewToolError("crypto.hmac", "key is required")
	}
	mac := hmac.New(newHash, []byte(key))
	mac.Write([]byte(stringParam(args, "data", "")))
	return map[string]any{
		"status":    "success",
		"hmac":      hex.EncodeToString(mac.Sum(nil)),
		"algorithm": algorithm,
	}, nil
}
