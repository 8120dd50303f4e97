package redis

import (
	"adslots/internal/types"
	"encoding/base64"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

var enc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
var dec, _ = zstd.NewReader(nil)

// EncodeImpression encodes imp as JSON, compresses and base64-url encodes it.
func EncodeImpression(imp types.Impression) (string, error) {
	s, err := json.Marshal(imp)
	if err != nil {
		return "", err
	}
	b := enc.EncodeAll(s, make([]byte, 0, len(s)))
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeImpression reverses EncodeImpression.
func DecodeImpression(in string) (types.Impression, error) {
	var imp types.Impression
	b, err := base64.RawURLEncoding.DecodeString(in)
	if err != nil {
		return imp, err
	}
	out, err := dec.DecodeAll(b, nil)
	if err != nil {
		return imp, err
	}
	err = json.Unmarshal(out, &imp)
	return imp, err
}
