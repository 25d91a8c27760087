package flow

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Codec turns actions and store state into bytes and back.
// Relays, channel watchers and publishers share one codec per stream.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error

	// ContentType names the format in logs and signals.
	ContentType() string
}

var (
	_ Codec = JSONCodec{}
	_ Codec = YAMLCodec{}
)

// JSONCodec is the default wire format.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) ContentType() string                { return "application/json" }

// YAMLCodec reads and writes YAML documents. Hand-written spool files are
// usually easier to author in YAML.
type YAMLCodec struct{}

func (YAMLCodec) Marshal(v any) ([]byte, error)      { return yaml.Marshal(v) }
func (YAMLCodec) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }
func (YAMLCodec) ContentType() string                { return "application/x-yaml" }

// CodecByName returns the codec for "json" or "yaml".
func CodecByName(name string) (Codec, error) {
	switch name {
	case "json":
		return JSONCodec{}, nil
	case "yaml", "yml":
		return YAMLCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}
