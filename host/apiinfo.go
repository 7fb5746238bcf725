package host

import (
	"fmt"

	"github.com/pithecene-io/nvplug/ipc"
)

// APIInfo is the cached answer to nvim_get_api_info.
type APIInfo struct {
	ChannelID int64
	Metadata  map[string]any
}

// ParseAPIInfo decodes a [channel_id, metadata] pair.
func ParseAPIInfo(v any) (APIInfo, error) {
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return APIInfo{}, fmt.Errorf("unexpected nvim_get_api_info response: %v", v)
	}
	ch, ok := ipc.AsInt64(pair[0])
	if !ok {
		return APIInfo{}, fmt.Errorf("channel id is %T, not an integer", pair[0])
	}
	meta, _ := pair[1].(map[string]any)
	return APIInfo{ChannelID: ch, Metadata: meta}, nil
}

// Version renders the editor version from metadata, e.g. "0.10.2".
// Empty when the metadata carries no version.
func (a APIInfo) Version() string {
	v, ok := a.Metadata["version"].(map[string]any)
	if !ok {
		return ""
	}
	major, _ := ipc.AsInt64(v["major"])
	minor, _ := ipc.AsInt64(v["minor"])
	patch, _ := ipc.AsInt64(v["patch"])
	return fmt.Sprintf("%d.%d.%d", major, minor, patch)
}
