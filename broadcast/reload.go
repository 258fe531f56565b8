package broadcast

import (
	"github.com/golang/glog"

	"github.com/stalwartgo/core/cmn/config"
)

// HandleReloadTags re-parses and swaps the configuration snapshot when e
// carries one of the three reload tags, returning true if it did. Other
// tags (state-change, push, cache-invalidation) are left to the caller's
// own dispatch.
func HandleReloadTags(e Event, reload config.Reloader) bool {
	switch e.Tag {
	case TagReloadSettings, TagReloadBlockedIps, TagReloadSpamFilter:
		if err := config.OnReload(reload); err != nil {
			glog.Errorf("broadcast: config reload for tag %d failed: %v", e.Tag, err)
		}
		return true
	default:
		return false
	}
}
