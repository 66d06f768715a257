package store

import (
	"encoding/json"

	"github.com/kukuri-network/community-node/internal/nostr"
)

func marshalTags(tags []nostr.Tag) ([]byte, error) {
	if tags == nil {
		tags = []nostr.Tag{}
	}
	return json.Marshal(tags)
}
