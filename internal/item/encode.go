package item

import (
	"encoding/base64"

	"github.com/you/skyblock-auctions/internal/nbt"
)

// EncodePayload builds an item_bytes value holding a single inventory entry.
// A nil extra produces an entry without a tag compound.
func EncodePayload(count int8, extra *nbt.Compound) (string, error) {
	entry := nbt.Compound{Fields: []nbt.Field{
		{Name: "id", Tag: nbt.Short(1)},
		{Name: "Count", Tag: nbt.Byte(count)},
	}}
	if extra != nil {
		entry.Fields = append(entry.Fields, nbt.Field{
			Name: "tag",
			Tag:  nbt.Compound{Fields: []nbt.Field{{Name: "ExtraAttributes", Tag: *extra}}},
		})
	}
	root := nbt.Compound{Fields: []nbt.Field{
		{Name: "i", Tag: nbt.List{Elem: nbt.KindCompound, Items: []nbt.Tag{entry}}},
	}}

	data, err := nbt.EncodeGzip("", root)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
