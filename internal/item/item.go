// Package item turns the binary tag tree of an auctioned item into the flat
// attribute mapping stored with each auction.
package item

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/you/skyblock-auctions/internal/core"
	"github.com/you/skyblock-auctions/internal/nbt"
)

// Item is the normalized form of one inventory entry.
type Item struct {
	ID         *string
	Attributes map[string]any
}

type decodeErr string

func (e decodeErr) Error() string        { return "item: " + string(e) }
func (e decodeErr) Is(target error) bool { return target == core.ErrDecode }

// Payload conditions that leave an auction without item data. All of them
// match core.ErrDecode.
var (
	ErrEmptyPayload = decodeErr("empty payload")
	ErrNoInventory  = decodeErr("no inventory list")
	ErrNoItems      = decodeErr("no items in inventory")
)

// Decode base64-decodes raw, parses the tag tree and normalizes its first
// inventory entry.
func Decode(raw string, log *zap.Logger) (Item, error) {
	if raw == "" {
		return Item{}, ErrEmptyPayload
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return Item{}, &nbt.DecodeError{Reason: "base64", Err: err}
	}
	root, _, err := nbt.Decode(data)
	if err != nil {
		return Item{}, err
	}

	compound, ok := root.(nbt.Compound)
	if !ok {
		return Item{}, ErrNoInventory
	}
	inventory, ok := compound.List("i")
	if !ok {
		return Item{}, ErrNoInventory
	}
	if len(inventory.Items) == 0 {
		return Item{}, ErrNoItems
	}
	return Normalize(inventory.Items[0], log), nil
}

// Normalize extracts the attributes of one inventory entry. It never fails:
// children that cannot be converted are kept in their text form.
func Normalize(node nbt.Tag, log *zap.Logger) Item {
	if log == nil {
		log = zap.NewNop()
	}
	attrs := make(map[string]any)

	entry, ok := node.(nbt.Compound)
	if !ok {
		return Item{Attributes: attrs}
	}
	if count, ok := entry.Get("Count"); ok {
		attrs["count"] = convert("count", count, log)
	}

	tag, ok := entry.Compound("tag")
	if !ok {
		return Item{Attributes: attrs}
	}
	extra, ok := tag.Compound("ExtraAttributes")
	if !ok {
		return Item{Attributes: attrs}
	}

	for _, f := range extra.Fields {
		attrs[f.Name] = convert(f.Name, f.Tag, log)
	}
	applyPetRule(attrs, log)

	var id *string
	if v, ok := attrs["id"]; ok {
		delete(attrs, "id")
		s, isString := v.(string)
		if !isString {
			s = fmt.Sprint(v)
		}
		id = &s
	}
	for k, v := range attrs {
		if v == nil {
			delete(attrs, k)
		}
	}
	return Item{ID: id, Attributes: attrs}
}

func convert(key string, t nbt.Tag, log *zap.Logger) any {
	v, err := nbt.ToValue(t)
	if err != nil {
		log.Debug("attribute kept as text", zap.String("key", key), zap.Error(err))
		return t.String()
	}
	return v
}

// applyPetRule rewrites the generic PET id to PET_<TYPE> using the embedded
// petInfo JSON. A malformed petInfo leaves the id untouched.
func applyPetRule(attrs map[string]any, log *zap.Logger) {
	if attrs["id"] != "PET" {
		return
	}
	raw, ok := attrs["petInfo"]
	if !ok {
		return
	}
	text, ok := raw.(string)
	if !ok {
		log.Warn("failed to extract petInfo type", zap.String("reason", fmt.Sprintf("petInfo is %T, not text", raw)))
		return
	}

	var info *struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(text), &info); err != nil {
		log.Warn("failed to extract petInfo type", zap.Error(err))
		return
	}
	if info == nil {
		log.Warn("failed to extract petInfo type", zap.String("reason", "petInfo is null"))
		return
	}
	if info.Type != "" {
		attrs["id"] = "PET_" + strings.ToUpper(info.Type)
	}
}
