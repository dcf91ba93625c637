package main

import (
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/you/skyblock-auctions/internal/core"
	"github.com/you/skyblock-auctions/internal/item"
	"github.com/you/skyblock-auctions/internal/nbt"
)

// fixture is the YAML description of one ended-auctions page.
type fixture struct {
	LastUpdated int64            `yaml:"last_updated"`
	Auctions    []fixtureAuction `yaml:"auctions"`
}

type fixtureAuction struct {
	AuctionID string         `yaml:"auction_id"`
	Price     float64        `yaml:"price"`
	Timestamp int64          `yaml:"timestamp"`
	Bin       bool           `yaml:"bin"`
	Count     int8           `yaml:"count"`
	Extra     map[string]any `yaml:"extra"`
	// Raw replaces the encoded payload verbatim, for corrupt-item cases.
	Raw *string `yaml:"raw"`
}

const sampleFixture = `
auctions:
  - price: 1250000000
    bin: true
    extra:
      id: HYPERION
      modifier: heroic
      enchantments:
        ultimate_wise: 5
        sharpness: 6
  - price: 4500000
    bin: false
    extra:
      id: PET
      petInfo: '{"type":"OCELOT","tier":"LEGENDARY","exp":25353230.0}'
  - price: 100
    bin: true
    extra: {}
`

func loadFixture(path string) (fixture, error) {
	data := []byte(sampleFixture)
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return fixture{}, err
		}
		data = b
	}
	var fx fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return fixture{}, fmt.Errorf("parse fixture: %w", err)
	}
	return fx, nil
}

// page renders the fixture as raw auctions. Missing ids are generated, fresh
// ones on every call when rotate is set.
func (fx fixture) page(now time.Time, rotate bool, ids map[int]string) ([]core.RawAuction, int64, error) {
	out := make([]core.RawAuction, 0, len(fx.Auctions))
	for i, a := range fx.Auctions {
		id := a.AuctionID
		if id == "" {
			if cached, ok := ids[i]; ok && !rotate {
				id = cached
			} else {
				id = uuid.NewString()
				ids[i] = id
			}
		}
		ts := a.Timestamp
		if ts == 0 {
			ts = now.UnixMilli()
		}

		var payload string
		if a.Raw != nil {
			payload = *a.Raw
		} else {
			count := a.Count
			if count == 0 {
				count = 1
			}
			var extra *nbt.Compound
			if a.Extra != nil {
				c, err := toCompound(a.Extra)
				if err != nil {
					return nil, 0, fmt.Errorf("auction %d: %w", i, err)
				}
				extra = &c
			}
			p, err := item.EncodePayload(count, extra)
			if err != nil {
				return nil, 0, fmt.Errorf("auction %d: %w", i, err)
			}
			payload = p
		}

		out = append(out, core.RawAuction{
			AuctionID: id,
			Price:     a.Price,
			Timestamp: ts,
			Bin:       a.Bin,
			ItemBytes: payload,
		})
	}

	last := fx.LastUpdated
	if last == 0 {
		last = now.UnixMilli()
	}
	return out, last, nil
}

func toCompound(m map[string]any) (nbt.Compound, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	c := nbt.Compound{Fields: make([]nbt.Field, 0, len(names))}
	for _, name := range names {
		tag, err := toTag(m[name])
		if err != nil {
			return nbt.Compound{}, fmt.Errorf("%s: %w", name, err)
		}
		c.Fields = append(c.Fields, nbt.Field{Name: name, Tag: tag})
	}
	return c, nil
}

func toTag(v any) (nbt.Tag, error) {
	switch v := v.(type) {
	case string:
		return nbt.String(v), nil
	case bool:
		if v {
			return nbt.Byte(1), nil
		}
		return nbt.Byte(0), nil
	case int:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return nbt.Int(int32(v)), nil
		}
		return nbt.Long(int64(v)), nil
	case float64:
		return nbt.Double(v), nil
	case map[string]any:
		return toCompound(v)
	case []any:
		if len(v) == 0 {
			return nbt.List{Elem: nbt.KindEnd}, nil
		}
		items := make([]nbt.Tag, 0, len(v))
		for i, e := range v {
			tag, err := toTag(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			items = append(items, tag)
		}
		return nbt.List{Elem: items[0].Kind(), Items: items}, nil
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
}
