package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"ncfpos/internal/domain/auth"
	"ncfpos/internal/domain/comprobante"
	"ncfpos/internal/domain/sequence"
)

// TypeEntry is one comprobante type in the catalog file.
type TypeEntry struct {
	ID           int64  `mapstructure:"id"`
	Code         string `mapstructure:"code"`
	Name         string `mapstructure:"name"`
	IsFiscal     bool   `mapstructure:"is_fiscal"`
	Prefix       string `mapstructure:"prefix"`
	PaddingWidth int    `mapstructure:"padding_width"`
	MaxNumber    *int64 `mapstructure:"max_number"`
	Active       *bool  `mapstructure:"active"`
	ForSale      *bool  `mapstructure:"for_sale"`
	RequiresRNC  bool   `mapstructure:"requires_rnc"`
	SuggestWhen  string `mapstructure:"suggest_when"`
}

// SequenceEntry is the initial range of a fiscal type.
type SequenceEntry struct {
	TypeID            int64  `mapstructure:"comprobante_type_id"`
	StartNumber       int64  `mapstructure:"start_number"`
	MaxNumber         *int64 `mapstructure:"max_number"`
	ExpiresAt         string `mapstructure:"expires_at"`
	LowStockThreshold int64  `mapstructure:"low_stock_threshold"`
	ExpiryWarningDays int    `mapstructure:"expiry_warning_days"`
}

// Catalog is the parsed catalog file.
type Catalog struct {
	Types     []TypeEntry     `mapstructure:"comprobante_types"`
	Sequences []SequenceEntry `mapstructure:"sequences"`
	Terminals []auth.Terminal `mapstructure:"terminals"`
}

// LoadCatalog reads the catalog YAML at path.
func LoadCatalog(path string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	var c Catalog
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	if len(c.Types) == 0 {
		return nil, fmt.Errorf("catalog %s defines no comprobante types", path)
	}
	return &c, nil
}

// ComprobanteTypes converts the entries. active and for_sale default to true.
func (c *Catalog) ComprobanteTypes() []comprobante.Type {
	out := make([]comprobante.Type, 0, len(c.Types))
	for _, e := range c.Types {
		out = append(out, comprobante.Type{
			ID:           e.ID,
			Code:         e.Code,
			Name:         e.Name,
			IsFiscal:     e.IsFiscal,
			Prefix:       e.Prefix,
			PaddingWidth: e.PaddingWidth,
			MaxNumber:    e.MaxNumber,
			Active:       e.Active == nil || *e.Active,
			ForSale:      e.ForSale == nil || *e.ForSale,
			RequiresRNC:  e.RequiresRNC,
			SuggestWhen:  e.SuggestWhen,
		})
	}
	return out
}

// SequenceSeeds converts the sequence entries. A sequence without max_number
// inherits the type's. expires_at is a date; the range stays valid through
// the end of that day (UTC).
func (c *Catalog) SequenceSeeds() ([]sequence.Sequence, error) {
	typeMax := make(map[int64]*int64, len(c.Types))
	for _, t := range c.Types {
		typeMax[t.ID] = t.MaxNumber
	}

	out := make([]sequence.Sequence, 0, len(c.Sequences))
	for _, e := range c.Sequences {
		maxNumber, known := typeMax[e.TypeID]
		if !known {
			return nil, fmt.Errorf("sequence references unknown comprobante type %d", e.TypeID)
		}
		if e.MaxNumber != nil {
			maxNumber = e.MaxNumber
		}

		var expiresAt *time.Time
		if e.ExpiresAt != "" {
			t, err := ParseExpiry(e.ExpiresAt)
			if err != nil {
				return nil, fmt.Errorf("sequence for type %d: %w", e.TypeID, err)
			}
			expiresAt = &t
		}

		seq := sequence.New(e.TypeID, e.StartNumber, maxNumber, expiresAt)
		if e.LowStockThreshold > 0 {
			seq.LowStockThreshold = e.LowStockThreshold
		}
		if e.ExpiryWarningDays > 0 {
			seq.ExpiryWarningDays = e.ExpiryWarningDays
		}
		out = append(out, seq)
	}
	return out, nil
}

// ParseExpiry accepts a date (end of that day, UTC) or an RFC 3339 timestamp.
func ParseExpiry(s string) (time.Time, error) {
	if d, err := time.Parse(time.DateOnly, s); err == nil {
		return d.Add(24*time.Hour - time.Nanosecond), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiry %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}
