package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// InfoFile is the name of the info file next to a published dataset.
const InfoFile = "info.json"

// ErrInvalidInfo is returned for unparsable dataset info.
var ErrInvalidInfo = errors.New("invalid dataset info")

// Info describes a published dataset.
// On the wire every field is a string: {"height": "...", "lastupdate": "...", "price": "..."}.
type Info struct {
	// Height is the block height the dataset was built at. Transaction heights above it are malformed.
	Height uint32

	// LastUpdate identifies the dataset generation (an RFC 3339 timestamp).
	LastUpdate string

	// Price is the USD value of one BTC at build time; zero if unknown.
	Price float64
}

type infoJSON struct {
	Height     string `json:"height"`
	LastUpdate string `json:"lastupdate"`
	Price      string `json:"price"`
}

// MarshalJSON implements json.Marshaler.
func (i Info) MarshalJSON() ([]byte, error) {
	return json.Marshal(infoJSON{
		Height:     strconv.FormatUint(uint64(i.Height), 10),
		LastUpdate: i.LastUpdate,
		Price:      strconv.FormatFloat(i.Price, 'f', 2, 64),
	})
}

// UnmarshalJSON implements json.Unmarshaler. Empty fields read as zero.
func (i *Info) UnmarshalJSON(data []byte) error {
	var raw infoJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInfo, err)
	}
	var out Info
	if raw.Height != "" {
		h, err := strconv.ParseUint(raw.Height, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: height %q: %v", ErrInvalidInfo, raw.Height, err)
		}
		out.Height = uint32(h)
	}
	if raw.Price != "" {
		p, err := strconv.ParseFloat(raw.Price, 64)
		if err != nil || p < 0 {
			return fmt.Errorf("%w: price %q", ErrInvalidInfo, raw.Price)
		}
		out.Price = p
	}
	out.LastUpdate = raw.LastUpdate
	*i = out
	return nil
}

// Generation identifies the dataset for client-side caching.
func (i Info) Generation() string {
	return i.LastUpdate + "@" + strconv.FormatUint(uint64(i.Height), 10)
}

// LoadInfo reads dir/info.json. A missing file is an empty Info.
func LoadInfo(dir string) (Info, error) {
	data, err := os.ReadFile(filepath.Join(dir, InfoFile))
	if errors.Is(err, os.ErrNotExist) {
		return Info{}, nil
	}
	if err != nil {
		return Info{}, fmt.Errorf("failed to read dataset info: %w", err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}

// SaveInfo writes dir/info.json atomically.
func SaveInfo(dir string, info Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode dataset info: %w", err)
	}
	path := filepath.Join(dir, InfoFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write dataset info: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace dataset info: %w", err)
	}
	return nil
}
