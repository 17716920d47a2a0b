package membership

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// isoMillis is the ISO-8601 layout produced by JavaScript's toISOString.
const isoMillis = "2006-01-02T15:04:05.000Z"

// Record is one active membership grant.
type Record struct {
	RoleID   string
	ExpireAt time.Time // zero means the record never expires
}

// Expired reports whether the record is due at now.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpireAt.IsZero() && !r.ExpireAt.After(now)
}

type recordJSON struct {
	RoleID     string `json:"roleId"`
	ExpireDate string `json:"expireDate,omitempty"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{RoleID: r.RoleID}
	if !r.ExpireAt.IsZero() {
		out.ExpireDate = r.ExpireAt.UTC().Format(isoMillis)
	}
	return json.Marshal(out)
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var in recordJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	r.RoleID = in.RoleID
	r.ExpireAt = time.Time{}
	if in.ExpireDate == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, in.ExpireDate)
	if err != nil {
		return fmt.Errorf("expireDate %q: %w", in.ExpireDate, err)
	}
	r.ExpireAt = t.UTC().Truncate(time.Millisecond)
	return nil
}
