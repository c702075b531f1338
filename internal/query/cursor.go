package query

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Cursor is a pagination position: the (timestamp, row id) pair of the last
// returned item. Keyset pagination on this pair keeps pages stable while new
// rows are being written.
type Cursor struct {
	TS int64
	ID int64
}

// Encode renders the cursor as an opaque token.
func (c Cursor) Encode() string {
	return base64.RawURLEncoding.EncodeToString(
		[]byte(strconv.FormatInt(c.TS, 10) + ":" + strconv.FormatInt(c.ID, 10)))
}

// DecodeCursor parses an opaque token. An empty token is the zero cursor.
func DecodeCursor(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: malformed cursor", ErrInvalidArgument)
	}
	ts, id, ok := strings.Cut(string(raw), ":")
	if !ok {
		return Cursor{}, fmt.Errorf("%w: malformed cursor", ErrInvalidArgument)
	}
	c := Cursor{}
	if c.TS, err = strconv.ParseInt(ts, 10, 64); err != nil {
		return Cursor{}, fmt.Errorf("%w: malformed cursor", ErrInvalidArgument)
	}
	if c.ID, err = strconv.ParseInt(id, 10, 64); err != nil {
		return Cursor{}, fmt.Errorf("%w: malformed cursor", ErrInvalidArgument)
	}
	return c, nil
}
