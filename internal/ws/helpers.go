package ws

import (
	"github.com/oklog/ulid/v2"
)

func newConnID() string {
	return ulid.Make().String()
}
