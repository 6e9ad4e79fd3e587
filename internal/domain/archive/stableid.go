package archive

import (
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
)

// MessageIDs derives message ids for the items of one pull request.
//
// An id has the form "<stable>.<uuid>@<host>". The stable part is the
// base64url SHA-256 of the pull request salt and the item id, so it can be
// recomputed from (repository, number, item id) alone. The uuid only keeps
// the full address globally unique.
type MessageIDs struct {
	salt    string
	host    string
	newUUID func() uuid.UUID
}

// NewMessageIDs returns the id scheme for pull request number of repoFullName,
// using host as the address domain.
func NewMessageIDs(repoFullName string, number int, host string) MessageIDs {
	return MessageIDs{
		salt:    strings.ReplaceAll(repoFullName, "/", ".") + "." + strconv.Itoa(number),
		host:    host,
		newUUID: uuid.New,
	}
}

// Unique returns a fresh message id for the item.
func (m MessageIDs) Unique(itemID string) model.Address {
	return model.Address{Address: m.Stable(itemID) + "." + m.newUUID().String() + "@" + m.host}
}

// Stable returns the retry-invariant prefix of every id Unique returns for itemID.
func (m MessageIDs) Stable(itemID string) string {
	h := sha256.New()
	h.Write([]byte(m.salt))
	h.Write([]byte(itemID))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

// StableID extracts the stable prefix from a message id.
func StableID(id model.Address) string {
	local := id.LocalPart()
	if i := strings.IndexByte(local, '.'); i >= 0 {
		return local[:i]
	}
	return local
}
