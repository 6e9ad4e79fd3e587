package archive

import (
	"encoding/base64"
	"regexp"
	"strings"
	"time"

	"github.com/ericfisherdev/mlbridge/internal/domain/model"
)

var (
	bridgedMailID = regexp.MustCompile(`^<!-- Bridged id \(([=+/\w]+)\) -->`)
	bridgedSender = regexp.MustCompile(`Mailing list message from \[(.*?)]\(mailto:(\S+)\)`)
)

// BridgedComment is a mailing-list message that was posted to the forge as a
// comment by the bot account.
type BridgedComment struct {
	MessageID model.Address
	Body      string
	Author    model.User
	Created   time.Time
}

// ParseBridgedComment recognises a comment that carries a bridged mailing-list
// message. Only comments authored by bot qualify.
func ParseBridgedComment(c model.IssueComment, bot model.User) (BridgedComment, bool) {
	if c.Author.ID != bot.ID {
		return BridgedComment{}, false
	}
	m := bridgedMailID.FindStringSubmatch(c.Body)
	if m == nil {
		return BridgedComment{}, false
	}
	id, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		return BridgedComment{}, false
	}
	loc := bridgedSender.FindStringSubmatchIndex(c.Body)
	if loc == nil {
		return BridgedComment{}, false
	}

	body := ""
	if end := strings.Index(c.Body[loc[1]:], "\n\n"); end >= 0 {
		body = strings.TrimSpace(c.Body[loc[1]+end:])
	}
	return BridgedComment{
		MessageID: model.Address{Address: string(id)},
		Body:      body,
		Author: model.User{
			ID:       model.BridgedUserID,
			Login:    model.BridgedUserID,
			FullName: c.Body[loc[2]:loc[3]],
			Email:    c.Body[loc[4]:loc[5]],
		},
		Created: c.CreatedAt,
	}, true
}
