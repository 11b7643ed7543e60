package chat

import (
	"regexp"
	"strconv"
	"strings"
)

// mention token forms: <@userID>, <@&roleID>, @everyone
var userMentionRegex = regexp.MustCompile(`<@(\d+)>`)
var roleMentionRegex = regexp.MustCompile(`<@&(\d+)>`)

type Mentions struct {
	UserIDs  []int64
	RoleIDs  []int64
	Everyone bool
}

// PingsRolesOrEveryone reports whether the message needs the
// pingRolesAndEveryone permission.
func (m Mentions) PingsRolesOrEveryone() bool {
	return m.Everyone || len(m.RoleIDs) > 0
}

func ParseMentions(text string) Mentions {
	var mentions Mentions

	seenUsers := make(map[int64]struct{})
	for _, match := range userMentionRegex.FindAllStringSubmatch(text, -1) {
		id, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			continue
		}
		if _, seen := seenUsers[id]; seen {
			continue
		}
		seenUsers[id] = struct{}{}
		mentions.UserIDs = append(mentions.UserIDs, id)
	}

	seenRoles := make(map[int64]struct{})
	for _, match := range roleMentionRegex.FindAllStringSubmatch(text, -1) {
		id, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			continue
		}
		if _, seen := seenRoles[id]; seen {
			continue
		}
		seenRoles[id] = struct{}{}
		mentions.RoleIDs = append(mentions.RoleIDs, id)
	}

	mentions.Everyone = strings.Contains(text, "@everyone")

	return mentions
}
