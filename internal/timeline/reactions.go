package timeline

import (
	"slices"
	"strconv"

	"github.com/kmarchetti/go-chatsync/internal/types"
)

// GroupReactions folds the flat per-user reaction rows from a history
// page into the per-emoji aggregate, computing the current user's
// participation along the way.
func GroupReactions(rows []types.ReactionRow, username string) map[string]types.ReactionEntry {
	if len(rows) == 0 {
		return nil
	}

	grouped := make(map[string]types.ReactionEntry)
	for _, row := range rows {
		entry := grouped[row.Emoji]
		entry.Users = append(entry.Users, row.Username)
		entry.Count++
		if row.Username == username {
			entry.UserReacted = true
		}
		grouped[row.Emoji] = entry
	}
	return grouped
}

// ApplyLikeResult reconciles a server-confirmed like toggle into a new
// message value. The input is not mutated. The like count rides the wire
// as a string and an unparsable or absent count starts from zero.
func ApplyLikeResult(msg types.Message, liked bool, likeId int64, username string) types.Message {
	count, _ := strconv.Atoi(msg.LikesCount)
	likes := slices.Clone(msg.Likes)

	if liked {
		likes = append(likes, types.Like{Id: likeId, Username: username})
		count++
	} else {
		likes = slices.DeleteFunc(likes, func(l types.Like) bool {
			return l.Username == username
		})
		count--
	}

	msg.Likes = likes
	msg.LikesCount = strconv.Itoa(count)
	return msg
}

// ApplyReactionResult reconciles a server-confirmed reaction toggle into
// a new message value. An entry whose count reaches zero is deleted
// outright, and a reaction map with no entries left is represented as
// nil, matching how the view distinguishes "no reactions" from "has
// reactions".
func ApplyReactionResult(msg types.Message, emoji string, reactedTo bool, username string) types.Message {
	reactions := make(map[string]types.ReactionEntry, len(msg.Reactions)+1)
	for k, v := range msg.Reactions {
		v.Users = slices.Clone(v.Users)
		reactions[k] = v
	}

	entry := reactions[emoji]
	if reactedTo {
		entry.Count++
		entry.UserReacted = true
		entry.Users = append(entry.Users, username)
	} else {
		entry.Count--
		entry.UserReacted = false
		entry.Users = slices.DeleteFunc(entry.Users, func(u string) bool {
			return u == username
		})
	}

	if entry.Count <= 0 {
		delete(reactions, emoji)
	} else {
		reactions[emoji] = entry
	}

	if len(reactions) == 0 {
		reactions = nil
	}
	msg.Reactions = reactions
	return msg
}
