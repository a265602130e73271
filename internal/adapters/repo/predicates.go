package repo

import (
	sq "github.com/Masterminds/squirrel"

	"feed-api/internal/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Колонки, связывающие пост с пользователями; зеркало domain.PostRefs.
const relatedUserColumns = "posts.user_id, posts.reply_user_id, posts.renote_user_id"

func truePredicate() sq.Sqlizer {
	return sq.Expr("TRUE")
}

// visibilityPredicate повторяет правила доступа фильтра кэш-пути на стороне SQL.
func visibilityPredicate(viewer domain.ViewerContext) sq.Sqlizer {
	public := sq.Eq{"posts.visibility": []string{string(domain.VisibilityPublic), string(domain.VisibilityHome)}}
	if viewer.ViewerID == "" {
		return public
	}
	return sq.Or{
		public,
		sq.Eq{"posts.user_id": viewer.ViewerID},
		sq.And{
			sq.Eq{"posts.visibility": string(domain.VisibilitySpecified)},
			sq.Expr("? = ANY(posts.visible_user_ids)", viewer.ViewerID),
		},
		sq.And{
			sq.Eq{"posts.visibility": string(domain.VisibilityFollowers)},
			sq.Expr("EXISTS (SELECT 1 FROM followings f WHERE f.follower_id = ? AND f.followee_id = posts.user_id)", viewer.ViewerID),
		},
	}
}

// sensitivePredicate: чувствительные посты видит только их автор.
func sensitivePredicate(viewer domain.ViewerContext) sq.Sqlizer {
	if viewer.ViewerID == "" {
		return sq.Eq{"posts.is_sensitive": false}
	}
	return sq.Or{
		sq.Eq{"posts.is_sensitive": false},
		sq.Eq{"posts.user_id": viewer.ViewerID},
	}
}

// mutePredicate отсекает посты, любой связанный пользователь которых замьючен.
func mutePredicate(viewer domain.ViewerContext) sq.Sqlizer {
	if viewer.ViewerID == "" {
		return truePredicate()
	}
	return sq.Expr(
		"NOT EXISTS (SELECT 1 FROM mutings m WHERE m.muter_id = ? AND m.mutee_id IN ("+relatedUserColumns+"))",
		viewer.ViewerID,
	)
}

// blockPredicate отсекает посты авторов, заблокировавших зрителя.
// Применяется только на прямом пути.
func blockPredicate(viewer domain.ViewerContext) sq.Sqlizer {
	if viewer.ViewerID == "" {
		return truePredicate()
	}
	return sq.Expr(
		"NOT EXISTS (SELECT 1 FROM blockings b WHERE b.blockee_id = ? AND b.blocker_id IN ("+relatedUserColumns+"))",
		viewer.ViewerID,
	)
}

// selfThreadPredicate оставляет из ответов только ответы в собственном треде.
func selfThreadPredicate() sq.Sqlizer {
	return sq.Or{
		sq.Eq{"posts.reply_id": nil},
		sq.Expr("posts.reply_user_id = posts.user_id"),
	}
}

// renoteExclusionPredicate отсекает чистые репосты субъекта.
func renoteExclusionPredicate(subjectID string) sq.Sqlizer {
	return sq.Or{
		sq.NotEq{"posts.user_id": subjectID},
		sq.Eq{"posts.renote_id": nil},
		sq.NotEq{"posts.text": nil},
		sq.Expr("cardinality(posts.file_ids) > 0"),
		sq.Eq{"posts.has_poll": true},
	}
}

// channelPredicate: без запроса канальных постов они исключаются целиком;
// с запросом — чувствительные каналы доступны только самому субъекту.
func channelPredicate(viewer domain.ViewerContext, withChannelNotes bool) sq.Sqlizer {
	if !withChannelNotes {
		return sq.Eq{"posts.channel_id": nil}
	}
	if viewer.IsSelf {
		return truePredicate()
	}
	return sq.Or{
		sq.Eq{"posts.channel_id": nil},
		sq.Eq{"channels.is_sensitive": false},
	}
}

func filePredicate() sq.Sqlizer {
	return sq.Expr("cardinality(posts.file_ids) > 0")
}
