package domain

import "time"

// Visibility задаёт класс доступа поста.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityHome      Visibility = "home"
	VisibilityFollowers Visibility = "followers"
	VisibilitySpecified Visibility = "specified"
)

// Post представляет пост из авторитетного хранилища.
// ID одновременно является курсором: ULID, упорядоченный по времени создания.
type Post struct {
	ID             string
	UserID         string
	ReplyID        *string
	ReplyUserID    *string
	RenoteID       *string
	RenoteUserID   *string
	Text           *string
	FileIDs        []string
	HasPoll        bool
	Visibility     Visibility
	VisibleUserIDs []string
	ChannelID      *string
	IsSensitive    bool
	CreatedAt      time.Time
}

// HasText сообщает, есть ли у поста текст.
func (p Post) HasText() bool {
	return p.Text != nil && *p.Text != ""
}

// HasFiles сообщает, есть ли у поста вложения.
func (p Post) HasFiles() bool {
	return len(p.FileIDs) > 0
}

// IsPureRenote — репост без собственного контента (не цитата).
func (p Post) IsPureRenote() bool {
	return p.RenoteID != nil && !p.HasText() && !p.HasFiles() && !p.HasPoll
}

// Refs возвращает связи поста с пользователями.
func (p Post) Refs() PostRefs {
	refs := PostRefs{AuthorID: p.UserID}
	if p.ReplyUserID != nil {
		refs.ReplyUserID = *p.ReplyUserID
	}
	if p.RenoteUserID != nil {
		refs.RenoteUserID = *p.RenoteUserID
	}
	return refs
}

// CandidateSummary — облегчённое представление поста в фанаут-индексе.
// Несёт только поля, нужные фильтру доступа до гидрации.
type CandidateSummary struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	ReplyUserID    string     `json:"replyUserId,omitempty"`
	RenoteUserID   string     `json:"renoteUserId,omitempty"`
	IsQuote        bool       `json:"isQuote,omitempty"`
	Visibility     Visibility `json:"visibility"`
	VisibleUserIDs []string   `json:"visibleUserIds,omitempty"`
	IsSensitive    bool       `json:"isSensitive,omitempty"`
	ChannelID      string     `json:"channelId,omitempty"`
}

// IsPureRenote — репост без цитаты.
func (c CandidateSummary) IsPureRenote() bool {
	return c.RenoteUserID != "" && !c.IsQuote
}

// Refs возвращает связи кандидата с пользователями.
func (c CandidateSummary) Refs() PostRefs {
	return PostRefs{AuthorID: c.UserID, ReplyUserID: c.ReplyUserID, RenoteUserID: c.RenoteUserID}
}

// PostRefs описывает пользователей, связанных с постом: автор, автор
// исходного поста при репосте и автор родительского поста при ответе.
// Единственное определение для фильтра и SQL-предикатов.
type PostRefs struct {
	AuthorID     string
	ReplyUserID  string
	RenoteUserID string
}

// RelatedUserIDs перечисляет непустые связанные id без повторов.
func (r PostRefs) RelatedUserIDs() []string {
	ids := []string{r.AuthorID}
	if r.ReplyUserID != "" && r.ReplyUserID != r.AuthorID {
		ids = append(ids, r.ReplyUserID)
	}
	if r.RenoteUserID != "" && r.RenoteUserID != r.AuthorID && r.RenoteUserID != r.ReplyUserID {
		ids = append(ids, r.RenoteUserID)
	}
	return ids
}

// TimelineVariant выбирает один из фанаут-списков пользователя.
type TimelineVariant string

const (
	VariantBase         TimelineVariant = "base"
	VariantWithReplies  TimelineVariant = "withReplies"
	VariantWithChannel  TimelineVariant = "withChannel"
	VariantFiles        TimelineVariant = "files"
	VariantFilesReplies TimelineVariant = "filesWithReplies"
	VariantFilesChannel TimelineVariant = "filesWithChannel"
)

// TimelineKey адресует фанаут-список конкретного пользователя.
type TimelineKey struct {
	UserID  string
	Variant TimelineVariant
}

// TimelineOptions — флаги запроса таймлайна.
type TimelineOptions struct {
	WithReplies      bool
	WithRenotes      bool
	WithChannelNotes bool
	WithFiles        bool
	// ExcludeNSFW принимается на входе, но в фильтрах не участвует.
	ExcludeNSFW bool
}

// ViewerContext содержит факты о зрителе, необходимые для проверки доступа.
// Пустой ViewerID означает анонимный запрос.
type ViewerContext struct {
	ViewerID  string
	IsSelf    bool
	Following map[string]struct{}
	Muted     map[string]struct{}
}

// Follows сообщает, подписан ли зритель на пользователя.
func (v ViewerContext) Follows(userID string) bool {
	_, ok := v.Following[userID]
	return ok
}

// Mutes сообщает, замьючен ли пользователь у зрителя.
func (v ViewerContext) Mutes(userID string) bool {
	_, ok := v.Muted[userID]
	return ok
}
