package model

import (
	"time"

	"github.com/google/uuid"
)

// Kind names an entity table. Authorization rules are registered per Kind.
type Kind string

const (
	KindUsers   Kind = "users"
	KindPosts   Kind = "posts"
	KindTags    Kind = "tags"
	KindFollows Kind = "follows"
)

// Row is implemented by every persisted entity.
type Row interface {
	Kind() Kind
	RowID() uuid.UUID
}

// PostStatus is the lifecycle state of a post.
type PostStatus string

const (
	PostStatusDraft     PostStatus = "draft"
	PostStatusPublished PostStatus = "published"
)

// Valid reports whether s is a known status.
func (s PostStatus) Valid() bool {
	return s == PostStatusDraft || s == PostStatusPublished
}

// NewID returns a time-ordered identifier so that id order follows insertion order.
func NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NowMillis returns the current time as epoch milliseconds, the unit used for
// post and tag dates.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// User is an authenticated principal's profile.
type User struct {
	ID              uuid.UUID `json:"id"        gorm:"primaryKey;type:uuid"`
	Name            string    `json:"name"      gorm:"not null"`
	TokenIdentifier string    `json:"-"         gorm:"not null;uniqueIndex:idx_users_token"`
	CreatedAt       time.Time `json:"createdAt" gorm:"not null"`
}

func (User) TableName() string { return "users" }
func (User) Kind() Kind { return KindUsers }
func (u User) RowID() uuid.UUID { return u.ID }

// Post is a daily log entry. Images hold storage references, not URLs.
type Post struct {
	ID              uuid.UUID  `json:"id"              gorm:"primaryKey;type:uuid"`
	Author          uuid.UUID  `json:"author"          gorm:"not null;type:uuid;index:idx_posts_author_date,priority:1;index:idx_posts_author_status,priority:1"`
	Text            string     `json:"text"            gorm:"not null"`
	Images          []string   `json:"images"          gorm:"serializer:json;not null"`
	LastUpdatedDate int64      `json:"lastUpdatedDate" gorm:"not null;index:idx_posts_author_date,priority:2;index:idx_posts_date"`
	Status          PostStatus `json:"status"          gorm:"not null;default:'published';index:idx_posts_author_status,priority:2"`
	CreatedAt       time.Time  `json:"createdAt"       gorm:"not null"`
}

func (Post) TableName() string { return "posts" }
func (Post) Kind() Kind { return KindPosts }
func (p Post) RowID() uuid.UUID { return p.ID }

// Tag links a name to a post. PostDate copies the post's LastUpdatedDate at
// the time the tag was written.
type Tag struct {
	ID        uuid.UUID `json:"id"        gorm:"primaryKey;type:uuid"`
	Name      string    `json:"name"      gorm:"not null;index:idx_tags_name_date,priority:1"`
	PostID    uuid.UUID `json:"postId"    gorm:"not null;type:uuid;index:idx_tags_post"`
	PostDate  int64     `json:"postDate"  gorm:"not null;index:idx_tags_name_date,priority:2"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
}

func (Tag) TableName() string { return "tags" }
func (Tag) Kind() Kind { return KindTags }
func (t Tag) RowID() uuid.UUID { return t.ID }

// Follow is a directed follow request. Accepted marks it active.
type Follow struct {
	ID        uuid.UUID `json:"id"        gorm:"primaryKey;type:uuid"`
	Follower  uuid.UUID `json:"follower"  gorm:"not null;type:uuid;uniqueIndex:idx_follows_pair,priority:1"`
	Followed  uuid.UUID `json:"followed"  gorm:"not null;type:uuid;uniqueIndex:idx_follows_pair,priority:2;index:idx_follows_followed"`
	Accepted  bool      `json:"accepted"  gorm:"not null;default:false"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
}

func (Follow) TableName() string { return "follows" }
func (Follow) Kind() Kind { return KindFollows }
func (f Follow) RowID() uuid.UUID { return f.ID }
