package store

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Submission statuses.
const (
	SubmissionPending  = "PENDING"
	SubmissionApproved = "APPROVED"
	SubmissionRejected = "REJECTED"
)

// Post statuses.
const (
	PostDraft     = "DRAFT"
	PostPublished = "PUBLISHED"
)

// Post display slots.
const (
	SlotFeatured = "FEATURED"
	SlotGrid     = "GRID"
)

// NewID returns a random 32 character hex identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// AdminUser is an account allowed into the admin surface.
type AdminUser struct {
	ID           string     `gorm:"primaryKey;size:32" json:"id"`
	Username     string     `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string     `gorm:"not null" json:"-"`
	LastLoginAt  *time.Time `json:"lastLoginAt"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (a *AdminUser) BeforeCreate(_ *gorm.DB) error {
	if a.ID == "" {
		a.ID = NewID()
	}

	return nil
}

// Category groups posts on the public site.
type Category struct {
	ID        string    `gorm:"primaryKey;size:32" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Slug      string    `gorm:"uniqueIndex;not null" json:"slug"`
	Order     int       `gorm:"column:sort_order;not null;default:0" json:"order"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c *Category) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = NewID()
	}

	return nil
}

// CategoryRef is the compact category shape embedded in post payloads.
type CategoryRef struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Ref returns the compact form of c, or nil.
func (c *Category) Ref() *CategoryRef {
	if c == nil {
		return nil
	}

	return &CategoryRef{Name: c.Name, Slug: c.Slug}
}

// Submission is an anonymous story awaiting moderation.
type Submission struct {
	ID                 string     `gorm:"primaryKey;size:32" json:"id"`
	Title              string     `gorm:"not null" json:"title"`
	Content            string     `gorm:"type:text;not null" json:"content"`
	AuthorName         *string    `json:"authorName"`
	Contact            *string    `json:"contact"`
	CategorySuggestion *string    `json:"categorySuggestion"`
	ThumbnailPath      *string    `json:"thumbnailPath"`
	VideoPath          *string    `json:"videoPath"`
	Status             string     `gorm:"index;not null;default:PENDING" json:"status"`
	AdminNotes         *string    `gorm:"type:text" json:"adminNotes"`
	ReviewedAt         *time.Time `json:"reviewedAt"`
	CreatedAt          time.Time  `gorm:"index" json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

func (s *Submission) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = NewID()
	}

	if s.Status == "" {
		s.Status = SubmissionPending
	}

	return nil
}

// Post is a story on the public site.
type Post struct {
	ID                 string     `gorm:"primaryKey;size:32" json:"id"`
	Title              string     `gorm:"not null" json:"title"`
	Slug               string     `gorm:"uniqueIndex;not null" json:"slug"`
	Excerpt            *string    `json:"excerpt"`
	Content            string     `gorm:"type:text;not null" json:"content"`
	Status             string     `gorm:"index;not null;default:DRAFT" json:"status"`
	DisplaySlot        string     `gorm:"not null;default:GRID" json:"displaySlot"`
	DisplayOrder       int        `gorm:"not null;default:0" json:"displayOrder"`
	IsPinned           bool       `gorm:"not null;default:false" json:"isPinned"`
	PublishedAt        *time.Time `gorm:"index" json:"publishedAt"`
	Views              int64      `gorm:"not null;default:0" json:"views"`
	ThumbnailPath      *string    `json:"thumbnailPath"`
	VideoPath          *string    `json:"videoPath"`
	CategoryID         *string    `gorm:"size:32;index" json:"categoryId"`
	Category           *Category  `gorm:"constraint:OnDelete:SET NULL" json:"category,omitempty"`
	SourceSubmissionID *string    `gorm:"size:32;uniqueIndex" json:"sourceSubmissionId"`
	Comments           []Comment  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

func (p *Post) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = NewID()
	}

	if p.Status == "" {
		p.Status = PostDraft
	}

	if p.DisplaySlot == "" {
		p.DisplaySlot = SlotGrid
	}

	return nil
}

// IsVisible reports whether the post is published and its publication
// time has been reached.
func (p *Post) IsVisible(now time.Time) bool {
	return p.Status == PostPublished &&
		p.PublishedAt != nil &&
		!p.PublishedAt.After(now)
}

// Comment is a reader comment on a post.
type Comment struct {
	ID         string    `gorm:"primaryKey;size:32" json:"id"`
	PostID     string    `gorm:"size:32;index;not null" json:"-"`
	AuthorName *string   `json:"authorName"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

func (c *Comment) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = NewID()
	}

	return nil
}

// AuditLog is an append-only record of a security relevant event. It
// also backs the sliding window rate limits.
type AuditLog struct {
	ID          string         `gorm:"primaryKey;size:32" json:"id"`
	Action      string         `gorm:"not null;index:idx_audit_action_ip_created,priority:1" json:"action"`
	EntityType  string         `gorm:"not null" json:"entityType"`
	EntityID    *string        `gorm:"size:255" json:"entityId"`
	AdminUserID *string        `gorm:"size:32;index" json:"adminUserId"`
	IP          *string        `gorm:"index:idx_audit_action_ip_created,priority:2" json:"ip"`
	UserAgent   *string        `json:"userAgent"`
	Metadata    datatypes.JSON `json:"metadata"`
	CreatedAt   time.Time      `gorm:"index:idx_audit_action_ip_created,priority:3" json:"createdAt"`
}

func (a *AuditLog) BeforeCreate(_ *gorm.DB) error {
	if a.ID == "" {
		a.ID = NewID()
	}

	return nil
}

// BeforeUpdate and BeforeDelete refuse mutation of written entries.
func (a *AuditLog) BeforeUpdate(_ *gorm.DB) error {
	return ErrImmutable
}

func (a *AuditLog) BeforeDelete(_ *gorm.DB) error {
	return ErrImmutable
}

// Ptr returns a pointer to s, or nil when s is empty after trimming.
func Ptr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}
