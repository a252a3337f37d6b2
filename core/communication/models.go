package communication

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/eschool-app/eschool/core"
)

// Announcement types
const (
	AnnouncementGeneral     = "GENERAL"
	AnnouncementAcademic    = "ACADEMIC"
	AnnouncementEvent       = "EVENT"
	AnnouncementUrgent      = "URGENT"
	AnnouncementMaintenance = "MAINTENANCE"
)

// Announcement audiences
const (
	AudienceAll      = "ALL"
	AudienceStudents = "STUDENTS"
	AudienceParents  = "PARENTS"
	AudienceTeachers = "TEACHERS"
	AudienceStaff    = "STAFF"
	AudienceClass    = "CLASS"
)

// Notification types
const (
	NotificationInfo       = "INFO"
	NotificationSuccess    = "SUCCESS"
	NotificationWarning    = "WARNING"
	NotificationError      = "ERROR"
	NotificationAttendance = "ATTENDANCE"
	NotificationPayment    = "PAYMENT"
	NotificationReminder   = "REMINDER"
)

// Message boxes
const (
	Inbox  = "inbox"
	Outbox = "outbox"
)

type Message struct {
	ID                 string      `json:"id" db:"id"`
	SenderID           string      `json:"sender_id" db:"sender_id"`
	RecipientID        string      `json:"recipient_id" db:"recipient_id"`
	Subject            string      `json:"subject" db:"subject"`
	Content            string      `json:"content" db:"content"`
	ParentMessageID    null.String `json:"parent_message_id" db:"parent_message_id"`
	SentAt             time.Time   `json:"sent_at" db:"sent_at"`
	IsRead             bool        `json:"is_read" db:"is_read"`
	ReadAt             null.Time   `json:"read_at" db:"read_at"`
	DeletedBySender    bool        `json:"-" db:"deleted_by_sender"`
	DeletedByRecipient bool        `json:"-" db:"deleted_by_recipient"`
}

type Announcement struct {
	ID          string      `json:"id" db:"id"`
	Title       string      `json:"title" db:"title"`
	Content     string      `json:"content" db:"content"`
	Type        string      `json:"type" db:"type"`
	Audience    string      `json:"audience" db:"audience"`
	ClassRoomID null.String `json:"classroom_id" db:"classroom_id"`
	AuthorID    string      `json:"author_id" db:"author_id"`
	PublishAt   time.Time   `json:"publish_at" db:"publish_at"`
	ExpiresAt   null.Time   `json:"expires_at" db:"expires_at"`
	IsActive    bool        `json:"is_active" db:"is_active"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}

// VisibleAt reports whether the announcement is active, published and not expired at t.
func (a Announcement) VisibleAt(t time.Time) bool {
	if !a.IsActive || a.PublishAt.After(t) {
		return false
	}
	return !a.ExpiresAt.Valid || a.ExpiresAt.Time.After(t)
}

type Notification struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Type      string    `json:"type" db:"type"`
	Title     string    `json:"title" db:"title"`
	Message   string    `json:"message" db:"message"`
	Link      string    `json:"link" db:"link"`
	IsRead    bool      `json:"is_read" db:"is_read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type NewMessage struct {
	RecipientID string `json:"recipient_id" validate:"required,uuid"`
	Subject     string `json:"subject" validate:"required,max=200"`
	Content     string `json:"content" validate:"required"`
}

func (nm *NewMessage) Validate(validate *validator.Validate) error {
	nm.Subject = core.CleanString(nm.Subject)
	nm.Content = core.CleanString(nm.Content)
	return validate.Struct(nm)
}

type Reply struct {
	Content string `json:"content" validate:"required"`
}

func (r *Reply) Validate(validate *validator.Validate) error {
	r.Content = core.CleanString(r.Content)
	return validate.Struct(r)
}

type NewAnnouncement struct {
	Title       string    `json:"title" validate:"required,max=200"`
	Content     string    `json:"content" validate:"required"`
	Type        string    `json:"type" validate:"omitempty,oneof=GENERAL ACADEMIC EVENT URGENT MAINTENANCE"`
	Audience    string    `json:"audience" validate:"omitempty,oneof=ALL STUDENTS PARENTS TEACHERS STAFF CLASS"`
	ClassRoomID string    `json:"classroom_id" validate:"omitempty,uuid"`
	PublishAt   null.Time `json:"publish_at"`
	ExpiresAt   null.Time `json:"expires_at"`
}

func (na *NewAnnouncement) Validate(validate *validator.Validate) error {
	na.Title = core.CleanString(na.Title)
	na.Content = core.CleanString(na.Content)
	if na.Type == "" {
		na.Type = AnnouncementGeneral
	}
	if na.Audience == "" {
		na.Audience = AudienceAll
	}
	if err := validate.Struct(na); err != nil {
		return err
	}
	if na.Audience == AudienceClass && na.ClassRoomID == "" {
		return core.NewFieldError("classroom_id", "a classroom is required for class announcements")
	}
	if na.PublishAt.Valid && na.ExpiresAt.Valid && !na.ExpiresAt.Time.After(na.PublishAt.Time) {
		return core.NewFieldError("expires_at", "expires_at must be after publish_at")
	}
	return nil
}

type MessageFilter struct {
	Search string   `query:"search"`
	IsRead *bool    `query:"is_read"`
	UserID string   `query:"-"`
	Box    string   `query:"-"` // Inbox or Outbox; both when empty
	IDs    []string `query:"-"`
}

type AnnouncementFilter struct {
	Type string   `query:"type"`
	IDs  []string `query:"-"`

	// visibility; ignored when All is set
	All          bool      `query:"-"`
	Audiences    []string  `query:"-"`
	ClassRoomIDs []string  `query:"-"`
	VisibleAt    time.Time `query:"-"`
	AuthorID     string    `query:"-"` // authors always see their own announcements
}

type NotificationFilter struct {
	IsRead *bool    `query:"is_read"`
	Type   string   `query:"type"`
	UserID string   `query:"-"`
	IDs    []string `query:"-"`
}
