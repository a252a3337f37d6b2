package communication

import (
	"context"
	"strings"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/academic"
	"github.com/eschool-app/eschool/core/rbac"
	"github.com/eschool-app/eschool/core/user"
)

var (
	// errors
	ErrMessageNotFound      = core.NewNotFoundError("message")
	ErrAnnouncementNotFound = core.NewNotFoundError("announcement")
	ErrNotificationNotFound = core.NewNotFoundError("notification")
	ErrSelfMessage          = errors.New("you cannot send a message to yourself")
	ErrInactiveRecipient    = errors.New("the recipient is not an active user")

	nowFunc = time.Now // mockable
)

// roleAudiences are the announcement audiences reaching each role, besides ALL and CLASS.
var roleAudiences = map[string][]string{
	user.RoleStudent: {AudienceStudents},
	user.RoleParent:  {AudienceParents},
	user.RoleTeacher: {AudienceTeachers, AudienceStaff},
	user.RoleFinance: {AudienceStaff},
}

type (
	Repository interface {
		CreateMessage(ctx context.Context, m Message) (Message, error)
		UpdateMessage(ctx context.Context, m Message) (Message, error)
		// QueryMessages hides the messages deleted by the side of the box being listed.
		QueryMessages(ctx context.Context, filter MessageFilter, ordering []core.DBOrdering) ([]Message, error)

		CreateAnnouncement(ctx context.Context, a Announcement) (Announcement, error)
		UpdateAnnouncement(ctx context.Context, a Announcement) (Announcement, error)
		QueryAnnouncements(ctx context.Context, filter AnnouncementFilter, ordering []core.DBOrdering) ([]Announcement, error)

		CreateNotification(ctx context.Context, n Notification, exec ...core.DBExecutor) (Notification, error)
		QueryNotifications(ctx context.Context, filter NotificationFilter, ordering []core.DBOrdering) ([]Notification, error)
		CountUnreadNotifications(ctx context.Context, userID string) (int, error)
		// MarkNotificationsRead marks the user's notifications as read; all of them when no ID is given.
		MarkNotificationsRead(ctx context.Context, userID string, ids ...string) (int, error)
	}

	Service struct {
		repo        Repository
		usrSvc      *user.Service
		academicSvc *academic.Service
	}
)

func NewService(repo Repository, usrSvc *user.Service, academicSvc *academic.Service) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(usrSvc, "usrSvc"),
		vala.IsNotNil(academicSvc, "academicSvc"),
	).CheckAndPanic()

	return &Service{repo: repo, usrSvc: usrSvc, academicSvc: academicSvc}
}

// Messages

func (svc *Service) Send(ctx context.Context, p rbac.Principal, nm NewMessage) (Message, error) {
	if nm.RecipientID == p.UserID {
		return Message{}, core.NewFieldError("recipient_id", ErrSelfMessage.Error())
	}
	recipient, err := svc.usrSvc.GetByID(ctx, nm.RecipientID)
	if err != nil {
		if core.IsNotFound(err) {
			return Message{}, core.NewFieldError("recipient_id", err.Error())
		}
		return Message{}, errors.Wrap(err, "finding recipient")
	}
	if !recipient.IsActive {
		return Message{}, core.NewFieldError("recipient_id", ErrInactiveRecipient.Error())
	}
	return svc.repo.CreateMessage(ctx, Message{
		SenderID:    p.UserID,
		RecipientID: nm.RecipientID,
		Subject:     nm.Subject,
		Content:     nm.Content,
		SentAt:      nowFunc().UTC(),
	})
}

// Reply answers a message the principal sent or received; the reply goes to the other party.
func (svc *Service) Reply(ctx context.Context, p rbac.Principal, parentID string, r Reply) (Message, error) {
	parent, err := svc.getMessage(ctx, p, parentID)
	if err != nil {
		return Message{}, err
	}
	recipientID := parent.SenderID
	if parent.SenderID == p.UserID {
		recipientID = parent.RecipientID
	}
	subject := parent.Subject
	if !strings.HasPrefix(subject, "Re: ") {
		subject = "Re: " + subject
	}
	return svc.repo.CreateMessage(ctx, Message{
		SenderID:        p.UserID,
		RecipientID:     recipientID,
		Subject:         subject,
		Content:         r.Content,
		ParentMessageID: null.StringFrom(parent.ID),
		SentAt:          nowFunc().UTC(),
	})
}

func (svc *Service) Inbox(ctx context.Context, p rbac.Principal, filter MessageFilter, ordering []core.DBOrdering) ([]Message, error) {
	filter.UserID = p.UserID
	filter.Box = Inbox
	return svc.repo.QueryMessages(ctx, filter, ordering)
}

func (svc *Service) Outbox(ctx context.Context, p rbac.Principal, filter MessageFilter, ordering []core.DBOrdering) ([]Message, error) {
	filter.UserID = p.UserID
	filter.Box = Outbox
	return svc.repo.QueryMessages(ctx, filter, ordering)
}

func (svc *Service) getMessage(ctx context.Context, p rbac.Principal, id string) (Message, error) {
	messages, err := svc.repo.QueryMessages(ctx, MessageFilter{UserID: p.UserID, IDs: []string{id}}, nil)
	if err != nil {
		return Message{}, errors.Wrap(err, "querying messages")
	}
	if len(messages) == 0 {
		return Message{}, ErrMessageNotFound
	}
	return messages[0], nil
}

// Read returns a message and marks it as read when the recipient opens it.
func (svc *Service) Read(ctx context.Context, p rbac.Principal, id string) (Message, error) {
	m, err := svc.getMessage(ctx, p, id)
	if err != nil {
		return Message{}, err
	}
	if m.RecipientID == p.UserID && !m.IsRead {
		m.IsRead = true
		m.ReadAt = null.TimeFrom(nowFunc().UTC())
		return svc.repo.UpdateMessage(ctx, m)
	}
	return m, nil
}

// Delete hides a message from the principal's side only.
func (svc *Service) Delete(ctx context.Context, p rbac.Principal, id string) error {
	m, err := svc.getMessage(ctx, p, id)
	if err != nil {
		return err
	}
	if m.SenderID == p.UserID {
		m.DeletedBySender = true
	}
	if m.RecipientID == p.UserID {
		m.DeletedByRecipient = true
	}
	_, err = svc.repo.UpdateMessage(ctx, m)
	return err
}

// Announcements

func (svc *Service) CreateAnnouncement(ctx context.Context, p rbac.Principal, na NewAnnouncement) (Announcement, error) {
	if !rbac.Allows(p.Role, rbac.StaffAccess) {
		return Announcement{}, core.ErrForbidden
	}
	if na.Audience == AudienceClass {
		// teachers may only address the classrooms they teach
		if _, err := svc.academicSvc.GetClassRoom(ctx, p, na.ClassRoomID); err != nil {
			if core.IsNotFound(err) {
				return Announcement{}, core.NewFieldError("classroom_id", err.Error())
			}
			return Announcement{}, err
		}
	} else {
		na.ClassRoomID = ""
	}

	now := nowFunc().UTC()
	publishAt := now
	if na.PublishAt.Valid {
		publishAt = na.PublishAt.Time.UTC()
	}
	return svc.repo.CreateAnnouncement(ctx, Announcement{
		Title:       na.Title,
		Content:     na.Content,
		Type:        na.Type,
		Audience:    na.Audience,
		ClassRoomID: null.NewString(na.ClassRoomID, na.ClassRoomID != ""),
		AuthorID:    p.UserID,
		PublishAt:   publishAt,
		ExpiresAt:   na.ExpiresAt,
		IsActive:    true,
		CreatedAt:   now,
	})
}

// visibility fills the filter with what the principal is allowed to see.
func (svc *Service) visibility(ctx context.Context, p rbac.Principal, filter *AnnouncementFilter) error {
	if p.IsAdmin() {
		filter.All = true
		return nil
	}
	filter.Audiences = append([]string{AudienceAll}, roleAudiences[p.Role]...)
	filter.VisibleAt = nowFunc().UTC()
	filter.AuthorID = p.UserID

	// the principal's classrooms: enrolled, children's, or assigned
	classrooms, err := svc.academicSvc.QueryClassRooms(ctx, p, academic.ClassRoomFilter{}, nil)
	if err != nil {
		return errors.Wrap(err, "querying classrooms")
	}
	filter.ClassRoomIDs = make([]string, 0, len(classrooms))
	for _, c := range classrooms {
		filter.ClassRoomIDs = append(filter.ClassRoomIDs, c.ID)
	}
	return nil
}

func (svc *Service) QueryAnnouncements(ctx context.Context, p rbac.Principal, filter AnnouncementFilter, ordering []core.DBOrdering) ([]Announcement, error) {
	if err := svc.visibility(ctx, p, &filter); err != nil {
		return nil, err
	}
	return svc.repo.QueryAnnouncements(ctx, filter, ordering)
}

func (svc *Service) GetAnnouncement(ctx context.Context, p rbac.Principal, id string) (Announcement, error) {
	announcements, err := svc.QueryAnnouncements(ctx, p, AnnouncementFilter{IDs: []string{id}}, nil)
	if err != nil {
		return Announcement{}, errors.Wrap(err, "querying announcements")
	}
	if len(announcements) == 0 {
		return Announcement{}, ErrAnnouncementNotFound
	}
	return announcements[0], nil
}

// Deactivate hides an announcement. Only its author or an admin may do it.
func (svc *Service) Deactivate(ctx context.Context, p rbac.Principal, id string) (Announcement, error) {
	a, err := svc.GetAnnouncement(ctx, p, id)
	if err != nil {
		return Announcement{}, err
	}
	if !p.IsAdmin() && a.AuthorID != p.UserID {
		return Announcement{}, core.ErrForbidden
	}
	a.IsActive = false
	return svc.repo.UpdateAnnouncement(ctx, a)
}

// Notifications

func (svc *Service) Notify(ctx context.Context, userID, typ, title, message, link string, exec ...core.DBExecutor) (Notification, error) {
	return svc.repo.CreateNotification(ctx, Notification{
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		Link:      link,
		CreatedAt: nowFunc().UTC(),
	}, exec...)
}

func (svc *Service) QueryNotifications(ctx context.Context, p rbac.Principal, filter NotificationFilter, ordering []core.DBOrdering) ([]Notification, error) {
	filter.UserID = p.UserID
	return svc.repo.QueryNotifications(ctx, filter, ordering)
}

func (svc *Service) UnreadCount(ctx context.Context, p rbac.Principal) (int, error) {
	return svc.repo.CountUnreadNotifications(ctx, p.UserID)
}

func (svc *Service) MarkRead(ctx context.Context, p rbac.Principal, id string) error {
	n, err := svc.repo.MarkNotificationsRead(ctx, p.UserID, id)
	if err != nil {
		return errors.Wrap(err, "marking notification read")
	}
	if n == 0 {
		// either unknown, someone else's, or already read
		existing, err := svc.repo.QueryNotifications(ctx, NotificationFilter{UserID: p.UserID, IDs: []string{id}}, nil)
		if err != nil {
			return errors.Wrap(err, "querying notifications")
		}
		if len(existing) == 0 {
			return ErrNotificationNotFound
		}
	}
	return nil
}

func (svc *Service) MarkAllRead(ctx context.Context, p rbac.Principal) (int, error) {
	return svc.repo.MarkNotificationsRead(ctx, p.UserID)
}
