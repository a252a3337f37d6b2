package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/communication"
)

const (
	messageColumns      = `id, sender_id, recipient_id, subject, content, parent_message_id, sent_at, is_read, read_at, deleted_by_sender, deleted_by_recipient`
	announcementColumns = `id, title, content, type, audience, classroom_id, author_id, publish_at, expires_at, is_active, created_at`
	notificationColumns = `id, user_id, type, title, message, link, is_read, created_at`
)

var (
	messageOrderings = map[string]string{
		"sent_at": "sent_at",
		"subject": "subject",
		"is_read": "is_read",
	}
	announcementOrderings = map[string]string{
		"publish_at": "publish_at",
		"title":      "title",
		"type":       "type",
		"created_at": "created_at",
	}
	notificationOrderings = map[string]string{
		"created_at": "created_at",
		"type":       "type",
		"is_read":    "is_read",
	}
)

type communicationRepository struct {
	base
}

var _ communication.Repository = (*communicationRepository)(nil) // interface compliance check

func NewCommunicationRepository(db core.DBExecutor) *communicationRepository {
	return &communicationRepository{base{db: db}}
}

// Messages

func (repo communicationRepository) CreateMessage(ctx context.Context, m communication.Message) (communication.Message, error) {
	m.ID = newID()
	qb := psql.Insert("message").
		Columns("id", "sender_id", "recipient_id", "subject", "content", "parent_message_id", "sent_at", "is_read", "read_at").
		Values(m.ID, m.SenderID, m.RecipientID, m.Subject, m.Content, m.ParentMessageID, m.SentAt, m.IsRead, m.ReadAt)
	if _, err := repo.exec(ctx, repo.db, qb); err != nil {
		return communication.Message{}, errors.Wrap(err, "inserting message")
	}
	return m, nil
}

func (repo communicationRepository) UpdateMessage(ctx context.Context, m communication.Message) (communication.Message, error) {
	qb := psql.Update("message").
		SetMap(map[string]interface{}{
			"is_read":              m.IsRead,
			"read_at":              m.ReadAt,
			"deleted_by_sender":    m.DeletedBySender,
			"deleted_by_recipient": m.DeletedByRecipient,
		}).
		Where(sq.Eq{"id": m.ID})
	n, err := repo.exec(ctx, repo.db, qb)
	if err != nil {
		return communication.Message{}, errors.Wrap(err, "updating message")
	}
	if n == 0 {
		return communication.Message{}, communication.ErrMessageNotFound
	}
	return m, nil
}

func (repo communicationRepository) QueryMessages(ctx context.Context, filter communication.MessageFilter, ordering []core.DBOrdering) ([]communication.Message, error) {
	received := sq.And{sq.Eq{"recipient_id": filter.UserID}, sq.Eq{"deleted_by_recipient": false}}
	sent := sq.And{sq.Eq{"sender_id": filter.UserID}, sq.Eq{"deleted_by_sender": false}}

	qb := psql.Select(messageColumns).From("message").
		OrderBy(orderBy(ordering, messageOrderings, "sent_at DESC")...)
	switch filter.Box {
	case communication.Inbox:
		qb = qb.Where(received)
	case communication.Outbox:
		qb = qb.Where(sent)
	default:
		qb = qb.Where(sq.Or{received, sent})
	}
	if filter.Search != "" {
		qb = qb.Where(ilike(filter.Search, "subject", "content"))
	}
	if filter.IsRead != nil {
		qb = qb.Where(sq.Eq{"is_read": *filter.IsRead})
	}
	if len(filter.IDs) > 0 {
		qb = qb.Where(anyOf("id::text", filter.IDs))
	}

	messages := make([]communication.Message, 0)
	if err := repo.selectAll(ctx, repo.db, &messages, qb); err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	return messages, nil
}

// Announcements

func (repo communicationRepository) CreateAnnouncement(ctx context.Context, a communication.Announcement) (communication.Announcement, error) {
	a.ID = newID()
	qb := psql.Insert("announcement").
		Columns("id", "title", "content", "type", "audience", "classroom_id", "author_id", "publish_at", "expires_at", "is_active", "created_at").
		Values(a.ID, a.Title, a.Content, a.Type, a.Audience, a.ClassRoomID, a.AuthorID, a.PublishAt, a.ExpiresAt, a.IsActive, a.CreatedAt)
	if _, err := repo.exec(ctx, repo.db, qb); err != nil {
		return communication.Announcement{}, errors.Wrap(err, "inserting announcement")
	}
	return a, nil
}

func (repo communicationRepository) UpdateAnnouncement(ctx context.Context, a communication.Announcement) (communication.Announcement, error) {
	qb := psql.Update("announcement").
		SetMap(map[string]interface{}{
			"title":      a.Title,
			"content":    a.Content,
			"type":       a.Type,
			"expires_at": a.ExpiresAt,
			"is_active":  a.IsActive,
		}).
		Where(sq.Eq{"id": a.ID})
	n, err := repo.exec(ctx, repo.db, qb)
	if err != nil {
		return communication.Announcement{}, errors.Wrap(err, "updating announcement")
	}
	if n == 0 {
		return communication.Announcement{}, communication.ErrAnnouncementNotFound
	}
	return a, nil
}

func (repo communicationRepository) QueryAnnouncements(ctx context.Context, filter communication.AnnouncementFilter, ordering []core.DBOrdering) ([]communication.Announcement, error) {
	qb := psql.Select(announcementColumns).From("announcement").
		OrderBy(orderBy(ordering, announcementOrderings, "publish_at DESC")...)
	if filter.Type != "" {
		qb = qb.Where(sq.Eq{"type": filter.Type})
	}
	if len(filter.IDs) > 0 {
		qb = qb.Where(anyOf("id::text", filter.IDs))
	}
	if !filter.All {
		visible := sq.And{
			sq.Eq{"is_active": true},
			sq.LtOrEq{"publish_at": filter.VisibleAt},
			sq.Or{sq.Eq{"expires_at": nil}, sq.Gt{"expires_at": filter.VisibleAt}},
			sq.Or{
				anyOf("audience", filter.Audiences),
				sq.And{sq.Eq{"audience": communication.AudienceClass}, anyOf("classroom_id::text", filter.ClassRoomIDs)},
			},
		}
		if filter.AuthorID != "" {
			qb = qb.Where(sq.Or{visible, sq.Eq{"author_id": filter.AuthorID}})
		} else {
			qb = qb.Where(visible)
		}
	}

	announcements := make([]communication.Announcement, 0)
	if err := repo.selectAll(ctx, repo.db, &announcements, qb); err != nil {
		return nil, errors.Wrap(err, "querying announcements")
	}
	return announcements, nil
}

// Notifications

func (repo communicationRepository) CreateNotification(ctx context.Context, n communication.Notification, exec ...core.DBExecutor) (communication.Notification, error) {
	n.ID = newID()
	qb := psql.Insert("notification").
		Columns("id", "user_id", "type", "title", "message", "link", "is_read", "created_at").
		Values(n.ID, n.UserID, n.Type, n.Title, n.Message, n.Link, n.IsRead, n.CreatedAt)
	if _, err := repo.exec(ctx, repo.getExec(exec), qb); err != nil {
		return communication.Notification{}, errors.Wrap(err, "inserting notification")
	}
	return n, nil
}

func (repo communicationRepository) QueryNotifications(ctx context.Context, filter communication.NotificationFilter, ordering []core.DBOrdering) ([]communication.Notification, error) {
	qb := psql.Select(notificationColumns).From("notification").
		Where(sq.Eq{"user_id": filter.UserID}).
		OrderBy(orderBy(ordering, notificationOrderings, "created_at DESC")...)
	if filter.IsRead != nil {
		qb = qb.Where(sq.Eq{"is_read": *filter.IsRead})
	}
	if filter.Type != "" {
		qb = qb.Where(sq.Eq{"type": filter.Type})
	}
	if len(filter.IDs) > 0 {
		qb = qb.Where(anyOf("id::text", filter.IDs))
	}

	notifications := make([]communication.Notification, 0)
	if err := repo.selectAll(ctx, repo.db, &notifications, qb); err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}
	return notifications, nil
}

func (repo communicationRepository) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	qb := psql.Select("COUNT(*)").From("notification").
		Where(sq.Eq{"user_id": userID, "is_read": false})
	var count int
	if err := repo.getOne(ctx, repo.db, &count, qb); err != nil {
		return 0, errors.Wrap(err, "counting unread notifications")
	}
	return count, nil
}

func (repo communicationRepository) MarkNotificationsRead(ctx context.Context, userID string, ids ...string) (int, error) {
	qb := psql.Update("notification").
		Set("is_read", true).
		Where(sq.Eq{"user_id": userID, "is_read": false})
	if len(ids) > 0 {
		qb = qb.Where(anyOf("id::text", ids))
	}
	n, err := repo.exec(ctx, repo.db, qb)
	return n, errors.Wrap(err, "marking notifications read")
}
