package dummydb

import (
	"context"
	"sort"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/communication"
)

type communicationRepository struct {
	db *DB
}

var _ communication.Repository = (*communicationRepository)(nil) // interface compliance check

func NewCommunicationRepository(db *DB) *communicationRepository {
	return &communicationRepository{db: db}
}

// Messages

func (repo *communicationRepository) CreateMessage(ctx context.Context, m communication.Message) (communication.Message, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	m.ID = newID()
	stored := m
	repo.db.messages[m.ID] = &stored
	return m, nil
}

func (repo *communicationRepository) UpdateMessage(ctx context.Context, m communication.Message) (communication.Message, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	existing, ok := repo.db.messages[m.ID]
	if !ok {
		return communication.Message{}, communication.ErrMessageNotFound
	}
	existing.IsRead = m.IsRead
	existing.ReadAt = m.ReadAt
	existing.DeletedBySender = m.DeletedBySender
	existing.DeletedByRecipient = m.DeletedByRecipient
	return m, nil
}

func (repo *communicationRepository) QueryMessages(ctx context.Context, filter communication.MessageFilter, ordering []core.DBOrdering) ([]communication.Message, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	messages := make([]communication.Message, 0)
	for _, m := range repo.db.messages {
		received := m.RecipientID == filter.UserID && !m.DeletedByRecipient
		sent := m.SenderID == filter.UserID && !m.DeletedBySender
		var inBox bool
		switch filter.Box {
		case communication.Inbox:
			inBox = received
		case communication.Outbox:
			inBox = sent
		default:
			inBox = received || sent
		}
		if !inBox ||
			!matchSearch(filter.Search, m.Subject, m.Content) ||
			(filter.IsRead != nil && m.IsRead != *filter.IsRead) ||
			!inIDs(filter.IDs, m.ID) {
			continue
		}
		messages = append(messages, *m)
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].SentAt.After(messages[j].SentAt) })
	return messages, nil
}

// Announcements

func (repo *communicationRepository) CreateAnnouncement(ctx context.Context, a communication.Announcement) (communication.Announcement, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	a.ID = newID()
	stored := a
	repo.db.announcements[a.ID] = &stored
	return a, nil
}

func (repo *communicationRepository) UpdateAnnouncement(ctx context.Context, a communication.Announcement) (communication.Announcement, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.announcements[a.ID]; !ok {
		return communication.Announcement{}, communication.ErrAnnouncementNotFound
	}
	stored := a
	repo.db.announcements[a.ID] = &stored
	return a, nil
}

func (repo *communicationRepository) QueryAnnouncements(ctx context.Context, filter communication.AnnouncementFilter, ordering []core.DBOrdering) ([]communication.Announcement, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	announcements := make([]communication.Announcement, 0)
	for _, a := range repo.db.announcements {
		if (filter.Type != "" && a.Type != filter.Type) || !inIDs(filter.IDs, a.ID) {
			continue
		}
		if !filter.All {
			audience := core.ContainsString(filter.Audiences, a.Audience) ||
				(a.Audience == communication.AudienceClass && core.ContainsString(filter.ClassRoomIDs, a.ClassRoomID.String))
			own := filter.AuthorID != "" && a.AuthorID == filter.AuthorID
			if !own && !(audience && a.VisibleAt(filter.VisibleAt)) {
				continue
			}
		}
		announcements = append(announcements, *a)
	}
	sort.Slice(announcements, func(i, j int) bool { return announcements[i].PublishAt.After(announcements[j].PublishAt) })
	return announcements, nil
}

// Notifications

func (repo *communicationRepository) CreateNotification(ctx context.Context, n communication.Notification, exec ...core.DBExecutor) (communication.Notification, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	n.ID = newID()
	stored := n
	repo.db.notifications[n.ID] = &stored
	return n, nil
}

func (repo *communicationRepository) QueryNotifications(ctx context.Context, filter communication.NotificationFilter, ordering []core.DBOrdering) ([]communication.Notification, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	notifications := make([]communication.Notification, 0)
	for _, n := range repo.db.notifications {
		if n.UserID != filter.UserID ||
			(filter.IsRead != nil && n.IsRead != *filter.IsRead) ||
			(filter.Type != "" && n.Type != filter.Type) ||
			!inIDs(filter.IDs, n.ID) {
			continue
		}
		notifications = append(notifications, *n)
	}
	sort.Slice(notifications, func(i, j int) bool { return notifications[i].CreatedAt.After(notifications[j].CreatedAt) })
	return notifications, nil
}

func (repo *communicationRepository) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	count := 0
	for _, n := range repo.db.notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (repo *communicationRepository) MarkNotificationsRead(ctx context.Context, userID string, ids ...string) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	marked := 0
	for _, n := range repo.db.notifications {
		if n.UserID == userID && !n.IsRead && inIDs(ids, n.ID) {
			n.IsRead = true
			marked++
		}
	}
	return marked, nil
}
