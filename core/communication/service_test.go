package communication_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/communication"
	"github.com/eschool-app/eschool/core/rbac"
	"github.com/eschool-app/eschool/core/user"
	"github.com/eschool-app/eschool/tests"
)

var admin = rbac.Principal{UserID: "admin", Role: user.RoleAdmin}

func isValidationErr(err error) bool {
	_, ok := errors.Cause(err).(*core.ValidationError)
	return ok
}

func TestService_messages(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	alice := env.CreateUser(t, user.RoleTeacher, "Alice", "Teacher")
	bob := env.CreateUser(t, user.RoleParent, "Bob", "Parent")
	pa, pb := env.Principal(t, alice), env.Principal(t, bob)

	m, err := env.Communication.Send(ctx, pa, communication.NewMessage{RecipientID: bob.ID, Subject: "Homework", Content: "Please check the homework."})
	require.NoError(t, err)
	assert.Equal(t, alice.ID, m.SenderID)
	assert.False(t, m.IsRead)

	inbox, err := env.Communication.Inbox(ctx, pb, communication.MessageFilter{}, nil)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	outbox, err := env.Communication.Outbox(ctx, pb, communication.MessageFilter{}, nil)
	require.NoError(t, err)
	assert.Empty(t, outbox)

	t.Run("reading marks as read for the recipient only", func(t *testing.T) {
		read, err := env.Communication.Read(ctx, pa, m.ID)
		require.NoError(t, err)
		assert.False(t, read.IsRead)

		read, err = env.Communication.Read(ctx, pb, m.ID)
		require.NoError(t, err)
		assert.True(t, read.IsRead)
		assert.True(t, read.ReadAt.Valid)
	})

	t.Run("reply goes to the other party", func(t *testing.T) {
		r, err := env.Communication.Reply(ctx, pb, m.ID, communication.Reply{Content: "Done."})
		require.NoError(t, err)
		assert.Equal(t, alice.ID, r.RecipientID)
		assert.Equal(t, "Re: Homework", r.Subject)
		assert.Equal(t, m.ID, r.ParentMessageID.String)

		r2, err := env.Communication.Reply(ctx, pa, r.ID, communication.Reply{Content: "Thanks."})
		require.NoError(t, err)
		assert.Equal(t, "Re: Homework", r2.Subject)
		assert.Equal(t, bob.ID, r2.RecipientID)
	})

	t.Run("delete hides one side only", func(t *testing.T) {
		require.NoError(t, env.Communication.Delete(ctx, pb, m.ID))
		_, err := env.Communication.Read(ctx, pb, m.ID)
		assert.Equal(t, communication.ErrMessageNotFound, err)

		outbox, err := env.Communication.Outbox(ctx, pa, communication.MessageFilter{}, nil)
		require.NoError(t, err)
		assert.Len(t, outbox, 2)
	})

	t.Run("strangers cannot read", func(t *testing.T) {
		eve := env.Principal(t, env.CreateUser(t, user.RoleStudent, "Eve", "Student"))
		_, err := env.Communication.Read(ctx, eve, m.ID)
		assert.Equal(t, communication.ErrMessageNotFound, err)
	})

	t.Run("invalid recipients", func(t *testing.T) {
		_, err := env.Communication.Send(ctx, pa, communication.NewMessage{RecipientID: alice.ID, Subject: "Note", Content: "to self"})
		assert.True(t, isValidationErr(err))

		inactive := env.CreateUser(t, user.RoleStudent, "Gone", "Student")
		isActive := false
		_, err = env.User.Update(ctx, inactive.ID, user.UpdateUser{
			FirstName: inactive.FirstName,
			LastName:  inactive.LastName,
			Email:     inactive.Email,
			Role:      inactive.Role,
			IsActive:  &isActive,
		})
		require.NoError(t, err)
		_, err = env.Communication.Send(ctx, pa, communication.NewMessage{RecipientID: inactive.ID, Subject: "Hi", Content: "Hello"})
		assert.True(t, isValidationErr(err))
	})
}

func TestService_announcements(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	class := env.CreateClass(t, 1)
	parent := env.CreateParent(t, "Kofi", "Mensah")
	require.NoError(t, env.School.LinkParent(ctx, class.Students[0].ID, parent.ID))
	outsider := env.CreateStudent(t, "Yaw", "Boateng")

	teacher := env.Principal(t, env.UserOf(t, class.Teacher.UserID))
	student := env.Principal(t, env.UserOf(t, class.Students[0].UserID))
	parentP := env.Principal(t, env.UserOf(t, parent.UserID))
	outsiderP := env.Principal(t, env.UserOf(t, outsider.UserID))

	create := func(p rbac.Principal, na communication.NewAnnouncement) communication.Announcement {
		t.Helper()
		a, err := env.Communication.CreateAnnouncement(ctx, p, na)
		require.NoError(t, err)
		return a
	}
	everyone := create(admin, communication.NewAnnouncement{Title: "Holiday", Content: "School closed", Audience: communication.AudienceAll})
	parents := create(admin, communication.NewAnnouncement{Title: "Meeting", Content: "Parents meeting", Audience: communication.AudienceParents})
	classOnly := create(teacher, communication.NewAnnouncement{Title: "Test", Content: "Maths test", Audience: communication.AudienceClass, ClassRoomID: class.ClassRoom.ID})
	later := create(teacher, communication.NewAnnouncement{
		Title:     "Trip",
		Content:   "Museum trip",
		Audience:  communication.AudienceAll,
		PublishAt: null.TimeFrom(time.Now().Add(48 * time.Hour)),
	})
	expired := create(admin, communication.NewAnnouncement{
		Title:     "Old",
		Content:   "Old news",
		Audience:  communication.AudienceAll,
		PublishAt: null.TimeFrom(time.Now().Add(-48 * time.Hour)),
		ExpiresAt: null.TimeFrom(time.Now().Add(-24 * time.Hour)),
	})

	tests := []struct {
		name string
		p    rbac.Principal
		want []string
	}{
		{"admin", admin, []string{everyone.ID, parents.ID, classOnly.ID, later.ID, expired.ID}},
		{"author", teacher, []string{everyone.ID, classOnly.ID, later.ID}},
		{"student of the class", student, []string{everyone.ID, classOnly.ID}},
		{"parent of a student of the class", parentP, []string{everyone.ID, parents.ID, classOnly.ID}},
		{"other student", outsiderP, []string{everyone.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := env.Communication.QueryAnnouncements(ctx, tt.p, communication.AnnouncementFilter{}, nil)
			require.NoError(t, err)
			ids := make([]string, 0, len(list))
			for _, a := range list {
				ids = append(ids, a.ID)
			}
			assert.ElementsMatch(t, tt.want, ids)
		})
	}

	t.Run("writers", func(t *testing.T) {
		_, err := env.Communication.CreateAnnouncement(ctx, student, communication.NewAnnouncement{Title: "Hi", Content: "Hi", Audience: communication.AudienceAll})
		assert.Equal(t, core.ErrForbidden, err)

		other := env.CreateClassRoom(t, class.Year.ID, "5B")
		_, err = env.Communication.CreateAnnouncement(ctx, teacher, communication.NewAnnouncement{Title: "Hi", Content: "Hi", Audience: communication.AudienceClass, ClassRoomID: other.ID})
		assert.True(t, isValidationErr(err), "teachers only address their classrooms")
	})

	t.Run("deactivate", func(t *testing.T) {
		_, err := env.Communication.Deactivate(ctx, teacher, everyone.ID)
		assert.Equal(t, core.ErrForbidden, err)

		a, err := env.Communication.Deactivate(ctx, teacher, classOnly.ID)
		require.NoError(t, err)
		assert.False(t, a.IsActive)

		_, err = env.Communication.GetAnnouncement(ctx, student, classOnly.ID)
		assert.Equal(t, communication.ErrAnnouncementNotFound, err)
	})
}

func TestService_notifications(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	usr := env.CreateUser(t, user.RoleParent, "Kofi", "Mensah")
	p := env.Principal(t, usr)
	other := env.Principal(t, env.CreateUser(t, user.RoleParent, "Esi", "Boateng"))

	var ids []string
	for _, typ := range []string{communication.NotificationInfo, communication.NotificationPayment, communication.NotificationPayment} {
		n, err := env.Communication.Notify(ctx, usr.ID, typ, "Title", "Message", "/somewhere")
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}

	count, err := env.Communication.UnreadCount(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	payments, err := env.Communication.QueryNotifications(ctx, p, communication.NotificationFilter{Type: communication.NotificationPayment}, nil)
	require.NoError(t, err)
	assert.Len(t, payments, 2)

	require.NoError(t, env.Communication.MarkRead(ctx, p, ids[0]))
	require.NoError(t, env.Communication.MarkRead(ctx, p, ids[0]), "marking twice is fine")
	assert.Equal(t, communication.ErrNotificationNotFound, env.Communication.MarkRead(ctx, other, ids[1]))

	isRead := false
	unread, err := env.Communication.QueryNotifications(ctx, p, communication.NotificationFilter{IsRead: &isRead}, nil)
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	n, err := env.Communication.MarkAllRead(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err = env.Communication.UnreadCount(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	none, err := env.Communication.QueryNotifications(ctx, other, communication.NotificationFilter{}, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}
