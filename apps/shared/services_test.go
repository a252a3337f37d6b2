package shared_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschool-app/eschool/apps/shared"
	"github.com/eschool-app/eschool/core"
	emailsvc "github.com/eschool-app/eschool/services/email"
	dummydb "github.com/eschool-app/eschool/storage/database/dummy"
	"github.com/eschool-app/eschool/tests"
)

func TestNewServices_dummy(t *testing.T) {
	db, err := dummydb.Open()
	require.NoError(t, err)

	logger := new(testutil.Logger)
	repos := shared.DummyRepositories(db)
	assert.NotNil(t, repos.Tx)

	var svcs shared.Services
	require.NotPanics(t, func() {
		svcs = shared.NewServices(repos, emailsvc.NewMock(logger), logger, core.NewTestConfig())
	})
	assert.NotNil(t, svcs.User)
	assert.NotNil(t, svcs.School)
	assert.NotNil(t, svcs.Academic)
	assert.NotNil(t, svcs.Attendance)
	assert.NotNil(t, svcs.Finance)
	assert.NotNil(t, svcs.Communication)
	assert.NotNil(t, svcs.Recorder)
}
