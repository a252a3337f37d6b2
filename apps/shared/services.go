// Package shared wires the domain services shared by the API and the admin CLI.
package shared

import (
	"github.com/jmoiron/sqlx"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/academic"
	"github.com/eschool-app/eschool/core/activity"
	"github.com/eschool-app/eschool/core/attendance"
	"github.com/eschool-app/eschool/core/communication"
	"github.com/eschool-app/eschool/core/finance"
	"github.com/eschool-app/eschool/core/school"
	"github.com/eschool-app/eschool/core/user"
	"github.com/eschool-app/eschool/storage/database"
	dummydb "github.com/eschool-app/eschool/storage/database/dummy"
	sqlxrepos "github.com/eschool-app/eschool/storage/database/sqlx"
)

type (
	// Repositories groups one repository per domain.
	Repositories struct {
		Tx            core.Transactor
		User          user.Repository
		School        school.Repository
		Academic      academic.Repository
		Attendance    attendance.Repository
		Finance       finance.Repository
		Communication communication.Repository
		Activity      activity.Repository
	}

	Services struct {
		User          *user.Service
		School        *school.Service
		Academic      *academic.Service
		Attendance    *attendance.Service
		Finance       *finance.Service
		Communication *communication.Service
		Recorder      *activity.Recorder
	}
)

// SQLRepositories returns the PostgreSQL repositories.
func SQLRepositories(db *sqlx.DB) Repositories {
	return Repositories{
		Tx:            database.NewTransactor(db),
		User:          sqlxrepos.NewUserRepository(db),
		School:        sqlxrepos.NewSchoolRepository(db),
		Academic:      sqlxrepos.NewAcademicRepository(db),
		Attendance:    sqlxrepos.NewAttendanceRepository(db),
		Finance:       sqlxrepos.NewFinanceRepository(db),
		Communication: sqlxrepos.NewCommunicationRepository(db),
		Activity:      sqlxrepos.NewActivityRepository(db),
	}
}

// DummyRepositories returns in-memory repositories. Used in tests.
func DummyRepositories(db *dummydb.DB) Repositories {
	return Repositories{
		Tx:            &dummydb.Transactor{},
		User:          dummydb.NewUserRepository(db),
		School:        dummydb.NewSchoolRepository(db),
		Academic:      dummydb.NewAcademicRepository(db),
		Attendance:    dummydb.NewAttendanceRepository(db),
		Finance:       dummydb.NewFinanceRepository(db),
		Communication: dummydb.NewCommunicationRepository(db),
		Activity:      dummydb.NewActivityRepository(db),
	}
}

func NewServices(repos Repositories, mailSvc core.EmailService, logger core.Logger, conf *core.Config) Services {
	usrSvc := user.NewService(repos.User, mailSvc, conf)
	schoolSvc := school.NewService(repos.Tx, repos.School, usrSvc)
	academicSvc := academic.NewService(repos.Tx, repos.Academic, schoolSvc, conf)
	commSvc := communication.NewService(repos.Communication, usrSvc, academicSvc)
	recorder := activity.NewRecorder(repos.Activity, logger)

	return Services{
		User:          usrSvc,
		School:        schoolSvc,
		Academic:      academicSvc,
		Communication: commSvc,
		Recorder:      recorder,
		Attendance: attendance.NewService(
			repos.Tx, repos.Attendance, academicSvc, schoolSvc, commSvc, mailSvc, recorder, logger, conf,
		),
		Finance: finance.NewService(
			repos.Tx, repos.Finance, schoolSvc, commSvc, mailSvc, recorder, logger, conf,
		),
	}
}
