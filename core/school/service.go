package school

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/rbac"
	"github.com/eschool-app/eschool/core/user"
)

var (
	// errors
	ErrStudentNotFound = core.NewNotFoundError("student")
	ErrParentNotFound  = core.NewNotFoundError("parent")
	ErrTeacherNotFound = core.NewNotFoundError("teacher")
	ErrProfileExists   = errors.New("this user already has a profile")
	ErrWrongRole       = errors.New("the user's role does not match this profile")

	nowFunc = time.Now // mockable
)

const (
	matriculePrefix  = "STU"
	employeeIDPrefix = "TEA"
)

type (
	Repository interface {
		CreateStudent(ctx context.Context, s Student, exec ...core.DBExecutor) (Student, error)
		UpdateStudent(ctx context.Context, s Student, exec ...core.DBExecutor) (Student, error)
		QueryStudents(ctx context.Context, filter StudentFilter, ordering []core.DBOrdering) ([]Student, error)
		// LastMatricule returns the highest matricule starting with prefix, or "".
		LastMatricule(ctx context.Context, prefix string, exec ...core.DBExecutor) (string, error)

		CreateParent(ctx context.Context, p Parent, exec ...core.DBExecutor) (Parent, error)
		QueryParents(ctx context.Context, filter ParentFilter, ordering []core.DBOrdering) ([]Parent, error)
		LinkParent(ctx context.Context, studentID, parentID string, exec ...core.DBExecutor) error
		UnlinkParent(ctx context.Context, studentID, parentID string) error

		CreateTeacher(ctx context.Context, t Teacher, exec ...core.DBExecutor) (Teacher, error)
		QueryTeachers(ctx context.Context, filter TeacherFilter, ordering []core.DBOrdering) ([]Teacher, error)
		// LastEmployeeID returns the highest employee ID starting with prefix, or "".
		LastEmployeeID(ctx context.Context, prefix string, exec ...core.DBExecutor) (string, error)

		FindProfiles(ctx context.Context, userID string) (rbac.Profiles, error)
	}

	Service struct {
		tx     core.Transactor
		repo   Repository
		usrSvc *user.Service
	}
)

var _ rbac.ProfileFinder = (*Service)(nil)

func NewService(tx core.Transactor, repo Repository, usrSvc *user.Service) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(tx, "tx"),
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(usrSvc, "usrSvc"),
	).CheckAndPanic()

	return &Service{tx: tx, repo: repo, usrSvc: usrSvc}
}

// nextSequence returns prefix+year followed by the 4-digit successor of last.
func nextSequence(prefix string, year int, last string) string {
	base := prefix + strconv.Itoa(year)
	seq := 0
	if strings.HasPrefix(last, base) {
		seq, _ = strconv.Atoi(last[len(base):])
	}
	return fmt.Sprintf("%s%04d", base, seq+1)
}

func (svc *Service) checkProfileUser(ctx context.Context, userID, role string) (user.User, error) {
	usr, err := svc.usrSvc.GetByID(ctx, userID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return user.User{}, core.NewFieldError("user_id", err.Error())
		}
		return user.User{}, errors.Wrap(err, "finding user")
	}
	if usr.Role != role {
		return user.User{}, core.NewFieldError("user_id", ErrWrongRole.Error())
	}
	profiles, err := svc.repo.FindProfiles(ctx, userID)
	if err != nil {
		return user.User{}, errors.Wrap(err, "finding profiles")
	}
	if profiles.StudentID != "" || profiles.ParentID != "" || profiles.TeacherID != "" {
		return user.User{}, core.NewFieldError("user_id", ErrProfileExists.Error())
	}
	return usr, nil
}

func (svc *Service) CreateStudent(ctx context.Context, ns NewStudent) (Student, error) {
	if _, err := svc.checkProfileUser(ctx, ns.UserID, user.RoleStudent); err != nil {
		return Student{}, err
	}

	today := core.DateOf(nowFunc())
	if ns.EnrollmentDate.IsZero() {
		ns.EnrollmentDate = today
	}

	var created Student
	err := svc.tx.RunInTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		last, err := svc.repo.LastMatricule(ctx, matriculePrefix+strconv.Itoa(today.Year()), exec)
		if err != nil {
			return errors.Wrap(err, "finding last matricule")
		}
		created, err = svc.repo.CreateStudent(ctx, Student{
			UserID:         ns.UserID,
			Matricule:      nextSequence(matriculePrefix, today.Year(), last),
			DateOfBirth:    ns.DateOfBirth,
			EnrollmentDate: ns.EnrollmentDate,
			CreatedAt:      nowFunc().UTC(),
		}, exec)
		if err != nil {
			return errors.Wrap(err, "creating student")
		}
		for _, parentID := range ns.ParentIDs {
			if err := svc.repo.LinkParent(ctx, created.ID, parentID, exec); err != nil {
				return errors.Wrap(err, "linking parent")
			}
		}
		created.ParentIDs = ns.ParentIDs
		return nil
	})
	if err != nil {
		return Student{}, err
	}
	return svc.GetStudent(ctx, rbac.Principal{Role: user.RoleAdmin}, created.ID)
}

func (svc *Service) CreateParent(ctx context.Context, np NewParent) (Parent, error) {
	if _, err := svc.checkProfileUser(ctx, np.UserID, user.RoleParent); err != nil {
		return Parent{}, err
	}
	created, err := svc.repo.CreateParent(ctx, Parent{
		UserID:       np.UserID,
		Profession:   np.Profession,
		Workplace:    np.Workplace,
		Relationship: np.Relationship,
		CreatedAt:    nowFunc().UTC(),
	})
	if err != nil {
		return Parent{}, errors.Wrap(err, "creating parent")
	}
	return svc.GetParent(ctx, rbac.Principal{Role: user.RoleAdmin}, created.ID)
}

func (svc *Service) CreateTeacher(ctx context.Context, nt NewTeacher) (Teacher, error) {
	if _, err := svc.checkProfileUser(ctx, nt.UserID, user.RoleTeacher); err != nil {
		return Teacher{}, err
	}

	today := core.DateOf(nowFunc())
	if nt.HireDate.IsZero() {
		nt.HireDate = today
	}

	var created Teacher
	err := svc.tx.RunInTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		last, err := svc.repo.LastEmployeeID(ctx, employeeIDPrefix+strconv.Itoa(today.Year()), exec)
		if err != nil {
			return errors.Wrap(err, "finding last employee ID")
		}
		created, err = svc.repo.CreateTeacher(ctx, Teacher{
			UserID:           nt.UserID,
			EmployeeID:       nextSequence(employeeIDPrefix, today.Year(), last),
			HireDate:         nt.HireDate,
			Specialization:   nt.Specialization,
			IsHeadTeacher:    nt.IsHeadTeacher,
			IsActiveEmployee: true,
			CreatedAt:        nowFunc().UTC(),
		}, exec)
		return errors.Wrap(err, "creating teacher")
	})
	if err != nil {
		return Teacher{}, err
	}
	return svc.GetTeacher(ctx, rbac.Principal{Role: user.RoleAdmin}, created.ID)
}

func (svc *Service) LinkParent(ctx context.Context, studentID, parentID string) error {
	admin := rbac.Principal{Role: user.RoleAdmin}
	if _, err := svc.GetStudent(ctx, admin, studentID); err != nil {
		return err
	}
	if _, err := svc.GetParent(ctx, admin, parentID); err != nil {
		return err
	}
	return svc.repo.LinkParent(ctx, studentID, parentID)
}

func (svc *Service) UnlinkParent(ctx context.Context, studentID, parentID string) error {
	return svc.repo.UnlinkParent(ctx, studentID, parentID)
}

func (svc *Service) QueryStudents(ctx context.Context, p rbac.Principal, filter StudentFilter, ordering []core.DBOrdering) ([]Student, error) {
	filter.Scope = p.Scope(rbac.Students)
	if filter.Scope.Empty() {
		return nil, nil
	}
	return svc.repo.QueryStudents(ctx, filter, ordering)
}

func (svc *Service) GetStudent(ctx context.Context, p rbac.Principal, id string) (Student, error) {
	students, err := svc.QueryStudents(ctx, p, StudentFilter{IDs: []string{id}}, nil)
	if err != nil {
		return Student{}, errors.Wrap(err, "querying students")
	}
	if len(students) == 0 {
		return Student{}, ErrStudentNotFound
	}
	return students[0], nil
}

// Graduate marks a student as graduated on date.
func (svc *Service) Graduate(ctx context.Context, id string, date core.Date) (Student, error) {
	s, err := svc.GetStudent(ctx, rbac.Principal{Role: user.RoleAdmin}, id)
	if err != nil {
		return Student{}, err
	}
	if date.IsZero() {
		date = core.DateOf(nowFunc())
	}
	s.IsGraduated = true
	s.GraduationDate = date
	s.CurrentClassID = null.String{}
	return svc.repo.UpdateStudent(ctx, s)
}

// SetCurrentClass updates the student's current classroom; an empty classRoomID clears it.
func (svc *Service) SetCurrentClass(ctx context.Context, studentID, classRoomID string, exec ...core.DBExecutor) error {
	s, err := svc.GetStudent(ctx, rbac.Principal{Role: user.RoleAdmin}, studentID)
	if err != nil {
		return err
	}
	s.CurrentClassID = null.NewString(classRoomID, classRoomID != "")
	_, err = svc.repo.UpdateStudent(ctx, s, exec...)
	return err
}

func (svc *Service) QueryParents(ctx context.Context, p rbac.Principal, filter ParentFilter, ordering []core.DBOrdering) ([]Parent, error) {
	filter.Scope = p.Scope(rbac.Parents)
	if filter.Scope.Empty() {
		return nil, nil
	}
	return svc.repo.QueryParents(ctx, filter, ordering)
}

func (svc *Service) GetParent(ctx context.Context, p rbac.Principal, id string) (Parent, error) {
	parents, err := svc.QueryParents(ctx, p, ParentFilter{IDs: []string{id}}, nil)
	if err != nil {
		return Parent{}, errors.Wrap(err, "querying parents")
	}
	if len(parents) == 0 {
		return Parent{}, ErrParentNotFound
	}
	return parents[0], nil
}

// ParentsOf returns the parents of a student, whatever the caller.
func (svc *Service) ParentsOf(ctx context.Context, studentID string) ([]Parent, error) {
	return svc.repo.QueryParents(ctx, ParentFilter{StudentID: studentID, Scope: rbac.All()}, nil)
}

func (svc *Service) QueryTeachers(ctx context.Context, p rbac.Principal, filter TeacherFilter, ordering []core.DBOrdering) ([]Teacher, error) {
	filter.Scope = p.Scope(rbac.Teachers)
	if filter.Scope.Empty() {
		return nil, nil
	}
	return svc.repo.QueryTeachers(ctx, filter, ordering)
}

func (svc *Service) GetTeacher(ctx context.Context, p rbac.Principal, id string) (Teacher, error) {
	teachers, err := svc.QueryTeachers(ctx, p, TeacherFilter{IDs: []string{id}}, nil)
	if err != nil {
		return Teacher{}, errors.Wrap(err, "querying teachers")
	}
	if len(teachers) == 0 {
		return Teacher{}, ErrTeacherNotFound
	}
	return teachers[0], nil
}

func (svc *Service) FindProfiles(ctx context.Context, userID string) (rbac.Profiles, error) {
	return svc.repo.FindProfiles(ctx, userID)
}
