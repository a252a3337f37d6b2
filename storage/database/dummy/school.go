package dummydb

import (
	"context"
	"sort"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/rbac"
	"github.com/eschool-app/eschool/core/school"
)

type schoolRepository struct {
	db *DB
}

var _ school.Repository = (*schoolRepository)(nil) // interface compliance check

func NewSchoolRepository(db *DB) *schoolRepository {
	return &schoolRepository{db: db}
}

func (repo *schoolRepository) hasProfile(userID string) bool {
	for _, s := range repo.db.students {
		if s.UserID == userID {
			return true
		}
	}
	for _, p := range repo.db.parents {
		if p.UserID == userID {
			return true
		}
	}
	for _, t := range repo.db.teachers {
		if t.UserID == userID {
			return true
		}
	}
	return false
}

func (repo *schoolRepository) parentIDs(studentID string) []string {
	ids := make([]string, 0)
	for link := range repo.db.links {
		if link[0] == studentID {
			ids = append(ids, link[1])
		}
	}
	sort.Strings(ids)
	return ids
}

func (repo *schoolRepository) childIDs(parentID string) []string {
	ids := make([]string, 0)
	for link := range repo.db.links {
		if link[1] == parentID {
			ids = append(ids, link[0])
		}
	}
	sort.Strings(ids)
	return ids
}

// Students

func (repo *schoolRepository) CreateStudent(ctx context.Context, s school.Student, exec ...core.DBExecutor) (school.Student, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if repo.hasProfile(s.UserID) {
		return school.Student{}, school.ErrProfileExists
	}
	s.ID = newID()
	s.ParentIDs = nil
	repo.db.students[s.ID] = &s
	return s, nil
}

func (repo *schoolRepository) UpdateStudent(ctx context.Context, s school.Student, exec ...core.DBExecutor) (school.Student, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	existing, ok := repo.db.students[s.ID]
	if !ok {
		return school.Student{}, school.ErrStudentNotFound
	}
	existing.DateOfBirth = s.DateOfBirth
	existing.EnrollmentDate = s.EnrollmentDate
	existing.CurrentClassID = s.CurrentClassID
	existing.IsGraduated = s.IsGraduated
	existing.GraduationDate = s.GraduationDate
	return s, nil
}

func (repo *schoolRepository) QueryStudents(ctx context.Context, filter school.StudentFilter, ordering []core.DBOrdering) ([]school.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	students := make([]school.Student, 0)
	for _, s := range repo.db.students {
		st := *s
		st.Person = repo.db.person(s.UserID)
		if !matchSearch(filter.Search, st.FirstName, st.LastName, st.Email, st.Matricule) ||
			(filter.ClassRoomID != "" && st.CurrentClassID.String != filter.ClassRoomID) ||
			(filter.IsGraduated != nil && st.IsGraduated != *filter.IsGraduated) ||
			(filter.ParentID != "" && !repo.db.links[[2]string{st.ID, filter.ParentID}]) ||
			!inIDs(filter.IDs, st.ID) ||
			(filter.UserID != "" && st.UserID != filter.UserID) ||
			!repo.db.byStudent(filter.Scope, st.ID) {
			continue
		}
		st.ParentIDs = repo.parentIDs(st.ID)
		students = append(students, st)
	}
	sort.Slice(students, func(i, j int) bool {
		if students[i].LastName != students[j].LastName {
			return students[i].LastName < students[j].LastName
		}
		return students[i].FirstName < students[j].FirstName
	})
	return students, nil
}

func (repo *schoolRepository) LastMatricule(ctx context.Context, prefix string, exec ...core.DBExecutor) (string, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	values := make([]string, 0, len(repo.db.students))
	for _, s := range repo.db.students {
		values = append(values, s.Matricule)
	}
	return lastWithPrefix(prefix, values), nil
}

// Parents

func (repo *schoolRepository) CreateParent(ctx context.Context, p school.Parent, exec ...core.DBExecutor) (school.Parent, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if repo.hasProfile(p.UserID) {
		return school.Parent{}, school.ErrProfileExists
	}
	p.ID = newID()
	p.ChildIDs = nil
	repo.db.parents[p.ID] = &p
	return p, nil
}

func (repo *schoolRepository) parentVisible(s rbac.Scope, parentID string) bool {
	if s.Kind == rbac.ScopeParent {
		return parentID == s.ParentID
	}
	children := repo.childIDs(parentID)
	return visible(s,
		func(teacherID string) bool {
			students := repo.db.teacherStudents(teacherID)
			for _, id := range children {
				if students[id] {
					return true
				}
			}
			return false
		},
		func(ids []string) bool {
			for _, id := range children {
				if core.ContainsString(ids, id) {
					return true
				}
			}
			return false
		})
}

func (repo *schoolRepository) QueryParents(ctx context.Context, filter school.ParentFilter, ordering []core.DBOrdering) ([]school.Parent, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	parents := make([]school.Parent, 0)
	for _, p := range repo.db.parents {
		pa := *p
		pa.Person = repo.db.person(p.UserID)
		if !matchSearch(filter.Search, pa.FirstName, pa.LastName, pa.Email) ||
			(filter.StudentID != "" && !repo.db.links[[2]string{filter.StudentID, pa.ID}]) ||
			!inIDs(filter.IDs, pa.ID) ||
			(filter.UserID != "" && pa.UserID != filter.UserID) ||
			!repo.parentVisible(filter.Scope, pa.ID) {
			continue
		}
		pa.ChildIDs = repo.childIDs(pa.ID)
		parents = append(parents, pa)
	}
	sort.Slice(parents, func(i, j int) bool { return parents[i].LastName < parents[j].LastName })
	return parents, nil
}

func (repo *schoolRepository) LinkParent(ctx context.Context, studentID, parentID string, exec ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.links[[2]string{studentID, parentID}] = true
	return nil
}

func (repo *schoolRepository) UnlinkParent(ctx context.Context, studentID, parentID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	delete(repo.db.links, [2]string{studentID, parentID})
	return nil
}

// Teachers

func (repo *schoolRepository) CreateTeacher(ctx context.Context, t school.Teacher, exec ...core.DBExecutor) (school.Teacher, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if repo.hasProfile(t.UserID) {
		return school.Teacher{}, school.ErrProfileExists
	}
	t.ID = newID()
	repo.db.teachers[t.ID] = &t
	return t, nil
}

func (repo *schoolRepository) QueryTeachers(ctx context.Context, filter school.TeacherFilter, ordering []core.DBOrdering) ([]school.Teacher, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	teachers := make([]school.Teacher, 0)
	for _, t := range repo.db.teachers {
		te := *t
		te.Person = repo.db.person(t.UserID)
		if !matchSearch(filter.Search, te.FirstName, te.LastName, te.Email, te.EmployeeID, te.Specialization) ||
			(filter.IsActiveEmployee != nil && te.IsActiveEmployee != *filter.IsActiveEmployee) ||
			!inIDs(filter.IDs, te.ID) ||
			(filter.UserID != "" && te.UserID != filter.UserID) {
			continue
		}
		ok := visible(filter.Scope,
			func(teacherID string) bool { return te.ID == teacherID },
			func(ids []string) bool {
				classrooms := repo.db.studentsClassRooms(ids)
				for _, a := range repo.db.assignments {
					if a.TeacherID == te.ID && classrooms[a.ClassRoomID] {
						return true
					}
				}
				return false
			})
		if !ok {
			continue
		}
		teachers = append(teachers, te)
	}
	sort.Slice(teachers, func(i, j int) bool { return teachers[i].LastName < teachers[j].LastName })
	return teachers, nil
}

func (repo *schoolRepository) LastEmployeeID(ctx context.Context, prefix string, exec ...core.DBExecutor) (string, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	values := make([]string, 0, len(repo.db.teachers))
	for _, t := range repo.db.teachers {
		values = append(values, t.EmployeeID)
	}
	return lastWithPrefix(prefix, values), nil
}

func (repo *schoolRepository) FindProfiles(ctx context.Context, userID string) (rbac.Profiles, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var profiles rbac.Profiles
	for _, s := range repo.db.students {
		if s.UserID == userID {
			profiles.StudentID = s.ID
		}
	}
	for _, p := range repo.db.parents {
		if p.UserID == userID {
			profiles.ParentID = p.ID
			profiles.ChildIDs = repo.childIDs(p.ID)
		}
	}
	for _, t := range repo.db.teachers {
		if t.UserID == userID {
			profiles.TeacherID = t.ID
		}
	}
	return profiles, nil
}
