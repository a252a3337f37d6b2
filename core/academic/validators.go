package academic

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/eschool-app/eschool/core"
)

var (
	dateRequiredTag  = "daterequired"
	dateRequiredText = "{0} is required"

	afterStartTag  = "afterstart"
	afterStartText = "{0} must be after the start"

	scoreMaxTag  = "scoremax"
	scoreMaxText = "score cannot exceed the maximum score"
)

// InitValidators registers the academic validators & translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(academicStructValidation,
		NewAcademicYear{}, NewPeriod{}, NewTimetableSlot{}, NewGrade{})
	registerFieldTranslation(validate, translator, dateRequiredTag, dateRequiredText)
	registerFieldTranslation(validate, translator, afterStartTag, afterStartText)
	core.RegisterCustomTranslation(validate, translator, scoreMaxTag, scoreMaxText)
}

// registerFieldTranslation is RegisterCustomTranslation for texts holding the field name.
func registerFieldTranslation(validate *validator.Validate, translator ut.Translator, tag, text string) {
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, false) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

func academicStructValidation(sl validator.StructLevel) {
	switch v := sl.Current().Interface().(type) {
	case NewAcademicYear:
		validateDateRange(sl, v.StartDate, v.EndDate)
	case NewPeriod:
		validateDateRange(sl, v.StartDate, v.EndDate)
	case NewTimetableSlot:
		if v.EndTime <= v.StartTime {
			sl.ReportError(v.EndTime, "end_time", "EndTime", afterStartTag, "")
		}
	case NewGrade:
		if v.Score > v.MaxScore {
			sl.ReportError(v.Score, "score", "Score", scoreMaxTag, "")
		}
	}
}

func validateDateRange(sl validator.StructLevel, start, end core.Date) {
	switch {
	case start.IsZero():
		sl.ReportError(start, "start_date", "StartDate", dateRequiredTag, "")
	case end.IsZero():
		sl.ReportError(end, "end_date", "EndDate", dateRequiredTag, "")
	case !end.After(start):
		sl.ReportError(end, "end_date", "EndDate", afterStartTag, "")
	}
}
