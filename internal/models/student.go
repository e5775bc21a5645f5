package models

import "time"

// Gender is the canonical gender enum stored for a student.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Status tracks the enrollment decision for a student and drives the
// cohort and report filters.
type Status string

const (
	StatusJoined    Status = "joined"
	StatusPostponed Status = "postponed"
	StatusMoved     Status = "moved"
	StatusRejected  Status = "rejected"
)

// AgeGroup buckets a student's age at the last save.
type AgeGroup string

const (
	AgeGroupUnder7 AgeGroup = "under-7"
	AgeGroup7To10  AgeGroup = "7-10"
	AgeGroup11To13 AgeGroup = "11-13"
	AgeGroup14Plus AgeGroup = "14-plus"
)

// Arabic UI labels for genders and statuses. The store and the JSON API
// carry the canonical slugs; labels appear only at the spreadsheet
// import/export boundary.
var genderLabels = map[Gender]string{
	GenderMale:   "ذكر",
	GenderFemale: "أنثى",
}

var statusLabels = map[Status]string{
	StatusJoined:    "تم الانضمام",
	StatusPostponed: "مؤجل",
	StatusMoved:     "دخل لمدرسة أخرى",
	StatusRejected:  "رُفِض",
}

// Levels is the closed list of grade levels a student can hold.
var Levels = []string{
	"تحضيري",
	"1 إبتدائي",
	"2 إبتدائي",
	"3 إبتدائي",
	"4 إبتدائي",
	"5 إبتدائي",
	"1 متوسط",
	"2 متوسط",
	"3 متوسط",
	"4 متوسط",
	"1 ثانوي",
	"2 ثانوي",
	"3 ثانوي",
	"جامعي",
	"متخرج",
	"غير متمدرس",
	"خاتم",
}

// Student is the sole entity of the registry: one learner's full record.
// age and age_group are a cache computed at write time from birth_date;
// nothing recomputes them in the background, so a record edited long after
// creation keeps its stale values until the next save.
type Student struct {
	ID               string    `db:"id" json:"id"`
	OwnerID          string    `db:"owner_id" json:"-"`
	FullName         string    `db:"full_name" json:"full_name"`
	Gender           Gender    `db:"gender" json:"gender"`
	BirthDate        time.Time `db:"birth_date" json:"birth_date"`
	Age              int       `db:"age" json:"age"`
	AgeGroup         AgeGroup  `db:"age_group" json:"age_group"`
	Level            string    `db:"level" json:"level"`
	GuardianName     string    `db:"guardian_name" json:"guardian_name"`
	Phone1           string    `db:"phone1" json:"phone1"`
	Phone2           string    `db:"phone2" json:"phone2,omitempty"`
	Address          string    `db:"address" json:"address"`
	RegistrationDate time.Time `db:"registration_date" json:"registration_date"`
	Status           Status    `db:"status" json:"status"`
	PageNumber       int       `db:"page_number" json:"page_number"`
	ReminderPoints   int       `db:"reminder_points" json:"reminder_points"`
	AssignedSheikh   string    `db:"assigned_sheikh" json:"assigned_sheikh,omitempty"`
	Note             string    `db:"note" json:"note,omitempty"`
}

// StudentFilter encapsulates the list/report filters. Search matches
// name, guardian name and page number as free text.
type StudentFilter struct {
	Levels   []string
	Statuses []Status
	Gender   Gender
	Sheikh   string
	Search   string
}

// StudentPatch carries a partial update; nil fields are left untouched.
// Callers changing BirthDate must supply recomputed Age and AgeGroup —
// the directory never re-derives them on its own.
type StudentPatch struct {
	FullName       *string    `json:"full_name,omitempty"`
	Gender         *Gender    `json:"gender,omitempty"`
	BirthDate      *time.Time `json:"birth_date,omitempty"`
	Age            *int       `json:"age,omitempty"`
	AgeGroup       *AgeGroup  `json:"age_group,omitempty"`
	Level          *string    `json:"level,omitempty"`
	GuardianName   *string    `json:"guardian_name,omitempty"`
	Phone1         *string    `json:"phone1,omitempty"`
	Phone2         *string    `json:"phone2,omitempty"`
	Address        *string    `json:"address,omitempty"`
	Status         *Status    `json:"status,omitempty"`
	PageNumber     *int       `json:"page_number,omitempty"`
	AssignedSheikh *string    `json:"assigned_sheikh,omitempty"`
	Note           *string    `json:"note,omitempty"`
}

// IsZero reports whether the patch touches no field at all.
func (p StudentPatch) IsZero() bool {
	return p == StudentPatch{}
}

// BulkPatch pairs a student id with the fields to merge into it.
type BulkPatch struct {
	ID    string       `json:"id"`
	Patch StudentPatch `json:"fields"`
}

// CalculateAge returns the whole years between birthDate and now,
// decrementing when the birthday has not yet occurred this year.
func CalculateAge(birthDate, now time.Time) int {
	age := now.Year() - birthDate.Year()
	if now.Month() < birthDate.Month() ||
		(now.Month() == birthDate.Month() && now.Day() < birthDate.Day()) {
		age--
	}
	return age
}

// AgeGroupFor maps an age onto its fixed bucket.
func AgeGroupFor(age int) AgeGroup {
	switch {
	case age < 7:
		return AgeGroupUnder7
	case age <= 10:
		return AgeGroup7To10
	case age <= 13:
		return AgeGroup11To13
	default:
		return AgeGroup14Plus
	}
}

// ValidLevel reports whether level belongs to the closed grade list.
func ValidLevel(level string) bool {
	for _, l := range Levels {
		if l == level {
			return true
		}
	}
	return false
}

// Label returns the Arabic UI label for the gender.
func (g Gender) Label() string { return genderLabels[g] }

// Label returns the Arabic UI label for the status.
func (s Status) Label() string { return statusLabels[s] }

// ParseGender resolves an Arabic label or canonical slug.
func ParseGender(raw string) (Gender, bool) {
	switch raw {
	case "ذكر", string(GenderMale):
		return GenderMale, true
	case "أنثى", string(GenderFemale):
		return GenderFemale, true
	}
	return "", false
}

// ParseStatus resolves an Arabic label or canonical slug. Both historic
// rejected spellings are accepted.
func ParseStatus(raw string) (Status, bool) {
	switch raw {
	case "تم الانضمام", string(StatusJoined):
		return StatusJoined, true
	case "مؤجل", string(StatusPostponed):
		return StatusPostponed, true
	case "دخل لمدرسة أخرى", string(StatusMoved):
		return StatusMoved, true
	case "رُفِض", "مرفوض", string(StatusRejected):
		return StatusRejected, true
	}
	return "", false
}
